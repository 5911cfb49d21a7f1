package agent

import (
	"context"
	"testing"

	"github.com/pouyahbb/polaris/pkg/domain"
)

type stubGenerator struct {
	out   string
	calls int
}

func (g *stubGenerator) GenerateText(context.Context, string, string) (string, error) {
	g.calls++
	return g.out, nil
}

type recordingTitleStore struct {
	id    string
	title string
}

func (s *recordingTitleStore) SetConversationTitle(id, title string) error {
	s.id, s.title = id, title
	return nil
}

func TestGenerateTitleReplacesPlaceholder(t *testing.T) {
	gen := &stubGenerator{out: "  Todo App Setup \n"}
	store := &recordingTitleStore{}
	conversation := domain.Conversation{ID: "conv-1", Title: domain.DefaultConversationTitle}

	if err := GenerateTitle(context.Background(), gen, store, conversation, "build me a todo app"); err != nil {
		t.Fatalf("generate title: %v", err)
	}
	if store.id != "conv-1" || store.title != "Todo App Setup" {
		t.Fatalf("unexpected title update: %+v", store)
	}
}

func TestGenerateTitleSkipsNamedConversations(t *testing.T) {
	gen := &stubGenerator{out: "Something Else"}
	store := &recordingTitleStore{}
	conversation := domain.Conversation{ID: "conv-1", Title: "My project chat"}

	if err := GenerateTitle(context.Background(), gen, store, conversation, "hello"); err != nil {
		t.Fatalf("generate title: %v", err)
	}
	if gen.calls != 0 || store.title != "" {
		t.Fatalf("named conversation must not be retitled")
	}
}

func TestGenerateTitleIgnoresEmptyOutput(t *testing.T) {
	gen := &stubGenerator{out: "   \n"}
	store := &recordingTitleStore{}
	conversation := domain.Conversation{ID: "conv-1", Title: domain.DefaultConversationTitle}

	if err := GenerateTitle(context.Background(), gen, store, conversation, "hello"); err != nil {
		t.Fatalf("generate title: %v", err)
	}
	if store.title != "" {
		t.Fatalf("blank model output must leave the title unchanged")
	}
}
