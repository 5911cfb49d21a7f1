package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/pouyahbb/polaris/pkg/ai"
	"github.com/pouyahbb/polaris/pkg/domain"
	"github.com/pouyahbb/polaris/pkg/events"
	"github.com/pouyahbb/polaris/pkg/storage"
	"github.com/pouyahbb/polaris/pkg/store"
	apiapp "github.com/pouyahbb/polaris/services/api/app"
	apiserver "github.com/pouyahbb/polaris/services/api/server"
	"github.com/pouyahbb/polaris/services/agent/internal/polarisclient"
	"github.com/pouyahbb/polaris/services/agent/internal/runner"
)

const testToken = "internal-secret"

type scriptedModel struct {
	turns []ai.ChatResponse
	calls int
}

func (m *scriptedModel) Chat(context.Context, []ai.ChatMessage, []ai.ToolDefinition) (ai.ChatResponse, error) {
	if m.calls >= len(m.turns) {
		return ai.ChatResponse{}, errors.New("model unavailable")
	}
	resp := m.turns[m.calls]
	m.calls++
	return resp, nil
}

type offlineFetcher struct{}

func (offlineFetcher) Fetch(context.Context, string) (string, error) {
	return "", errors.New("offline")
}

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }

type workerEnv struct {
	worker *Worker
	store  *store.MemoryStore
	model  *scriptedModel
}

func newWorkerEnv(t *testing.T, model *scriptedModel) workerEnv {
	t.Helper()
	memStore := store.NewMemoryStore()
	core, err := apiapp.New(apiapp.Config{
		Store:   memStore,
		Objects: storage.NewMemoryObjectStore(),
		Bus:     events.NewMemoryBus(),
	})
	if err != nil {
		t.Fatalf("api app: %v", err)
	}
	s, err := apiserver.New(apiserver.Config{App: core, InternalToken: testToken, Limiter: allowAll{}})
	if err != nil {
		t.Fatalf("api server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	r, err := runner.New(runner.Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })

	worker, err := New(Config{
		API:     polarisclient.NewClient(srv.URL, testToken),
		Runner:  r,
		Model:   model,
		Scraper: offlineFetcher{},
	})
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	return workerEnv{worker: worker, store: memStore, model: model}
}

func seedPendingMessage(t *testing.T, memStore *store.MemoryStore) events.MessageSent {
	t.Helper()
	now := time.Now().UTC()
	if err := memStore.CreateProject(domain.Project{ID: "proj-1", OwnerID: "user-1", Name: "demo", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	if err := memStore.CreateConversation(domain.Conversation{ID: "conv-1", ProjectID: "proj-1", Title: domain.DefaultConversationTitle, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	if err := memStore.CreateMessagePair(
		domain.Message{ID: "m-user", ConversationID: "conv-1", Role: domain.RoleUser, Content: "add a readme", Status: domain.StatusCompleted, CreatedAt: now},
		domain.Message{ID: "m-asst", ConversationID: "conv-1", Role: domain.RoleAssistant, Status: domain.StatusProcessing, CreatedAt: now.Add(time.Millisecond)},
	); err != nil {
		t.Fatalf("seed messages: %v", err)
	}
	return events.MessageSent{
		EventID:        "evt-1",
		MessageID:      "m-asst",
		ConversationID: "conv-1",
		ProjectID:      "proj-1",
		Content:        "add a readme",
	}
}

func TestWorkerCompletesMessage(t *testing.T) {
	model := &scriptedModel{turns: []ai.ChatResponse{
		{ToolCalls: []ai.ToolCall{{
			ID:   "c1",
			Name: "createFiles",
			Arguments: map[string]any{
				"files": []any{map[string]any{"name": "README.md", "content": "# Demo"}},
			},
		}}},
		{Text: "I added README.md with a starting heading."},
	}}
	env := newWorkerEnv(t, model)
	evt := seedPendingMessage(t, env.store)

	if err := env.worker.HandleMessageSent(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}

	msg, _, _ := env.store.GetMessage("m-asst")
	if msg.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", msg.Status)
	}
	if msg.Content != "I added README.md with a starting heading." {
		t.Fatalf("unexpected answer: %q", msg.Content)
	}
	if len(msg.ToolTrace) != 1 || msg.ToolTrace[0].Name != "createFiles" || msg.ToolTrace[0].Error != "" {
		t.Fatalf("unexpected tool trace: %+v", msg.ToolTrace)
	}
	files, err := env.store.ListFiles("proj-1")
	if err != nil || len(files) != 1 || files[0].Name != "README.md" {
		t.Fatalf("tool side effect missing: %v %+v", err, files)
	}
}

func TestWorkerWritesApologyOnPermanentFailure(t *testing.T) {
	env := newWorkerEnv(t, &scriptedModel{})
	evt := seedPendingMessage(t, env.store)
	evt.ConversationID = "ghost"

	if err := env.worker.HandleMessageSent(context.Background(), evt); err != nil {
		t.Fatalf("a permanent failure must still ack: %v", err)
	}
	msg, _, _ := env.store.GetMessage("m-asst")
	if msg.Status != domain.StatusCompleted {
		t.Fatalf("expected completed with apology, got %s", msg.Status)
	}
	if !strings.HasPrefix(msg.Content, "My apologies") {
		t.Fatalf("expected apology content, got %q", msg.Content)
	}
}

func TestWorkerWritesApologyAfterRepeatedFailures(t *testing.T) {
	env := newWorkerEnv(t, &scriptedModel{})
	evt := seedPendingMessage(t, env.store)

	for i := 0; i < maxAttempts; i++ {
		if err := env.worker.HandleMessageSent(context.Background(), evt); err == nil {
			t.Fatalf("attempt %d should have failed for redelivery", i+1)
		}
	}
	// the broker redelivers one final time past the attempt budget
	if err := env.worker.HandleMessageSent(context.Background(), evt); err != nil {
		t.Fatalf("exhausted run must ack: %v", err)
	}
	msg, _, _ := env.store.GetMessage("m-asst")
	if !strings.HasPrefix(msg.Content, "My apologies") || msg.Status != domain.StatusCompleted {
		t.Fatalf("expected apology after exhausted retries, got %s %q", msg.Status, msg.Content)
	}
}

func TestWorkerHonorsCancelBeforeStart(t *testing.T) {
	model := &scriptedModel{turns: []ai.ChatResponse{{Text: "should never run"}}}
	env := newWorkerEnv(t, model)
	evt := seedPendingMessage(t, env.store)
	if _, err := env.store.CancelMessage("m-asst"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	env.worker.HandleCancel(context.Background(), events.MessageCancel{MessageIDs: []string{"m-asst"}})

	if err := env.worker.HandleMessageSent(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if model.calls != 0 {
		t.Fatalf("model must not run for a cancelled message")
	}
	msg, _, _ := env.store.GetMessage("m-asst")
	if msg.Status != domain.StatusCancelled || msg.Content != "" {
		t.Fatalf("cancelled message mutated: %+v", msg)
	}
}

func TestWorkerGeneratesTitleOnce(t *testing.T) {
	model := &scriptedModel{turns: []ai.ChatResponse{{Text: "Hello!"}}}
	memStoreEnv := newWorkerEnv(t, model)
	memStoreEnv.worker.titles = &fixedTitleGenerator{title: "Readme Setup"}
	evt := seedPendingMessage(t, memStoreEnv.store)

	if err := memStoreEnv.worker.HandleMessageSent(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}
	conversation, _, _ := memStoreEnv.store.GetConversation("conv-1")
	if conversation.Title != "Readme Setup" {
		t.Fatalf("expected generated title, got %q", conversation.Title)
	}
}

type fixedTitleGenerator struct {
	title string
}

func (g *fixedTitleGenerator) GenerateText(context.Context, string, string) (string, error) {
	return g.title, nil
}
