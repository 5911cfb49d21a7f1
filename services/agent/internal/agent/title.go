package agent

import (
	"context"
	"strings"

	"github.com/pouyahbb/polaris/pkg/ai"
	"github.com/pouyahbb/polaris/pkg/domain"
)

// TitleStore is the slice of the api surface the title generator needs.
type TitleStore interface {
	SetConversationTitle(id, title string) error
}

// GenerateTitle names a conversation after its first user message. It only
// acts while the conversation still carries the default placeholder title,
// and an empty model response leaves the title untouched.
func GenerateTitle(ctx context.Context, gen ai.TextGenerator, store TitleStore, conversation domain.Conversation, userMessage string) error {
	if conversation.Title != domain.DefaultConversationTitle {
		return nil
	}
	title, err := gen.GenerateText(ctx, titleSystemPrompt, userMessage)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	return store.SetConversationTitle(conversation.ID, title)
}
