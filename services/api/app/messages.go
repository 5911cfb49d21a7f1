package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pouyahbb/polaris/internal/util"
	"github.com/pouyahbb/polaris/pkg/domain"
	"github.com/pouyahbb/polaris/pkg/events"
	"github.com/pouyahbb/polaris/pkg/store"
)

// CreateConversation opens a conversation on a project with the placeholder
// title.
func (a *App) CreateConversation(ownerID, projectID string) (domain.Conversation, error) {
	if _, err := a.GetProject(ownerID, projectID); err != nil {
		return domain.Conversation{}, err
	}
	now := time.Now().UTC()
	conversation := domain.Conversation{
		ID:        util.NewID(),
		ProjectID: projectID,
		Title:     domain.DefaultConversationTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateConversation(conversation); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conversation, nil
}

// ListConversations returns a project's conversations.
func (a *App) ListConversations(ownerID, projectID string) ([]domain.Conversation, error) {
	if _, err := a.GetProject(ownerID, projectID); err != nil {
		return nil, err
	}
	return a.store.ListConversationsByProject(projectID)
}

// GetConversation returns a conversation after checking ownership.
func (a *App) GetConversation(ownerID, id string) (domain.Conversation, error) {
	conversation, ok, err := a.store.GetConversation(id)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !ok {
		return domain.Conversation{}, store.ErrConversationNotFound
	}
	if _, err := a.GetProject(ownerID, conversation.ProjectID); err != nil {
		return domain.Conversation{}, err
	}
	return conversation, nil
}

// ListConversationMessages returns a conversation's messages in
// chronological order.
func (a *App) ListConversationMessages(ownerID, conversationID string, limit int) ([]domain.Message, error) {
	if _, err := a.GetConversation(ownerID, conversationID); err != nil {
		return nil, err
	}
	return a.store.ListMessages(conversationID, limit)
}

// SendMessage submits a user message. Any message still processing in the
// same project is cancelled first, then the user message and its assistant
// placeholder are persisted atomically and a message.sent event is
// published for the agent workers.
func (a *App) SendMessage(ctx context.Context, ownerID, conversationID, content string) (domain.Message, domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, domain.Message{}, ErrContentRequired
	}
	conversation, err := a.GetConversation(ownerID, conversationID)
	if err != nil {
		return domain.Message{}, domain.Message{}, err
	}

	if _, err := a.cancelProcessing(ctx, conversation.ProjectID); err != nil {
		return domain.Message{}, domain.Message{}, err
	}

	now := time.Now().UTC()
	userMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        content,
		Status:         domain.StatusCompleted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	assistantMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Status:         domain.StatusProcessing,
		CreatedAt:      now.Add(time.Millisecond),
		UpdatedAt:      now.Add(time.Millisecond),
	}
	if err := a.store.CreateMessagePair(userMsg, assistantMsg); err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("create message pair: %w", err)
	}

	if err := a.bus.PublishMessageSent(ctx, events.MessageSent{
		MessageID:      assistantMsg.ID,
		ConversationID: conversationID,
		ProjectID:      conversation.ProjectID,
		Content:        content,
	}); err != nil {
		// the placeholder would otherwise hang in processing forever
		if _, cancelErr := a.store.CancelMessage(assistantMsg.ID); cancelErr != nil {
			slog.Error("cancel orphaned placeholder", "messageId", assistantMsg.ID, "error", cancelErr)
		}
		return domain.Message{}, domain.Message{}, fmt.Errorf("publish message.sent: %w", err)
	}
	return userMsg, assistantMsg, nil
}

// CancelProcessing cancels every processing message in the project and
// notifies running workers. Returns the affected message ids.
func (a *App) CancelProcessing(ctx context.Context, ownerID, projectID string) ([]string, error) {
	if _, err := a.GetProject(ownerID, projectID); err != nil {
		return nil, err
	}
	return a.cancelProcessing(ctx, projectID)
}

func (a *App) cancelProcessing(ctx context.Context, projectID string) ([]string, error) {
	processing, err := a.store.ListProcessingMessages(projectID)
	if err != nil {
		return nil, err
	}
	cancelled := make([]string, 0, len(processing))
	for _, msg := range processing {
		applied, err := a.store.CancelMessage(msg.ID)
		if err != nil {
			return nil, err
		}
		if applied {
			cancelled = append(cancelled, msg.ID)
		}
	}
	if len(cancelled) == 0 {
		return nil, nil
	}
	if err := a.bus.PublishMessageCancel(ctx, events.MessageCancel{
		ProjectID:  projectID,
		MessageIDs: cancelled,
	}); err != nil {
		// the status patch is authoritative; workers will hit the flipped
		// status when they try to complete
		slog.Error("publish message.cancel", "projectId", projectID, "error", err)
	}
	return cancelled, nil
}
