// Package events carries the asynchronous surface between the api and agent
// services: message submissions flow through a durable work queue, cancel
// notices through a fanout exchange so every worker hears them.
package events

import "context"

const (
	// SentQueue is the durable work queue of submitted messages.
	SentQueue = "polaris.message.sent"
	// CancelExchange fans cancel notices out to every agent worker.
	CancelExchange = "polaris.message.cancel"
)

// MessageSent is published when a user submits a message. MessageID is the
// assistant placeholder the run will fill in.
type MessageSent struct {
	EventID        string `json:"eventId"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	ProjectID      string `json:"projectId"`
	Content        string `json:"content"`
}

// MessageCancel asks running workers to abandon the listed messages.
type MessageCancel struct {
	EventID    string   `json:"eventId"`
	ProjectID  string   `json:"projectId"`
	MessageIDs []string `json:"messageIds"`
}

// Publisher is the api-side view of the bus.
type Publisher interface {
	PublishMessageSent(ctx context.Context, evt MessageSent) error
	PublishMessageCancel(ctx context.Context, evt MessageCancel) error
}
