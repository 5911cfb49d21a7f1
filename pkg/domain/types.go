package domain

import "time"

type FileType string

const (
	TypeFile   FileType = "file"
	TypeFolder FileType = "folder"
)

type MessageStatus string

const (
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusCancelled  MessageStatus = "cancelled"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// TransferStatus tracks project import/export against an external repository.
type TransferStatus string

const (
	TransferImporting TransferStatus = "importing"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
	TransferCancelled TransferStatus = "cancelled"
)

// DefaultConversationTitle is the placeholder a conversation keeps until the
// first successful title generation replaces it.
const DefaultConversationTitle = "New conversation"

type Project struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"ownerId"`
	Name          string         `json:"name"`
	ImportStatus  TransferStatus `json:"importStatus,omitempty"`
	ExportStatus  TransferStatus `json:"exportStatus,omitempty"`
	ExportRepoURL string         `json:"exportRepoUrl,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// File is a node of a project's tree. ParentID nil means root level.
// StorageKey is set only for files backed by a binary object.
type File struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	ParentID   *string   `json:"parentId"`
	Name       string    `json:"name"`
	Type       FileType  `json:"type"`
	Content    string    `json:"content,omitempty"`
	StorageKey string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Conversation struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	Role           MessageRole      `json:"role"`
	Content        string           `json:"content"`
	Status         MessageStatus    `json:"status"`
	ToolTrace      []ToolInvocation `json:"toolTrace,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// ToolInvocation records one tool call executed while answering a message.
type ToolInvocation struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// PathEntry is one segment of a file breadcrumb, root first.
type PathEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
