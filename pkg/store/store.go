package store

import (
	"errors"

	"github.com/pouyahbb/polaris/pkg/domain"
)

// Sentinel errors surfaced by tree mutations. The api layer maps these to
// client-facing responses.
var (
	ErrProjectNotFound      = errors.New("project not found")
	ErrFileNotFound         = errors.New("file not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrParentNotFound       = errors.New("parent folder not found")
	ErrParentNotFolder      = errors.New("parent is not a folder")
	ErrNameTaken            = errors.New("a sibling with this name and type already exists")
)

// Store defines persistence operations for projects, files, conversations,
// and messages.
type Store interface {
	// projects
	CreateProject(domain.Project) error
	GetProject(id string) (domain.Project, bool, error)
	ListProjectsByOwner(ownerID string) ([]domain.Project, error)
	RenameProject(id, name string) error
	SetImportStatus(id string, status domain.TransferStatus) error
	SetExportStatus(id string, status domain.TransferStatus, repoURL string) error
	// DeleteProject removes the project with its files, conversations and
	// messages, returning the deleted files so bound storage objects can be
	// released.
	DeleteProject(id string) ([]domain.File, error)

	// files
	CreateFile(domain.File) error
	GetFile(id string) (domain.File, bool, error)
	ListFiles(projectID string) ([]domain.File, error)
	ListChildren(projectID string, parentID *string) ([]domain.File, error)
	UpdateFileContent(id, content string) error
	RenameFile(id, name string) error
	// DeleteFileTree removes a file, or a folder with everything beneath it,
	// returning the deleted rows.
	DeleteFileTree(id string) ([]domain.File, error)
	// FilePath returns the breadcrumb from the root folder down to the file.
	FilePath(id string) ([]domain.PathEntry, error)

	// conversations
	CreateConversation(domain.Conversation) error
	GetConversation(id string) (domain.Conversation, bool, error)
	ListConversationsByProject(projectID string) ([]domain.Conversation, error)
	SetConversationTitle(id, title string) error

	// messages
	CreateMessagePair(user, assistant domain.Message) error
	GetMessage(id string) (domain.Message, bool, error)
	ListMessages(conversationID string, limit int) ([]domain.Message, error)
	ListProcessingMessages(projectID string) ([]domain.Message, error)
	// CompleteMessage stores the final content and tool trace. The update
	// applies only while the message is still processing, so a cancelled
	// message keeps its status. Returns whether the update applied.
	CompleteMessage(id, content string, trace []domain.ToolInvocation) (bool, error)
	// CancelMessage flips a processing message to cancelled. Returns whether
	// the update applied.
	CancelMessage(id string) (bool, error)
}
