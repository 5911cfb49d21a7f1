package app

import (
	"strings"
	"time"

	"github.com/pouyahbb/polaris/internal/util"
	"github.com/pouyahbb/polaris/pkg/domain"
	"github.com/pouyahbb/polaris/pkg/store"
)

// The Internal* operations back the shared-secret surface the agent workers
// call. They skip per-user ownership checks: the run executes outside the
// interactive session, and the submitting user was authorized at publish
// time.

func (a *App) InternalConversation(id string) (domain.Conversation, bool, error) {
	return a.store.GetConversation(id)
}

func (a *App) InternalRecentMessages(conversationID string, limit int) ([]domain.Message, error) {
	return a.store.ListMessages(conversationID, limit)
}

func (a *App) InternalSetTitle(conversationID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrNameRequired
	}
	return a.store.SetConversationTitle(conversationID, title)
}

func (a *App) InternalFile(id string) (domain.File, bool, error) {
	return a.store.GetFile(id)
}

func (a *App) InternalProjectFiles(projectID string) ([]domain.File, error) {
	return a.store.ListFiles(projectID)
}

// BatchFileItem is one entry of a batch create request.
type BatchFileItem struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// BatchFileResult reports the outcome of one batch item. Batch creation is
// not atomic: earlier successes stand even when later items fail.
type BatchFileResult struct {
	Name   string `json:"name"`
	FileID string `json:"fileId,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (a *App) InternalCreateFiles(projectID string, parentID *string, items []BatchFileItem) []BatchFileResult {
	results := make([]BatchFileResult, 0, len(items))
	for _, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			results = append(results, BatchFileResult{Name: item.Name, Error: ErrNameRequired.Error()})
			continue
		}
		now := time.Now().UTC()
		file := domain.File{
			ID:        util.NewID(),
			ProjectID: projectID,
			ParentID:  normalizeParent(parentID),
			Name:      name,
			Type:      domain.TypeFile,
			Content:   item.Content,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := a.store.CreateFile(file); err != nil {
			results = append(results, BatchFileResult{Name: name, Error: err.Error()})
			continue
		}
		results = append(results, BatchFileResult{Name: name, FileID: file.ID})
	}
	return results
}

func (a *App) InternalCreateFolder(projectID string, parentID *string, name string) (domain.File, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.File{}, ErrNameRequired
	}
	now := time.Now().UTC()
	folder := domain.File{
		ID:        util.NewID(),
		ProjectID: projectID,
		ParentID:  normalizeParent(parentID),
		Name:      name,
		Type:      domain.TypeFolder,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateFile(folder); err != nil {
		return domain.File{}, err
	}
	return folder, nil
}

func (a *App) InternalUpdateFileContent(id, content string) (domain.File, error) {
	file, ok, err := a.store.GetFile(id)
	if err != nil {
		return domain.File{}, err
	}
	if !ok {
		return domain.File{}, store.ErrFileNotFound
	}
	if file.Type != domain.TypeFile {
		return domain.File{}, ErrNotAFile
	}
	if err := a.store.UpdateFileContent(id, content); err != nil {
		return domain.File{}, err
	}
	file, _, err = a.store.GetFile(id)
	return file, err
}

func (a *App) InternalRenameFile(id, name string) (domain.File, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.File{}, ErrNameRequired
	}
	if err := a.store.RenameFile(id, name); err != nil {
		return domain.File{}, err
	}
	file, _, err := a.store.GetFile(id)
	return file, err
}

func (a *App) InternalDeleteFile(id string) error {
	deleted, err := a.store.DeleteFileTree(id)
	if err != nil {
		return err
	}
	a.releaseObjects(deleted)
	return nil
}

func (a *App) InternalCompleteMessage(id, content string, trace []domain.ToolInvocation) (bool, error) {
	return a.store.CompleteMessage(id, content, trace)
}

func (a *App) InternalCancelMessage(id string) (bool, error) {
	return a.store.CancelMessage(id)
}

func (a *App) InternalMessage(id string) (domain.Message, bool, error) {
	return a.store.GetMessage(id)
}

func (a *App) InternalProcessingMessages(projectID string) ([]domain.Message, error) {
	return a.store.ListProcessingMessages(projectID)
}
