// Package app implements the project, file-tree, and conversation operations
// behind the public and internal HTTP surfaces.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pouyahbb/polaris/internal/util"
	"github.com/pouyahbb/polaris/pkg/domain"
	"github.com/pouyahbb/polaris/pkg/events"
	"github.com/pouyahbb/polaris/pkg/storage"
	"github.com/pouyahbb/polaris/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Objects     storage.ObjectStore
	Minio       storage.Config
	Bus         events.Publisher
}

// App wires the data store, object storage, and event bus together.
type App struct {
	store         store.Store
	objects       storage.ObjectStore
	bus           events.Publisher
	presignExpiry time.Duration
}

// New constructs the application. Store and Objects may be injected for
// tests; otherwise Postgres and MinIO are dialed from config.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("event bus required")
	}
	return &App{
		store:         dataStore,
		objects:       objects,
		bus:           cfg.Bus,
		presignExpiry: 15 * time.Minute,
	}, nil
}

// CreateProject registers a new project for the owner.
func (a *App) CreateProject(ownerID, name string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, ErrNameRequired
	}
	now := time.Now().UTC()
	project := domain.Project{
		ID:        util.NewID(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateProject(project); err != nil {
		return domain.Project{}, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

// ListProjects returns the owner's projects.
func (a *App) ListProjects(ownerID string) ([]domain.Project, error) {
	return a.store.ListProjectsByOwner(ownerID)
}

// GetProject returns a project after checking ownership.
func (a *App) GetProject(ownerID, id string) (domain.Project, error) {
	project, ok, err := a.store.GetProject(id)
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		return domain.Project{}, store.ErrProjectNotFound
	}
	if project.OwnerID != ownerID {
		return domain.Project{}, ErrForbidden
	}
	return project, nil
}

// RenameProject changes the project name.
func (a *App) RenameProject(ownerID, id, name string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, ErrNameRequired
	}
	if _, err := a.GetProject(ownerID, id); err != nil {
		return domain.Project{}, err
	}
	if err := a.store.RenameProject(id, name); err != nil {
		return domain.Project{}, err
	}
	project, _, err := a.store.GetProject(id)
	return project, err
}

// DeleteProject removes the project with its tree, conversations, and any
// bound storage objects.
func (a *App) DeleteProject(ownerID, id string) error {
	if _, err := a.GetProject(ownerID, id); err != nil {
		return err
	}
	deleted, err := a.store.DeleteProject(id)
	if err != nil {
		return err
	}
	a.releaseObjects(deleted)
	return nil
}

// SetImportStatus records import progress for a project.
func (a *App) SetImportStatus(ownerID, id string, status domain.TransferStatus) (domain.Project, error) {
	if _, err := a.GetProject(ownerID, id); err != nil {
		return domain.Project{}, err
	}
	if err := a.store.SetImportStatus(id, status); err != nil {
		return domain.Project{}, err
	}
	project, _, err := a.store.GetProject(id)
	return project, err
}

// SetExportStatus records export progress and the destination repository.
func (a *App) SetExportStatus(ownerID, id string, status domain.TransferStatus, repoURL string) (domain.Project, error) {
	if _, err := a.GetProject(ownerID, id); err != nil {
		return domain.Project{}, err
	}
	if err := a.store.SetExportStatus(id, status, repoURL); err != nil {
		return domain.Project{}, err
	}
	project, _, err := a.store.GetProject(id)
	return project, err
}

// CreateFile adds a text file to the project tree.
func (a *App) CreateFile(ownerID, projectID string, parentID *string, name, content string) (domain.File, error) {
	return a.createNode(ownerID, projectID, parentID, name, domain.TypeFile, content)
}

// CreateFolder adds a folder to the project tree.
func (a *App) CreateFolder(ownerID, projectID string, parentID *string, name string) (domain.File, error) {
	return a.createNode(ownerID, projectID, parentID, name, domain.TypeFolder, "")
}

func (a *App) createNode(ownerID, projectID string, parentID *string, name string, fileType domain.FileType, content string) (domain.File, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.File{}, ErrNameRequired
	}
	if _, err := a.GetProject(ownerID, projectID); err != nil {
		return domain.File{}, err
	}
	now := time.Now().UTC()
	file := domain.File{
		ID:        util.NewID(),
		ProjectID: projectID,
		ParentID:  normalizeParent(parentID),
		Name:      name,
		Type:      fileType,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateFile(file); err != nil {
		return domain.File{}, err
	}
	return file, nil
}

// ListFiles returns the whole tree of a project.
func (a *App) ListFiles(ownerID, projectID string) ([]domain.File, error) {
	if _, err := a.GetProject(ownerID, projectID); err != nil {
		return nil, err
	}
	return a.store.ListFiles(projectID)
}

// ListChildren returns direct children of a folder (nil = project root).
func (a *App) ListChildren(ownerID, projectID string, parentID *string) ([]domain.File, error) {
	if _, err := a.GetProject(ownerID, projectID); err != nil {
		return nil, err
	}
	return a.store.ListChildren(projectID, normalizeParent(parentID))
}

// GetFile returns a single node after checking project ownership.
func (a *App) GetFile(ownerID, fileID string) (domain.File, error) {
	file, ok, err := a.store.GetFile(fileID)
	if err != nil {
		return domain.File{}, err
	}
	if !ok {
		return domain.File{}, store.ErrFileNotFound
	}
	if _, err := a.GetProject(ownerID, file.ProjectID); err != nil {
		return domain.File{}, err
	}
	return file, nil
}

// UpdateFileContent overwrites a file's text content.
func (a *App) UpdateFileContent(ownerID, fileID, content string) (domain.File, error) {
	file, err := a.GetFile(ownerID, fileID)
	if err != nil {
		return domain.File{}, err
	}
	if file.Type != domain.TypeFile {
		return domain.File{}, ErrNotAFile
	}
	if err := a.store.UpdateFileContent(fileID, content); err != nil {
		return domain.File{}, err
	}
	file, _, err = a.store.GetFile(fileID)
	return file, err
}

// RenameFile renames a node.
func (a *App) RenameFile(ownerID, fileID, name string) (domain.File, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.File{}, ErrNameRequired
	}
	if _, err := a.GetFile(ownerID, fileID); err != nil {
		return domain.File{}, err
	}
	if err := a.store.RenameFile(fileID, name); err != nil {
		return domain.File{}, err
	}
	file, _, err := a.store.GetFile(fileID)
	return file, err
}

// DeleteFile removes a node and, for folders, its whole subtree. Storage
// objects bound to deleted rows are released afterwards.
func (a *App) DeleteFile(ownerID, fileID string) error {
	if _, err := a.GetFile(ownerID, fileID); err != nil {
		return err
	}
	deleted, err := a.store.DeleteFileTree(fileID)
	if err != nil {
		return err
	}
	a.releaseObjects(deleted)
	return nil
}

// FilePath returns the breadcrumb for a node, root first.
func (a *App) FilePath(ownerID, fileID string) ([]domain.PathEntry, error) {
	if _, err := a.GetFile(ownerID, fileID); err != nil {
		return nil, err
	}
	return a.store.FilePath(fileID)
}

// UploadAsset stores a binary object and the file row referencing it.
func (a *App) UploadAsset(ownerID, projectID string, parentID *string, name string, r io.Reader, size int64, contentType string) (domain.File, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.File{}, ErrNameRequired
	}
	if _, err := a.GetProject(ownerID, projectID); err != nil {
		return domain.File{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	id := util.NewID()
	key := storage.AssetKey(projectID, id)
	if err := a.objects.Put(context.Background(), key, r, size, contentType); err != nil {
		return domain.File{}, fmt.Errorf("save asset: %w", err)
	}
	now := time.Now().UTC()
	file := domain.File{
		ID:         id,
		ProjectID:  projectID,
		ParentID:   normalizeParent(parentID),
		Name:       name,
		Type:       domain.TypeFile,
		StorageKey: key,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.CreateFile(file); err != nil {
		_ = a.objects.Delete(context.Background(), key)
		return domain.File{}, err
	}
	return file, nil
}

// AssetURL returns a pre-signed URL for a file's binary asset.
func (a *App) AssetURL(ownerID, fileID string) (string, error) {
	file, err := a.GetFile(ownerID, fileID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(file.StorageKey) == "" {
		return "", ErrNoAsset
	}
	return a.objects.PresignGet(context.Background(), file.StorageKey, a.presignExpiry)
}

func (a *App) releaseObjects(files []domain.File) {
	for _, f := range files {
		if strings.TrimSpace(f.StorageKey) == "" {
			continue
		}
		_ = a.objects.Delete(context.Background(), f.StorageKey)
	}
}

func normalizeParent(parentID *string) *string {
	if parentID == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*parentID)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
