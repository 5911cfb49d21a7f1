package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pouyahbb/polaris/pkg/domain"
)

const migrateLockID int64 = 86428642

// maxTreeDepth bounds breadcrumb walks so a corrupted parent chain cannot
// loop forever.
const maxTreeDepth = 256

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ProjectModel{}, &FileModel{}, &ConversationModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'file_models'
					AND constraint_name = 'file_models_project_id_fkey'
				) THEN
					ALTER TABLE file_models
					ADD CONSTRAINT file_models_project_id_fkey
					FOREIGN KEY (project_id) REFERENCES project_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'conversation_models'
					AND constraint_name = 'conversation_models_project_id_fkey'
				) THEN
					ALTER TABLE conversation_models
					ADD CONSTRAINT conversation_models_project_id_fkey
					FOREIGN KEY (project_id) REFERENCES project_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_conversation_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateProject stores a new project.
func (s *GormStore) CreateProject(p domain.Project) error {
	model := projectToModel(p)
	return s.db.Create(&model).Error
}

// GetProject retrieves a project.
func (s *GormStore) GetProject(id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// ListProjectsByOwner returns the owner's projects, most recently touched
// first.
func (s *GormStore) ListProjectsByOwner(ownerID string) ([]domain.Project, error) {
	var models []ProjectModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		res = append(res, projectFromModel(m))
	}
	return res, nil
}

// RenameProject updates the project name.
func (s *GormStore) RenameProject(id, name string) error {
	return s.updateProject(id, map[string]any{"name": name})
}

// SetImportStatus records import progress against an external repository.
func (s *GormStore) SetImportStatus(id string, status domain.TransferStatus) error {
	return s.updateProject(id, map[string]any{"import_status": string(status)})
}

// SetExportStatus records export progress and the destination repo URL.
func (s *GormStore) SetExportStatus(id string, status domain.TransferStatus, repoURL string) error {
	updates := map[string]any{"export_status": string(status)}
	if strings.TrimSpace(repoURL) != "" {
		updates["export_repo_url"] = strings.TrimSpace(repoURL)
	}
	return s.updateProject(id, updates)
}

func (s *GormStore) updateProject(id string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := s.db.Model(&ProjectModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// DeleteProject removes the project and everything under it. Conversations
// and messages go through the FK cascade; files are collected first so the
// caller can release bound storage objects.
func (s *GormStore) DeleteProject(id string) ([]domain.File, error) {
	var deleted []domain.File
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var files []FileModel
		if err := tx.Where("project_id = ?", id).Find(&files).Error; err != nil {
			return err
		}
		for _, f := range files {
			deleted = append(deleted, fileFromModel(f))
		}
		if err := tx.Delete(&FileModel{}, "project_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&ProjectModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrProjectNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// CreateFile inserts a file or folder after validating the parent and the
// sibling-uniqueness rule inside one transaction.
func (s *GormStore) CreateFile(f domain.File) error {
	model := fileToModel(f)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if f.ParentID != nil {
			var parent FileModel
			if err := tx.First(&parent, "id = ? AND project_id = ?", *f.ParentID, f.ProjectID).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return ErrParentNotFound
				}
				return err
			}
			if parent.Type != string(domain.TypeFolder) {
				return ErrParentNotFolder
			}
		}
		taken, err := siblingTaken(tx, f.ProjectID, f.ParentID, string(f.Type), f.Name, "")
		if err != nil {
			return err
		}
		if taken {
			return ErrNameTaken
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return touchProject(tx, f.ProjectID)
	})
}

// GetFile retrieves a single tree node.
func (s *GormStore) GetFile(id string) (domain.File, bool, error) {
	var model FileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.File{}, false, nil
		}
		return domain.File{}, false, err
	}
	return fileFromModel(model), true, nil
}

// ListFiles returns every node of a project's tree.
func (s *GormStore) ListFiles(projectID string) ([]domain.File, error) {
	var models []FileModel
	if err := s.db.Where("project_id = ?", projectID).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.File, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, nil
}

// ListChildren returns direct children of a folder (nil parent means the
// project root), folders before files, names ascending.
func (s *GormStore) ListChildren(projectID string, parentID *string) ([]domain.File, error) {
	query := s.db.Where("project_id = ?", projectID)
	if parentID == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", *parentID)
	}
	var models []FileModel
	if err := query.
		Order("CASE WHEN type = 'folder' THEN 0 ELSE 1 END").
		Order("name ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.File, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, nil
}

// UpdateFileContent replaces a file's text content.
func (s *GormStore) UpdateFileContent(id, content string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var model FileModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrFileNotFound
			}
			return err
		}
		if err := tx.Model(&FileModel{}).Where("id = ?", id).Updates(map[string]any{
			"content":    content,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
			return err
		}
		return touchProject(tx, model.ProjectID)
	})
}

// RenameFile changes a node's name, re-checking sibling uniqueness against
// the node's own parent and type.
func (s *GormStore) RenameFile(id, name string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var model FileModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrFileNotFound
			}
			return err
		}
		taken, err := siblingTaken(tx, model.ProjectID, model.ParentID, model.Type, name, model.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrNameTaken
		}
		if err := tx.Model(&FileModel{}).Where("id = ?", id).Updates(map[string]any{
			"name":       name,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
			return err
		}
		return touchProject(tx, model.ProjectID)
	})
}

// DeleteFileTree removes a node and, for folders, everything beneath it.
// Traversal uses an explicit worklist so deep trees cannot exhaust the
// stack. Returns the deleted rows.
func (s *GormStore) DeleteFileTree(id string) ([]domain.File, error) {
	var deleted []domain.File
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var root FileModel
		if err := tx.First(&root, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrFileNotFound
			}
			return err
		}
		worklist := []FileModel{root}
		for len(worklist) > 0 {
			current := worklist[0]
			worklist = worklist[1:]
			if current.Type == string(domain.TypeFolder) {
				var children []FileModel
				if err := tx.Where("parent_id = ?", current.ID).Find(&children).Error; err != nil {
					return err
				}
				worklist = append(worklist, children...)
			}
			if err := tx.Delete(&FileModel{}, "id = ?", current.ID).Error; err != nil {
				return err
			}
			deleted = append(deleted, fileFromModel(current))
		}
		return touchProject(tx, root.ProjectID)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// FilePath walks parent links up from the node and returns the breadcrumb
// root-first.
func (s *GormStore) FilePath(id string) ([]domain.PathEntry, error) {
	var path []domain.PathEntry
	current := id
	for depth := 0; depth < maxTreeDepth; depth++ {
		var model FileModel
		if err := s.db.First(&model, "id = ?", current).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				if depth == 0 {
					return nil, ErrFileNotFound
				}
				break
			}
			return nil, err
		}
		path = append([]domain.PathEntry{{ID: model.ID, Name: model.Name}}, path...)
		if model.ParentID == nil {
			break
		}
		current = *model.ParentID
	}
	return path, nil
}

func siblingTaken(tx *gorm.DB, projectID string, parentID *string, fileType, name, excludeID string) (bool, error) {
	query := tx.Model(&FileModel{}).
		Where("project_id = ? AND type = ? AND name = ?", projectID, fileType, name)
	if parentID == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", *parentID)
	}
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func touchProject(tx *gorm.DB, projectID string) error {
	return tx.Model(&ProjectModel{}).Where("id = ?", projectID).
		Update("updated_at", time.Now().UTC()).Error
}

// CreateConversation creates a new conversation record.
func (s *GormStore) CreateConversation(c domain.Conversation) error {
	model := conversationToModel(c)
	return s.db.Create(&model).Error
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversationsByProject returns a project's conversations, most recent
// activity first.
func (s *GormStore) ListConversationsByProject(projectID string) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.Where("project_id = ?", projectID).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, 0, len(models))
	for _, m := range models {
		res = append(res, conversationFromModel(m))
	}
	return res, nil
}

// SetConversationTitle replaces the conversation title.
func (s *GormStore) SetConversationTitle(id, title string) error {
	res := s.db.Model(&ConversationModel{}).Where("id = ?", id).Updates(map[string]any{
		"title":      title,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// CreateMessagePair atomically records the user's message and its assistant
// placeholder, bumping the conversation.
func (s *GormStore) CreateMessagePair(user, assistant domain.Message) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		userModel := messageToModel(user)
		if err := tx.Create(&userModel).Error; err != nil {
			return err
		}
		assistantModel := messageToModel(assistant)
		if err := tx.Create(&assistantModel).Error; err != nil {
			return err
		}
		return tx.Model(&ConversationModel{}).Where("id = ?", user.ConversationID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// GetMessage retrieves one message by ID.
func (s *GormStore) GetMessage(id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// ListMessages returns recent messages for a conversation (newest first,
// then reversed to chronological). limit <= 0 returns everything.
func (s *GormStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	query := s.db.Where("conversation_id = ?", conversationID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

// ListProcessingMessages finds messages still processing anywhere in the
// project.
func (s *GormStore) ListProcessingMessages(projectID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Model(&MessageModel{}).
		Joins("JOIN conversation_models ON conversation_models.id = message_models.conversation_id").
		Where("conversation_models.project_id = ? AND message_models.status = ?", projectID, string(domain.StatusProcessing)).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// CompleteMessage writes the final answer. The guard on status keeps a
// cancelled message cancelled even when a late run finishes afterwards.
func (s *GormStore) CompleteMessage(id, content string, trace []domain.ToolInvocation) (bool, error) {
	rawTrace, _ := json.Marshal(trace)
	res := s.db.Model(&MessageModel{}).
		Where("id = ? AND status = ?", id, string(domain.StatusProcessing)).
		Updates(map[string]any{
			"content":    content,
			"status":     string(domain.StatusCompleted),
			"tool_trace": rawTrace,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CancelMessage flips a processing message to cancelled.
func (s *GormStore) CancelMessage(id string) (bool, error) {
	res := s.db.Model(&MessageModel{}).
		Where("id = ? AND status = ?", id, string(domain.StatusProcessing)).
		Updates(map[string]any{
			"status":     string(domain.StatusCancelled),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func projectToModel(p domain.Project) ProjectModel {
	return ProjectModel{
		ID:            p.ID,
		OwnerID:       p.OwnerID,
		Name:          p.Name,
		ImportStatus:  string(p.ImportStatus),
		ExportStatus:  string(p.ExportStatus),
		ExportRepoURL: p.ExportRepoURL,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func projectFromModel(m ProjectModel) domain.Project {
	return domain.Project{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		Name:          m.Name,
		ImportStatus:  domain.TransferStatus(m.ImportStatus),
		ExportStatus:  domain.TransferStatus(m.ExportStatus),
		ExportRepoURL: m.ExportRepoURL,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fileToModel(f domain.File) FileModel {
	return FileModel{
		ID:         f.ID,
		ProjectID:  f.ProjectID,
		ParentID:   f.ParentID,
		Name:       f.Name,
		Type:       string(f.Type),
		Content:    f.Content,
		StorageKey: f.StorageKey,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
}

func fileFromModel(m FileModel) domain.File {
	return domain.File{
		ID:         m.ID,
		ProjectID:  m.ProjectID,
		ParentID:   m.ParentID,
		Name:       m.Name,
		Type:       domain.FileType(m.Type),
		Content:    m.Content,
		StorageKey: m.StorageKey,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:        c.ID,
		ProjectID: c.ProjectID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		Title:     m.Title,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	rawTrace, _ := json.Marshal(msg.ToolTrace)
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		Status:         string(msg.Status),
		ToolTrace:      rawTrace,
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	var trace []domain.ToolInvocation
	if len(m.ToolTrace) > 0 {
		_ = json.Unmarshal(m.ToolTrace, &trace)
	}
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           domain.MessageRole(m.Role),
		Content:        m.Content,
		Status:         domain.MessageStatus(m.Status),
		ToolTrace:      trace,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
