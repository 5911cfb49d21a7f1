package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pouyahbb/polaris/pkg/domain"
)

// MemoryStore is an in-memory Store used by tests. It applies the same
// validation and status-transition rules as GormStore.
type MemoryStore struct {
	mu            sync.RWMutex
	projects      map[string]domain.Project
	files         map[string]domain.File
	conversations map[string]domain.Conversation
	messages      map[string]domain.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:      make(map[string]domain.Project),
		files:         make(map[string]domain.File),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string]domain.Message),
	}
}

func (s *MemoryStore) CreateProject(p domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
	return nil
}

func (s *MemoryStore) GetProject(id string) (domain.Project, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	return p, ok, nil
}

func (s *MemoryStore) ListProjectsByOwner(ownerID string) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Project, 0)
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

func (s *MemoryStore) RenameProject(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return ErrProjectNotFound
	}
	p.Name = name
	p.UpdatedAt = time.Now().UTC()
	s.projects[id] = p
	return nil
}

func (s *MemoryStore) SetImportStatus(id string, status domain.TransferStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return ErrProjectNotFound
	}
	p.ImportStatus = status
	p.UpdatedAt = time.Now().UTC()
	s.projects[id] = p
	return nil
}

func (s *MemoryStore) SetExportStatus(id string, status domain.TransferStatus, repoURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return ErrProjectNotFound
	}
	p.ExportStatus = status
	if strings.TrimSpace(repoURL) != "" {
		p.ExportRepoURL = strings.TrimSpace(repoURL)
	}
	p.UpdatedAt = time.Now().UTC()
	s.projects[id] = p
	return nil
}

func (s *MemoryStore) DeleteProject(id string) ([]domain.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return nil, ErrProjectNotFound
	}
	var deleted []domain.File
	for fid, f := range s.files {
		if f.ProjectID == id {
			deleted = append(deleted, f)
			delete(s.files, fid)
		}
	}
	for cid, c := range s.conversations {
		if c.ProjectID == id {
			for mid, m := range s.messages {
				if m.ConversationID == cid {
					delete(s.messages, mid)
				}
			}
			delete(s.conversations, cid)
		}
	}
	delete(s.projects, id)
	return deleted, nil
}

func (s *MemoryStore) CreateFile(f domain.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ParentID != nil {
		parent, ok := s.files[*f.ParentID]
		if !ok || parent.ProjectID != f.ProjectID {
			return ErrParentNotFound
		}
		if parent.Type != domain.TypeFolder {
			return ErrParentNotFolder
		}
	}
	if s.siblingTakenLocked(f.ProjectID, f.ParentID, f.Type, f.Name, "") {
		return ErrNameTaken
	}
	s.files[f.ID] = f
	s.touchProjectLocked(f.ProjectID)
	return nil
}

func (s *MemoryStore) GetFile(id string) (domain.File, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	return f, ok, nil
}

func (s *MemoryStore) ListFiles(projectID string) ([]domain.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.File, 0)
	for _, f := range s.files {
		if f.ProjectID == projectID {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (s *MemoryStore) ListChildren(projectID string, parentID *string) ([]domain.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.File, 0)
	for _, f := range s.files {
		if f.ProjectID != projectID {
			continue
		}
		if parentID == nil {
			if f.ParentID == nil {
				res = append(res, f)
			}
		} else if f.ParentID != nil && *f.ParentID == *parentID {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Type != res[j].Type {
			return res[i].Type == domain.TypeFolder
		}
		return res[i].Name < res[j].Name
	})
	return res, nil
}

func (s *MemoryStore) UpdateFileContent(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return ErrFileNotFound
	}
	f.Content = content
	f.UpdatedAt = time.Now().UTC()
	s.files[id] = f
	s.touchProjectLocked(f.ProjectID)
	return nil
}

func (s *MemoryStore) RenameFile(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return ErrFileNotFound
	}
	if s.siblingTakenLocked(f.ProjectID, f.ParentID, f.Type, name, f.ID) {
		return ErrNameTaken
	}
	f.Name = name
	f.UpdatedAt = time.Now().UTC()
	s.files[id] = f
	s.touchProjectLocked(f.ProjectID)
	return nil
}

func (s *MemoryStore) DeleteFileTree(id string) ([]domain.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, ok := s.files[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	var deleted []domain.File
	worklist := []domain.File{root}
	for len(worklist) > 0 {
		current := worklist[0]
		worklist = worklist[1:]
		if current.Type == domain.TypeFolder {
			for _, f := range s.files {
				if f.ParentID != nil && *f.ParentID == current.ID {
					worklist = append(worklist, f)
				}
			}
		}
		delete(s.files, current.ID)
		deleted = append(deleted, current)
	}
	s.touchProjectLocked(root.ProjectID)
	return deleted, nil
}

func (s *MemoryStore) FilePath(id string) ([]domain.PathEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	var path []domain.PathEntry
	for depth := 0; depth < maxTreeDepth; depth++ {
		path = append([]domain.PathEntry{{ID: f.ID, Name: f.Name}}, path...)
		if f.ParentID == nil {
			break
		}
		parent, ok := s.files[*f.ParentID]
		if !ok {
			break
		}
		f = parent
	}
	return path, nil
}

func (s *MemoryStore) CreateConversation(c domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

func (s *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok, nil
}

func (s *MemoryStore) ListConversationsByProject(projectID string) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Conversation, 0)
	for _, c := range s.conversations {
		if c.ProjectID == projectID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

func (s *MemoryStore) SetConversationTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	s.conversations[id] = c
	return nil
}

func (s *MemoryStore) CreateMessagePair(user, assistant domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[user.ID] = user
	s.messages[assistant.ID] = assistant
	if c, ok := s.conversations[user.ConversationID]; ok {
		c.UpdatedAt = time.Now().UTC()
		s.conversations[user.ConversationID] = c
	}
	return nil
}

func (s *MemoryStore) GetMessage(id string) (domain.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	return m, ok, nil
}

func (s *MemoryStore) ListMessages(conversationID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Message, 0)
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			res = append(res, m)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res, nil
}

func (s *MemoryStore) ListProcessingMessages(projectID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Message, 0)
	for _, m := range s.messages {
		if m.Status != domain.StatusProcessing {
			continue
		}
		c, ok := s.conversations[m.ConversationID]
		if ok && c.ProjectID == projectID {
			res = append(res, m)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (s *MemoryStore) CompleteMessage(id, content string, trace []domain.ToolInvocation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Status != domain.StatusProcessing {
		return false, nil
	}
	m.Content = content
	m.Status = domain.StatusCompleted
	m.ToolTrace = trace
	m.UpdatedAt = time.Now().UTC()
	s.messages[id] = m
	return true, nil
}

func (s *MemoryStore) CancelMessage(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Status != domain.StatusProcessing {
		return false, nil
	}
	m.Status = domain.StatusCancelled
	m.UpdatedAt = time.Now().UTC()
	s.messages[id] = m
	return true, nil
}

func (s *MemoryStore) siblingTakenLocked(projectID string, parentID *string, fileType domain.FileType, name, excludeID string) bool {
	for _, f := range s.files {
		if f.ID == excludeID || f.ProjectID != projectID || f.Type != fileType || f.Name != name {
			continue
		}
		if parentID == nil && f.ParentID == nil {
			return true
		}
		if parentID != nil && f.ParentID != nil && *parentID == *f.ParentID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) touchProjectLocked(projectID string) {
	if p, ok := s.projects[projectID]; ok {
		p.UpdatedAt = time.Now().UTC()
		s.projects[projectID] = p
	}
}
