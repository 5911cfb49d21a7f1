package store

import (
	"testing"
	"time"

	"github.com/pouyahbb/polaris/pkg/domain"
)

func newTestProject(t *testing.T, s *MemoryStore) domain.Project {
	t.Helper()
	now := time.Now().UTC()
	p := domain.Project{ID: "proj-1", OwnerID: "user-1", Name: "demo", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func mustCreateFile(t *testing.T, s *MemoryStore, f domain.File) domain.File {
	t.Helper()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
		f.UpdatedAt = f.CreatedAt
	}
	if err := s.CreateFile(f); err != nil {
		t.Fatalf("create file %s: %v", f.Name, err)
	}
	return f
}

func TestSiblingUniqueness(t *testing.T) {
	s := NewMemoryStore()
	p := newTestProject(t, s)

	mustCreateFile(t, s, domain.File{ID: "f-1", ProjectID: p.ID, Name: "notes", Type: domain.TypeFile})
	// same name, same parent, same type: rejected
	if err := s.CreateFile(domain.File{ID: "f-2", ProjectID: p.ID, Name: "notes", Type: domain.TypeFile}); err != ErrNameTaken {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
	// same name but a folder: allowed
	folder := mustCreateFile(t, s, domain.File{ID: "d-1", ProjectID: p.ID, Name: "notes", Type: domain.TypeFolder})
	// same name under a different parent: allowed
	mustCreateFile(t, s, domain.File{ID: "f-3", ProjectID: p.ID, ParentID: &folder.ID, Name: "notes", Type: domain.TypeFile})

	// rename into a clash is rejected, rename to a free name works
	mustCreateFile(t, s, domain.File{ID: "f-4", ProjectID: p.ID, Name: "todo", Type: domain.TypeFile})
	if err := s.RenameFile("f-4", "notes"); err != ErrNameTaken {
		t.Fatalf("expected ErrNameTaken on rename clash, got %v", err)
	}
	if err := s.RenameFile("f-4", "done"); err != nil {
		t.Fatalf("rename: %v", err)
	}
}

func TestCreateFileParentValidation(t *testing.T) {
	s := NewMemoryStore()
	p := newTestProject(t, s)

	missing := "nope"
	if err := s.CreateFile(domain.File{ID: "f-1", ProjectID: p.ID, ParentID: &missing, Name: "a", Type: domain.TypeFile}); err != ErrParentNotFound {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}
	plain := mustCreateFile(t, s, domain.File{ID: "f-2", ProjectID: p.ID, Name: "plain", Type: domain.TypeFile})
	if err := s.CreateFile(domain.File{ID: "f-3", ProjectID: p.ID, ParentID: &plain.ID, Name: "b", Type: domain.TypeFile}); err != ErrParentNotFolder {
		t.Fatalf("expected ErrParentNotFolder, got %v", err)
	}
}

func TestDeleteFileTree(t *testing.T) {
	s := NewMemoryStore()
	p := newTestProject(t, s)

	root := mustCreateFile(t, s, domain.File{ID: "d-root", ProjectID: p.ID, Name: "src", Type: domain.TypeFolder})
	sub := mustCreateFile(t, s, domain.File{ID: "d-sub", ProjectID: p.ID, ParentID: &root.ID, Name: "lib", Type: domain.TypeFolder})
	mustCreateFile(t, s, domain.File{ID: "f-a", ProjectID: p.ID, ParentID: &root.ID, Name: "main.go", Type: domain.TypeFile})
	mustCreateFile(t, s, domain.File{ID: "f-b", ProjectID: p.ID, ParentID: &sub.ID, Name: "util.go", Type: domain.TypeFile, StorageKey: "assets/f-b"})
	keep := mustCreateFile(t, s, domain.File{ID: "f-keep", ProjectID: p.ID, Name: "README", Type: domain.TypeFile})

	deleted, err := s.DeleteFileTree(root.ID)
	if err != nil {
		t.Fatalf("delete tree: %v", err)
	}
	if len(deleted) != 4 {
		t.Fatalf("expected 4 deleted rows, got %d", len(deleted))
	}
	keys := 0
	for _, f := range deleted {
		if f.StorageKey != "" {
			keys++
		}
	}
	if keys != 1 {
		t.Fatalf("expected 1 storage-backed row among deleted, got %d", keys)
	}
	for _, id := range []string{"d-root", "d-sub", "f-a", "f-b"} {
		if _, ok, _ := s.GetFile(id); ok {
			t.Fatalf("file %s should be gone", id)
		}
	}
	if _, ok, _ := s.GetFile(keep.ID); !ok {
		t.Fatalf("unrelated sibling should survive")
	}

	if _, err := s.DeleteFileTree("missing"); err != ErrFileNotFound {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestListChildrenFoldersFirst(t *testing.T) {
	s := NewMemoryStore()
	p := newTestProject(t, s)

	mustCreateFile(t, s, domain.File{ID: "f-z", ProjectID: p.ID, Name: "alpha", Type: domain.TypeFile})
	mustCreateFile(t, s, domain.File{ID: "d-z", ProjectID: p.ID, Name: "zulu", Type: domain.TypeFolder})
	mustCreateFile(t, s, domain.File{ID: "d-a", ProjectID: p.ID, Name: "beta", Type: domain.TypeFolder})

	children, err := s.ListChildren(p.ID, nil)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	got := make([]string, 0, len(children))
	for _, c := range children {
		got = append(got, c.Name)
	}
	want := []string{"beta", "zulu", "alpha"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v want %v", got, want)
		}
	}
}

func TestFilePathBreadcrumb(t *testing.T) {
	s := NewMemoryStore()
	p := newTestProject(t, s)

	root := mustCreateFile(t, s, domain.File{ID: "d-1", ProjectID: p.ID, Name: "src", Type: domain.TypeFolder})
	sub := mustCreateFile(t, s, domain.File{ID: "d-2", ProjectID: p.ID, ParentID: &root.ID, Name: "app", Type: domain.TypeFolder})
	leaf := mustCreateFile(t, s, domain.File{ID: "f-1", ProjectID: p.ID, ParentID: &sub.ID, Name: "page.tsx", Type: domain.TypeFile})

	path, err := s.FilePath(leaf.ID)
	if err != nil {
		t.Fatalf("file path: %v", err)
	}
	if len(path) != 3 || path[0].Name != "src" || path[1].Name != "app" || path[2].Name != "page.tsx" {
		t.Fatalf("unexpected breadcrumb: %+v", path)
	}
}

func TestCancelledStatusIsSticky(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.CreateConversation(domain.Conversation{ID: "conv-1", ProjectID: "proj-1", Title: domain.DefaultConversationTitle, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	user := domain.Message{ID: "m-user", ConversationID: "conv-1", Role: domain.RoleUser, Content: "hi", Status: domain.StatusCompleted, CreatedAt: now}
	assistant := domain.Message{ID: "m-asst", ConversationID: "conv-1", Role: domain.RoleAssistant, Status: domain.StatusProcessing, CreatedAt: now.Add(time.Millisecond)}
	if err := s.CreateMessagePair(user, assistant); err != nil {
		t.Fatalf("create pair: %v", err)
	}

	ok, err := s.CancelMessage("m-asst")
	if err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}
	// a late-finishing run must not overwrite the cancellation
	ok, err = s.CompleteMessage("m-asst", "late answer", nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ok {
		t.Fatalf("complete should not apply to a cancelled message")
	}
	m, found, _ := s.GetMessage("m-asst")
	if !found || m.Status != domain.StatusCancelled || m.Content != "" {
		t.Fatalf("cancelled message mutated: %+v", m)
	}

	// cancelling twice reports no-op the second time
	ok, _ = s.CancelMessage("m-asst")
	if ok {
		t.Fatalf("second cancel should be a no-op")
	}
}

func TestCompleteMessageRecordsTrace(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	_ = s.CreateConversation(domain.Conversation{ID: "conv-1", ProjectID: "proj-1", Title: domain.DefaultConversationTitle, CreatedAt: now, UpdatedAt: now})
	asst := domain.Message{ID: "m-1", ConversationID: "conv-1", Role: domain.RoleAssistant, Status: domain.StatusProcessing, CreatedAt: now}
	_ = s.CreateMessagePair(domain.Message{ID: "m-0", ConversationID: "conv-1", Role: domain.RoleUser, Status: domain.StatusCompleted, CreatedAt: now}, asst)

	trace := []domain.ToolInvocation{{Name: "readFiles"}, {Name: "createFiles", Error: "name taken"}}
	ok, err := s.CompleteMessage("m-1", "done", trace)
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	m, _, _ := s.GetMessage("m-1")
	if m.Status != domain.StatusCompleted || len(m.ToolTrace) != 2 || m.ToolTrace[1].Error == "" {
		t.Fatalf("unexpected message after complete: %+v", m)
	}
}

func TestListProcessingMessages(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	_ = s.CreateProject(domain.Project{ID: "proj-1", OwnerID: "u", Name: "p", CreatedAt: now, UpdatedAt: now})
	_ = s.CreateConversation(domain.Conversation{ID: "conv-1", ProjectID: "proj-1", CreatedAt: now, UpdatedAt: now})
	_ = s.CreateConversation(domain.Conversation{ID: "conv-2", ProjectID: "proj-2", CreatedAt: now, UpdatedAt: now})
	_ = s.CreateMessagePair(
		domain.Message{ID: "m-1", ConversationID: "conv-1", Role: domain.RoleUser, Status: domain.StatusCompleted, CreatedAt: now},
		domain.Message{ID: "m-2", ConversationID: "conv-1", Role: domain.RoleAssistant, Status: domain.StatusProcessing, CreatedAt: now.Add(time.Millisecond)},
	)
	_ = s.CreateMessagePair(
		domain.Message{ID: "m-3", ConversationID: "conv-2", Role: domain.RoleUser, Status: domain.StatusCompleted, CreatedAt: now},
		domain.Message{ID: "m-4", ConversationID: "conv-2", Role: domain.RoleAssistant, Status: domain.StatusProcessing, CreatedAt: now.Add(time.Millisecond)},
	)

	msgs, err := s.ListProcessingMessages("proj-1")
	if err != nil {
		t.Fatalf("list processing: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m-2" {
		t.Fatalf("expected only conv-1's processing message, got %+v", msgs)
	}
}
