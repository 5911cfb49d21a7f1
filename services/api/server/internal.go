package server

import (
	"net/http"
	"strings"

	"github.com/pouyahbb/polaris/pkg/domain"
	"github.com/pouyahbb/polaris/services/api/app"
)

// The /internal/* handlers serve the agent workers. They are authenticated
// by the shared X-Internal-Token and perform no per-user checks.

// /internal/conversations/{id}[/messages|/title]
func (s *Server) handleInternalConversation(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/internal/conversations/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		conversation, ok, err := s.app.InternalConversation(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			notFound(w, "conversation not found")
			return
		}
		writeJSON(w, http.StatusOK, conversation)
		return
	}
	switch parts[1] {
	case "messages":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		messages, err := s.app.InternalRecentMessages(id, queryLimit(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": messages, "count": len(messages)})
	case "title":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		var req struct {
			Title string `json:"title"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.app.InternalSetTitle(id, req.Title); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	default:
		notFound(w, "not found")
	}
}

// /internal/projects/{id}/files | /folders | /processing-messages
func (s *Server) handleInternalProject(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/internal/projects/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		notFound(w, "not found")
		return
	}
	projectID := parts[0]
	switch parts[1] {
	case "files":
		s.handleInternalProjectFiles(w, r, projectID)
	case "folders":
		s.handleInternalProjectFolders(w, r, projectID)
	case "processing-messages":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		messages, err := s.app.InternalProcessingMessages(projectID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": messages, "count": len(messages)})
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleInternalProjectFiles(w http.ResponseWriter, r *http.Request, projectID string) {
	switch r.Method {
	case http.MethodGet:
		files, err := s.app.InternalProjectFiles(projectID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": files, "count": len(files)})
	case http.MethodPost:
		var req struct {
			ParentID *string             `json:"parentId"`
			Files    []app.BatchFileItem `json:"files"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Files) == 0 {
			writeError(w, http.StatusBadRequest, "files required")
			return
		}
		results := s.app.InternalCreateFiles(projectID, req.ParentID, req.Files)
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleInternalProjectFolders(w http.ResponseWriter, r *http.Request, projectID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		ParentID *string `json:"parentId"`
		Name     string  `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	folder, err := s.app.InternalCreateFolder(projectID, req.ParentID, req.Name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

// /internal/files/{id}[/rename]
func (s *Server) handleInternalFile(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/internal/files/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "rename" || r.Method != http.MethodPost {
			notFound(w, "not found")
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		file, err := s.app.InternalRenameFile(id, req.Name)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, file)
		return
	}
	switch r.Method {
	case http.MethodGet:
		file, ok, err := s.app.InternalFile(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			notFound(w, "file not found")
			return
		}
		writeJSON(w, http.StatusOK, file)
	case http.MethodPatch:
		var req struct {
			Content string `json:"content"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		file, err := s.app.InternalUpdateFileContent(id, req.Content)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, file)
	case http.MethodDelete:
		if err := s.app.InternalDeleteFile(id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// /internal/messages/{id}[/complete|/status]
func (s *Server) handleInternalMessage(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/internal/messages/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		message, ok, err := s.app.InternalMessage(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			notFound(w, "message not found")
			return
		}
		writeJSON(w, http.StatusOK, message)
		return
	}
	switch parts[1] {
	case "complete":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			Content   string                  `json:"content"`
			ToolTrace []domain.ToolInvocation `json:"toolTrace"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		applied, err := s.app.InternalCompleteMessage(id, req.Content, req.ToolTrace)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
	case "status":
		if r.Method != http.MethodPatch {
			methodNotAllowed(w)
			return
		}
		var req struct {
			Status string `json:"status"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.ToLower(strings.TrimSpace(req.Status)) != string(domain.StatusCancelled) {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		applied, err := s.app.InternalCancelMessage(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
	default:
		notFound(w, "not found")
	}
}
