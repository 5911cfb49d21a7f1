// Package server exposes the public and internal HTTP surfaces of the api
// service.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pouyahbb/polaris/internal/usertoken"
	"github.com/pouyahbb/polaris/internal/util"
	"github.com/pouyahbb/polaris/pkg/domain"
	"github.com/pouyahbb/polaris/pkg/store"
	"github.com/pouyahbb/polaris/services/api/app"
)

// RateLimiter gates message submission per user.
type RateLimiter interface {
	Allow(key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *usertoken.Verifier
	InternalToken  string
	Limiter        RateLimiter
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the api service.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	internalToken  string
	limiter        RateLimiter
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if strings.TrimSpace(cfg.InternalToken) == "" {
		return nil, errors.New("internal token required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 25 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		internalToken:  cfg.InternalToken,
		limiter:        cfg.Limiter,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("api", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.Handle("/api/projects", s.withUser(s.handleProjects))
	s.mux.Handle("/api/projects/", s.withUser(s.handleProjectByID))
	s.mux.Handle("/api/files/", s.withUser(s.handleFileByID))
	s.mux.Handle("/api/conversations/", s.withUser(s.handleConversationByID))
	s.mux.Handle("/api/messages/cancel", s.withUser(s.handleCancelMessages))

	s.mux.Handle("/internal/conversations/", s.withInternal(s.handleInternalConversation))
	s.mux.Handle("/internal/projects/", s.withInternal(s.handleInternalProject))
	s.mux.Handle("/internal/files/", s.withInternal(s.handleInternalFile))
	s.mux.Handle("/internal/messages/", s.withInternal(s.handleInternalMessage))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "token verifier not configured")
			return
		}
		token, ok := usertoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Internal-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.internalToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		project, err := s.app.CreateProject(userID, req.Name)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, project)
	case http.MethodGet:
		projects, err := s.app.ListProjects(userID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": projects, "count": len(projects)})
	default:
		methodNotAllowed(w)
	}
}

// /api/projects/{id}[/files|/folders|/conversations|/assets|/import|/export]
func (s *Server) handleProjectByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 1 {
		s.handleProject(w, r, userID, id)
		return
	}
	switch parts[1] {
	case "files":
		s.handleProjectFiles(w, r, userID, id)
	case "folders":
		s.handleProjectFolders(w, r, userID, id)
	case "conversations":
		s.handleProjectConversations(w, r, userID, id)
	case "assets":
		s.handleProjectAssets(w, r, userID, id)
	case "import":
		s.handleProjectImport(w, r, userID, id)
	case "export":
		s.handleProjectExport(w, r, userID, id)
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request, userID, id string) {
	switch r.Method {
	case http.MethodGet:
		project, err := s.app.GetProject(userID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodPatch:
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		project, err := s.app.RenameProject(userID, id, req.Name)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if err := s.app.DeleteProject(userID, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProjectFiles(w http.ResponseWriter, r *http.Request, userID, projectID string) {
	switch r.Method {
	case http.MethodGet:
		if parent, ok := parentFilter(r); ok {
			files, err := s.app.ListChildren(userID, projectID, parent)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": files, "count": len(files)})
			return
		}
		files, err := s.app.ListFiles(userID, projectID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": files, "count": len(files)})
	case http.MethodPost:
		var req struct {
			ParentID *string `json:"parentId"`
			Name     string  `json:"name"`
			Content  string  `json:"content"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		file, err := s.app.CreateFile(userID, projectID, req.ParentID, req.Name, req.Content)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, file)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProjectFolders(w http.ResponseWriter, r *http.Request, userID, projectID string) {
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
	folder, err := s.app.CreateFolder(userID, projectID, req.ParentID, req.Name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleProjectConversations(w http.ResponseWriter, r *http.Request, userID, projectID string) {
	switch r.Method {
	case http.MethodPost:
		conversation, err := s.app.CreateConversation(userID, projectID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, conversation)
	case http.MethodGet:
		conversations, err := s.app.ListConversations(userID, projectID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": conversations, "count": len(conversations)})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProjectAssets(w http.ResponseWriter, r *http.Request, userID, projectID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	var parentID *string
	if v := strings.TrimSpace(r.FormValue("parentId")); v != "" {
		parentID = &v
	}
	created, err := s.app.UploadAsset(userID, projectID, parentID, header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleProjectImport(w http.ResponseWriter, r *http.Request, userID, projectID string) {
	s.handleTransfer(w, r, projectID, func(status domain.TransferStatus, _ string) (domain.Project, error) {
		return s.app.SetImportStatus(userID, projectID, status)
	})
}

func (s *Server) handleProjectExport(w http.ResponseWriter, r *http.Request, userID, projectID string) {
	s.handleTransfer(w, r, projectID, func(status domain.TransferStatus, repoURL string) (domain.Project, error) {
		return s.app.SetExportStatus(userID, projectID, status, repoURL)
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, projectID string, apply func(domain.TransferStatus, string) (domain.Project, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Status  string `json:"status"`
		RepoURL string `json:"repoUrl"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	status, ok := parseTransferStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	project, err := apply(status, req.RepoURL)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// /api/files/{id}[/rename|/path|/asset]
func (s *Server) handleFileByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/files/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "rename":
			s.handleFileRename(w, r, userID, id)
		case "path":
			s.handleFilePath(w, r, userID, id)
		case "asset":
			s.handleFileAsset(w, r, userID, id)
		default:
			notFound(w, "not found")
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		file, err := s.app.GetFile(userID, id)
		if err != nil {
			writeAppError(w, err)
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
		file, err := s.app.UpdateFileContent(userID, id, req.Content)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, file)
	case http.MethodDelete:
		if err := s.app.DeleteFile(userID, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleFileRename(w http.ResponseWriter, r *http.Request, userID, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	file, err := s.app.RenameFile(userID, id, req.Name)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) handleFilePath(w http.ResponseWriter, r *http.Request, userID, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path, err := s.app.FilePath(userID, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path})
}

func (s *Server) handleFileAsset(w http.ResponseWriter, r *http.Request, userID, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.AssetURL(userID, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// /api/conversations/{id}[/messages]
func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] != "messages" {
			notFound(w, "not found")
			return
		}
		s.handleConversationMessages(w, r, userID, id)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	conversation, err := s.app.GetConversation(userID, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversation)
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, userID, conversationID string) {
	switch r.Method {
	case http.MethodGet:
		messages, err := s.app.ListConversationMessages(userID, conversationID, queryLimit(r))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": messages, "count": len(messages)})
	case http.MethodPost:
		if s.limiter != nil && !s.limiter.Allow(userID) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		var req struct {
			Content string `json:"content"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		userMsg, assistantMsg, err := s.app.SendMessage(r.Context(), userID, conversationID, req.Content)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"userMessage":      userMsg,
			"assistantMessage": assistantMsg,
		})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCancelMessages(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		ProjectID string `json:"projectId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		writeError(w, http.StatusBadRequest, "projectId required")
		return
	}
	cancelled, err := s.app.CancelProcessing(r.Context(), userID, req.ProjectID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cancelled":  len(cancelled) > 0,
		"messageIds": cancelled,
	})
}

func parentFilter(r *http.Request) (*string, bool) {
	if !r.URL.Query().Has("parentId") {
		return nil, false
	}
	v := strings.TrimSpace(r.URL.Query().Get("parentId"))
	if v == "" {
		return nil, true
	}
	return &v, true
}

func queryLimit(r *http.Request) int {
	v := strings.TrimSpace(r.URL.Query().Get("limit"))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseTransferStatus(status string) (domain.TransferStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case string(domain.TransferImporting):
		return domain.TransferImporting, true
	case string(domain.TransferCompleted):
		return domain.TransferCompleted, true
	case string(domain.TransferFailed):
		return domain.TransferFailed, true
	case string(domain.TransferCancelled):
		return domain.TransferCancelled, true
	default:
		return "", false
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, store.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, "project not found")
	case errors.Is(err, store.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "file not found")
	case errors.Is(err, store.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrNameTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrParentNotFound),
		errors.Is(err, store.ErrParentNotFolder),
		errors.Is(err, app.ErrNameRequired),
		errors.Is(err, app.ErrContentRequired),
		errors.Is(err, app.ErrNotAFile),
		errors.Is(err, app.ErrNoAsset):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeFor(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeFor(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "PROJECT_FORBIDDEN"
	case message == "project not found":
		return "PROJECT_NOT_FOUND"
	case message == "file not found":
		return "FILE_NOT_FOUND"
	case message == "conversation not found":
		return "CONVERSATION_NOT_FOUND"
	case strings.Contains(message, "already exists"):
		return "FILE_NAME_TAKEN"
	case message == "too many requests":
		return "RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "PROJECT_FORBIDDEN"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
