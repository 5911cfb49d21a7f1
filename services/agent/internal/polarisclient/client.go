// Package polarisclient calls the api service's internal surface on
// behalf of agent workers, authenticated by the shared internal token.
package polarisclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pouyahbb/polaris/pkg/domain"
)

// Client calls the api service over HTTP.
type Client struct {
	baseURL       string
	internalToken string
	httpClient    *http.Client
}

// APIError represents an api service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs an api service client.
func NewClient(baseURL, internalToken string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		internalToken: internalToken,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// FileItem is one entry in a batch file creation request.
type FileItem struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// FileResult reports the outcome for one entry of a batch creation.
type FileResult struct {
	Name   string `json:"name"`
	FileID string `json:"fileId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Conversation fetches a conversation by id.
func (c *Client) Conversation(id string) (domain.Conversation, error) {
	var out domain.Conversation
	err := c.doJSON(http.MethodGet, "/internal/conversations/"+id, nil, &out)
	return out, err
}

// RecentMessages returns the most recent messages of a conversation in
// chronological order.
func (c *Client) RecentMessages(conversationID string, limit int) ([]domain.Message, error) {
	var out struct {
		Items []domain.Message `json:"items"`
	}
	path := fmt.Sprintf("/internal/conversations/%s/messages?limit=%d", conversationID, limit)
	if err := c.doJSON(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// SetConversationTitle replaces a conversation title.
func (c *Client) SetConversationTitle(id, title string) error {
	body := map[string]string{"title": title}
	return c.doJSON(http.MethodPatch, "/internal/conversations/"+id+"/title", body, nil)
}

// Message fetches a message by id.
func (c *Client) Message(id string) (domain.Message, error) {
	var out domain.Message
	err := c.doJSON(http.MethodGet, "/internal/messages/"+id, nil, &out)
	return out, err
}

// CompleteMessage stores the assistant response. It reports whether the
// update applied; a cancelled message is left untouched.
func (c *Client) CompleteMessage(id, content string, trace []domain.ToolInvocation) (bool, error) {
	body := map[string]any{"content": content, "toolTrace": trace}
	var out struct {
		Applied bool `json:"applied"`
	}
	if err := c.doJSON(http.MethodPost, "/internal/messages/"+id+"/complete", body, &out); err != nil {
		return false, err
	}
	return out.Applied, nil
}

// ProjectFiles lists every file and folder of a project.
func (c *Client) ProjectFiles(projectID string) ([]domain.File, error) {
	var out struct {
		Items []domain.File `json:"items"`
	}
	if err := c.doJSON(http.MethodGet, "/internal/projects/"+projectID+"/files", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// File fetches a file by id.
func (c *Client) File(id string) (domain.File, error) {
	var out domain.File
	err := c.doJSON(http.MethodGet, "/internal/files/"+id, nil, &out)
	return out, err
}

// UpdateFileContent replaces a file's content.
func (c *Client) UpdateFileContent(id, content string) (domain.File, error) {
	body := map[string]string{"content": content}
	var out domain.File
	err := c.doJSON(http.MethodPatch, "/internal/files/"+id, body, &out)
	return out, err
}

// CreateFiles creates a batch of files under one parent. Entries succeed
// or fail independently.
func (c *Client) CreateFiles(projectID string, parentID *string, items []FileItem) ([]FileResult, error) {
	body := map[string]any{"parentId": parentID, "files": items}
	var out struct {
		Results []FileResult `json:"results"`
	}
	if err := c.doJSON(http.MethodPost, "/internal/projects/"+projectID+"/files", body, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// CreateFolder creates a folder.
func (c *Client) CreateFolder(projectID string, parentID *string, name string) (domain.File, error) {
	body := map[string]any{"parentId": parentID, "name": name}
	var out domain.File
	err := c.doJSON(http.MethodPost, "/internal/projects/"+projectID+"/folders", body, &out)
	return out, err
}

// RenameFile renames a file or folder.
func (c *Client) RenameFile(id, name string) (domain.File, error) {
	body := map[string]string{"name": name}
	var out domain.File
	err := c.doJSON(http.MethodPost, "/internal/files/"+id+"/rename", body, &out)
	return out, err
}

// DeleteFile deletes a file, or a folder and everything under it.
func (c *Client) DeleteFile(id string) error {
	return c.doJSON(http.MethodDelete, "/internal/files/"+id, nil, nil)
}

func (c *Client) doJSON(method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Internal-Token", c.internalToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
