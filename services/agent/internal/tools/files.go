package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pouyahbb/polaris/pkg/ai"
	"github.com/pouyahbb/polaris/pkg/domain"
	"github.com/pouyahbb/polaris/services/agent/internal/polarisclient"
)

type listFilesTool struct{}

func (listFilesTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "listFiles",
		Description: "List every file and folder in the project with their ids, names, types and parent folder ids.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (listFilesTool) Invoke(_ context.Context, env Env, _ map[string]any) string {
	files, err := env.Backend.ProjectFiles(env.ProjectID)
	if err != nil {
		return "Error: could not list project files: " + err.Error()
	}
	if len(files) == 0 {
		return "The project has no files yet."
	}
	sortFiles(files)
	type entry struct {
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		Type     string  `json:"type"`
		ParentID *string `json:"parentId"`
	}
	entries := make([]entry, 0, len(files))
	for _, f := range files {
		entries = append(entries, entry{ID: f.ID, Name: f.Name, Type: string(f.Type), ParentID: f.ParentID})
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "Error: could not encode file listing: " + err.Error()
	}
	return string(raw)
}

type readFilesTool struct{}

func (readFilesTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "readFiles",
		Description: "Read the contents of one or more files by id.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fileIds": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Ids of the files to read.",
				},
			},
			"required": []string{"fileIds"},
		},
	}
}

func (readFilesTool) Invoke(_ context.Context, env Env, args map[string]any) string {
	ids, ok := stringSliceArg(args, "fileIds")
	if !ok || len(ids) == 0 {
		return "Error: fileIds must be a non-empty array of file ids"
	}
	var lines []string
	failures := 0
	for _, id := range ids {
		file, err := env.Backend.File(id)
		if err != nil {
			lines = append(lines, fmt.Sprintf("Error reading %s: %s", id, err.Error()))
			failures++
			continue
		}
		if file.Type == domain.TypeFolder {
			lines = append(lines, fmt.Sprintf("Error reading %s: %q is a folder, not a file", id, file.Name))
			failures++
			continue
		}
		if strings.TrimSpace(file.Content) == "" {
			lines = append(lines, fmt.Sprintf("Error reading %s: file %q has no content", id, file.Name))
			failures++
			continue
		}
		lines = append(lines, fmt.Sprintf("=== %s (id: %s) ===\n%s", file.Name, file.ID, file.Content))
	}
	if failures == len(ids) {
		return "Error: none of the requested files could be read:\n" + joinLines(lines)
	}
	return joinLines(lines)
}

type updateFileTool struct{}

func (updateFileTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "updateFile",
		Description: "Replace the entire content of an existing file.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fileId":  map[string]any{"type": "string", "description": "Id of the file to update."},
				"content": map[string]any{"type": "string", "description": "The full new file content."},
			},
			"required": []string{"fileId", "content"},
		},
	}
}

func (updateFileTool) Invoke(_ context.Context, env Env, args map[string]any) string {
	id, ok := stringArg(args, "fileId")
	if !ok || id == "" {
		return "Error: fileId is required"
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return "Error: content is required"
	}
	file, err := env.Backend.UpdateFileContent(id, content)
	if err != nil {
		return fmt.Sprintf("Error updating %s: %s", id, err.Error())
	}
	return fmt.Sprintf("Updated %s (id: %s).", file.Name, file.ID)
}

type createFilesTool struct{}

func (createFilesTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "createFiles",
		Description: "Create one or more files under a folder. Pass an empty parentId to create at the project root. Each file succeeds or fails independently.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"parentId": map[string]any{"type": "string", "description": "Id of the parent folder, or an empty string for the project root."},
				"files": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":    map[string]any{"type": "string"},
							"content": map[string]any{"type": "string"},
						},
						"required": []string{"name", "content"},
					},
					"description": "Files to create.",
				},
			},
			"required": []string{"files"},
		},
	}
}

func (createFilesTool) Invoke(_ context.Context, env Env, args map[string]any) string {
	items, ok := fileItemsArg(args)
	if !ok || len(items) == 0 {
		return "Error: files must be a non-empty array of {name, content} objects"
	}
	parentID := parentArg(args)
	results, err := env.Backend.CreateFiles(env.ProjectID, parentID, items)
	if err != nil {
		return "Error creating files: " + err.Error()
	}
	var lines []string
	for _, res := range results {
		if res.Error != "" {
			lines = append(lines, fmt.Sprintf("Failed to create %s: %s", res.Name, res.Error))
			continue
		}
		lines = append(lines, fmt.Sprintf("Created %s (id: %s).", res.Name, res.FileID))
	}
	return joinLines(lines)
}

type createFolderTool struct{}

func (createFolderTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "createFolder",
		Description: "Create a folder. Pass an empty parentId to create at the project root.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"parentId": map[string]any{"type": "string", "description": "Id of the parent folder, or an empty string for the project root."},
				"name":     map[string]any{"type": "string", "description": "Name of the new folder."},
			},
			"required": []string{"name"},
		},
	}
}

func (createFolderTool) Invoke(_ context.Context, env Env, args map[string]any) string {
	name, ok := stringArg(args, "name")
	if !ok || strings.TrimSpace(name) == "" {
		return "Error: name is required"
	}
	folder, err := env.Backend.CreateFolder(env.ProjectID, parentArg(args), name)
	if err != nil {
		return fmt.Sprintf("Error creating folder %s: %s", name, err.Error())
	}
	return fmt.Sprintf("Created folder %s (id: %s).", folder.Name, folder.ID)
}

type renameFileTool struct{}

func (renameFileTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "renameFile",
		Description: "Rename a file or folder.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fileId": map[string]any{"type": "string", "description": "Id of the file or folder to rename."},
				"name":   map[string]any{"type": "string", "description": "The new name."},
			},
			"required": []string{"fileId", "name"},
		},
	}
}

func (renameFileTool) Invoke(_ context.Context, env Env, args map[string]any) string {
	id, ok := stringArg(args, "fileId")
	if !ok || id == "" {
		return "Error: fileId is required"
	}
	name, ok := stringArg(args, "name")
	if !ok || strings.TrimSpace(name) == "" {
		return "Error: name is required"
	}
	file, err := env.Backend.RenameFile(id, name)
	if err != nil {
		return fmt.Sprintf("Error renaming %s: %s", id, err.Error())
	}
	return fmt.Sprintf("Renamed to %s (id: %s).", file.Name, file.ID)
}

type deleteFilesTool struct{}

func (deleteFilesTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        "deleteFiles",
		Description: "Delete files or folders by id. Deleting a folder also deletes everything inside it. If any id does not exist, nothing is deleted.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fileIds": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Ids of the files or folders to delete.",
				},
			},
			"required": []string{"fileIds"},
		},
	}
}

func (deleteFilesTool) Invoke(_ context.Context, env Env, args map[string]any) string {
	ids, ok := stringSliceArg(args, "fileIds")
	if !ok || len(ids) == 0 {
		return "Error: fileIds must be a non-empty array of file ids"
	}
	// Every id must resolve before anything is deleted.
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		file, err := env.Backend.File(id)
		if err != nil {
			return fmt.Sprintf("Error: file %s not found, nothing was deleted", id)
		}
		names = append(names, file.Name)
	}
	for i, id := range ids {
		if err := env.Backend.DeleteFile(id); err != nil {
			return fmt.Sprintf("Error deleting %s: %s (earlier deletions in this call already applied)", names[i], err.Error())
		}
	}
	return fmt.Sprintf("Deleted %s.", strings.Join(names, ", "))
}

func parentArg(args map[string]any) *string {
	parent, ok := stringArg(args, "parentId")
	if !ok || strings.TrimSpace(parent) == "" {
		return nil
	}
	return &parent
}

func fileItemsArg(args map[string]any) ([]polarisclient.FileItem, bool) {
	v, ok := args["files"]
	if !ok {
		return nil, false
	}
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	items := make([]polarisclient.FileItem, 0, len(list))
	for _, raw := range list {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, false
		}
		name, _ := obj["name"].(string)
		content, _ := obj["content"].(string)
		if name == "" {
			return nil, false
		}
		items = append(items, polarisclient.FileItem{Name: name, Content: content})
	}
	return items, true
}
