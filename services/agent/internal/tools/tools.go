// Package tools implements the fixed set of operations the coding agent
// can invoke against a project. Every tool returns a string: errors are
// folded into the result text so a failed call never breaks the run loop.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pouyahbb/polaris/pkg/ai"
	"github.com/pouyahbb/polaris/pkg/domain"
	"github.com/pouyahbb/polaris/services/agent/internal/polarisclient"
)

// Backend is the file-tree surface tools run against.
type Backend interface {
	ProjectFiles(projectID string) ([]domain.File, error)
	File(id string) (domain.File, error)
	UpdateFileContent(id, content string) (domain.File, error)
	CreateFiles(projectID string, parentID *string, items []polarisclient.FileItem) ([]polarisclient.FileResult, error)
	CreateFolder(projectID string, parentID *string, name string) (domain.File, error)
	RenameFile(id, name string) (domain.File, error)
	DeleteFile(id string) error
}

// Env carries the per-run state each tool invocation needs. It is passed
// explicitly on every call rather than bound into the tools at build time.
type Env struct {
	Backend   Backend
	ProjectID string
}

// Tool is one named operation the model can call.
type Tool interface {
	Definition() ai.ToolDefinition
	Invoke(ctx context.Context, env Env, args map[string]any) string
}

// Registry holds the tool set keyed by name.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds the standard tool set. The scraper is injected so
// tests can stub network access.
func NewRegistry(scraper URLFetcher) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range []Tool{
		listFilesTool{},
		readFilesTool{},
		updateFileTool{},
		createFilesTool{},
		createFolderTool{},
		renameFileTool{},
		deleteFilesTool{},
		scrapeURLsTool{fetcher: scraper},
	} {
		name := t.Definition().Name
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r
}

// Definitions returns the tool schemas in registration order.
func (r *Registry) Definitions() []ai.ToolDefinition {
	defs := make([]ai.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Invoke runs the named tool. An unknown tool name is reported in the
// result string like any other tool error.
func (r *Registry) Invoke(ctx context.Context, env Env, name string, args map[string]any) string {
	t, ok := r.tools[name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", name)
	}
	return t.Invoke(ctx, env, args)
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// stringSliceArg accepts both []any of strings (the usual decoded JSON
// shape) and []string.
func stringSliceArg(args map[string]any, key string) ([]string, bool) {
	v, ok := args[key]
	if !ok {
		return nil, false
	}
	switch vs := v.(type) {
	case []string:
		return vs, true
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func sortFiles(files []domain.File) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Type != files[j].Type {
			return files[i].Type == domain.TypeFolder
		}
		return files[i].Name < files[j].Name
	})
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
