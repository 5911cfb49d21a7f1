package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pouyahbb/polaris/pkg/ai"
	"github.com/pouyahbb/polaris/pkg/domain"
	"github.com/pouyahbb/polaris/services/agent/internal/polarisclient"
	"github.com/pouyahbb/polaris/services/agent/internal/tools"
)

// scriptedModel replays a fixed sequence of turns.
type scriptedModel struct {
	turns []ai.ChatResponse
	calls int
}

func (m *scriptedModel) Chat(context.Context, []ai.ChatMessage, []ai.ToolDefinition) (ai.ChatResponse, error) {
	if m.calls >= len(m.turns) {
		return ai.ChatResponse{}, errors.New("script exhausted")
	}
	resp := m.turns[m.calls]
	m.calls++
	return resp, nil
}

type noopBackend struct{}

func (noopBackend) ProjectFiles(string) ([]domain.File, error) { return nil, nil }
func (noopBackend) File(string) (domain.File, error) {
	return domain.File{}, errors.New("file not found")
}
func (noopBackend) UpdateFileContent(string, string) (domain.File, error) {
	return domain.File{}, errors.New("file not found")
}
func (noopBackend) CreateFiles(string, *string, []polarisclient.FileItem) ([]polarisclient.FileResult, error) {
	return nil, nil
}
func (noopBackend) CreateFolder(string, *string, string) (domain.File, error) {
	return domain.File{}, nil
}
func (noopBackend) RenameFile(string, string) (domain.File, error) {
	return domain.File{}, errors.New("file not found")
}
func (noopBackend) DeleteFile(string) error { return errors.New("file not found") }

type noopFetcher struct{}

func (noopFetcher) Fetch(context.Context, string) (string, error) {
	return "", errors.New("offline")
}

func runLoop(t *testing.T, model ai.ChatModel) (Result, error) {
	t.Helper()
	loop := NewLoop(model, tools.NewRegistry(noopFetcher{}))
	env := tools.Env{Backend: noopBackend{}, ProjectID: "proj-1"}
	return loop.Run(context.Background(), nil, env, systemPrompt, "add a readme")
}

func TestLoopTerminatesOnTextWithoutToolCalls(t *testing.T) {
	model := &scriptedModel{turns: []ai.ChatResponse{
		{Text: "Done, I added the file."},
	}}
	result, err := runLoop(t, model)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Text != "Done, I added the file." {
		t.Fatalf("unexpected answer: %q", result.Text)
	}
	if model.calls != 1 {
		t.Fatalf("expected a single model turn, got %d", model.calls)
	}
}

func TestLoopContinuesWhenTextAccompaniesToolCalls(t *testing.T) {
	model := &scriptedModel{turns: []ai.ChatResponse{
		{
			Text:      "Let me look at the project first.",
			ToolCalls: []ai.ToolCall{{ID: "c1", Name: "listFiles"}},
		},
		{Text: "The project is empty, so I created nothing."},
	}}
	result, err := runLoop(t, model)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if model.calls != 2 {
		t.Fatalf("narrated tool turn must not terminate the loop, calls=%d", model.calls)
	}
	if result.Text != "The project is empty, so I created nothing." {
		t.Fatalf("unexpected answer: %q", result.Text)
	}
	if len(result.Trace) != 1 || result.Trace[0].Name != "listFiles" {
		t.Fatalf("unexpected trace: %+v", result.Trace)
	}
}

func TestLoopIterationCapIsTheBackstop(t *testing.T) {
	turns := make([]ai.ChatResponse, 0, maxIterations+5)
	for i := 0; i < maxIterations+5; i++ {
		turns = append(turns, ai.ChatResponse{
			ToolCalls: []ai.ToolCall{{ID: "c", Name: "listFiles"}},
		})
	}
	model := &scriptedModel{turns: turns}
	result, err := runLoop(t, model)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if model.calls != maxIterations {
		t.Fatalf("expected exactly %d model turns, got %d", maxIterations, model.calls)
	}
	if result.Text != fallbackAnswer {
		t.Fatalf("tool-only run should fall back to the fixed acknowledgement, got %q", result.Text)
	}
}

func TestLoopRecordsToolErrorsInTrace(t *testing.T) {
	model := &scriptedModel{turns: []ai.ChatResponse{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "readFiles", Arguments: map[string]any{"fileIds": []any{"ghost"}}}}},
		{Text: "That file does not exist."},
	}}
	result, err := runLoop(t, model)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Trace) != 1 {
		t.Fatalf("expected one trace entry, got %+v", result.Trace)
	}
	if result.Trace[0].Error == "" || !strings.Contains(result.Trace[0].Error, "Error") {
		t.Fatalf("tool failure missing from trace: %+v", result.Trace[0])
	}
}

func TestLoopSurfacesModelFailure(t *testing.T) {
	model := &scriptedModel{}
	if _, err := runLoop(t, model); err == nil {
		t.Fatalf("model failure must abort the run")
	}
}
