package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/pouyahbb/polaris/pkg/ai"
	"github.com/pouyahbb/polaris/pkg/domain"
	"github.com/pouyahbb/polaris/services/agent/internal/runner"
	"github.com/pouyahbb/polaris/services/agent/internal/tools"
)

// maxIterations is the backstop against a model that keeps calling tools
// without ever producing a final answer.
const maxIterations = 20

// Loop drives one message run: model turn, tool execution, repeat until
// the model answers with text and no tool calls.
type Loop struct {
	model    ai.ChatModel
	registry *tools.Registry
}

func NewLoop(model ai.ChatModel, registry *tools.Registry) *Loop {
	return &Loop{model: model, registry: registry}
}

// Result is the outcome of a finished run.
type Result struct {
	Text  string
	Trace []domain.ToolInvocation
}

// Run executes the loop for one user message. When run is non-nil, model
// turns and tool executions are recorded as durable steps so a resumed
// attempt replays stored results instead of repeating side effects. The
// loop terminates on a turn with text and zero tool calls; a turn that
// carries both text and tool calls keeps going.
func (l *Loop) Run(ctx context.Context, run *runner.Run, env tools.Env, system, userMessage string) (Result, error) {
	messages := []ai.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: userMessage},
	}
	defs := l.registry.Definitions()

	var trace []domain.ToolInvocation
	lastText := ""
	for i := 1; i <= maxIterations; i++ {
		turn := messages
		resp, err := chatStep(ctx, run, fmt.Sprintf("round-%02d-model", i), func(ctx context.Context) (ai.ChatResponse, error) {
			return l.model.Chat(ctx, turn, defs)
		})
		if err != nil {
			return Result{}, fmt.Errorf("model turn %d: %w", i, err)
		}
		if strings.TrimSpace(resp.Text) != "" {
			lastText = resp.Text
		}
		if len(resp.ToolCalls) == 0 {
			// A turn with neither text nor tool calls ends the run too;
			// re-asking with an unchanged transcript would not converge.
			break
		}
		messages = append(messages, ai.ChatMessage{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for j, call := range resp.ToolCalls {
			result, err := toolStep(ctx, run, fmt.Sprintf("round-%02d-tool-%02d-%s", i, j, call.Name), func(ctx context.Context) (string, error) {
				return l.registry.Invoke(ctx, env, call.Name, call.Arguments), nil
			})
			if err != nil {
				return Result{}, fmt.Errorf("tool %s on turn %d: %w", call.Name, i, err)
			}
			trace = append(trace, toolInvocation(call.Name, result))
			messages = append(messages, ai.ChatMessage{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	text := strings.TrimSpace(lastText)
	if text == "" {
		text = fallbackAnswer
	}
	return Result{Text: text, Trace: trace}, nil
}

// Apology is the synthetic answer written when a run fails for good.
func Apology() string {
	return apologyAnswer
}

func toolInvocation(name, result string) domain.ToolInvocation {
	inv := domain.ToolInvocation{Name: name}
	if strings.HasPrefix(result, "Error") {
		line := result
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		inv.Error = line
	}
	return inv
}

func chatStep(ctx context.Context, run *runner.Run, name string, fn func(context.Context) (ai.ChatResponse, error)) (ai.ChatResponse, error) {
	if run == nil {
		return fn(ctx)
	}
	return runner.Step(ctx, run, name, fn)
}

func toolStep(ctx context.Context, run *runner.Run, name string, fn func(context.Context) (string, error)) (string, error) {
	if run == nil {
		return fn(ctx)
	}
	return runner.Step(ctx, run, name, fn)
}
