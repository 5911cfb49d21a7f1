package ai

import "context"

// TextGenerator generates text from a system prompt and user prompt. Used
// for single-shot calls such as conversation titles.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ChatModel runs one turn of a tool-aware conversation: given the transcript
// so far and the available tool definitions, it returns assistant text,
// tool calls, or both.
type ChatModel interface {
	Chat(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (ChatResponse, error)
}

// ChatMessage is one entry of a model transcript. Role is one of system,
// user, assistant, tool. ToolCallID links a tool-role result back to the
// call that produced it.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolCall is a model request to execute a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition describes a tool to the model. Parameters is a JSON
// schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatResponse is the model's turn output.
type ChatResponse struct {
	Text      string
	ToolCalls []ToolCall
}
