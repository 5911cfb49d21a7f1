package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAICompatGenerator calls any OpenAI-compatible /v1/chat/completions endpoint.
// Works with vLLM, LiteLLM, LocalAI, Deepseek, OpenRouter, self-hosted models, etc.
// Implements both TextGenerator and ChatModel.
type OpenAICompatGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatGenerator builds an OpenAI-compatible client.
// baseURL should include the /v1 prefix, e.g. "http://localhost:8000/v1".
// apiKey can be empty for local models that do not require authentication.
func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &OpenAICompatGenerator{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// GenerateText implements TextGenerator using the chat completions API.
func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]ChatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: userPrompt})
	resp, err := g.Chat(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	return text, nil
}

// Chat implements ChatModel, sending tool definitions and decoding tool
// calls from the completion.
func (g *OpenAICompatGenerator) Chat(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (ChatResponse, error) {
	if g.model == "" {
		return ChatResponse{}, fmt.Errorf("openai-compat model required")
	}
	reqBody := oaiChatRequest{
		Model:    g.model,
		Messages: encodeMessages(messages),
	}
	for _, tool := range tools {
		reqBody.Tools = append(reqBody.Tools, oaiTool{
			Type: "function",
			Function: oaiFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return ChatResponse{}, err
	}
	url := g.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("openai-compat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return ChatResponse{}, fmt.Errorf("openai-compat api error: %s", errResp.Error.Message)
		}
		return ChatResponse{}, fmt.Errorf("openai-compat api error: %s", resp.Status)
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return ChatResponse{}, fmt.Errorf("openai-compat decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("empty response from openai-compat api")
	}
	return decodeChoice(chatResp.Choices[0]), nil
}

func encodeMessages(messages []ChatMessage) []oaiMessage {
	out := make([]oaiMessage, 0, len(messages))
	for _, m := range messages {
		encoded := oaiMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, call := range m.ToolCalls {
			args, _ := json.Marshal(call.Arguments)
			encoded.ToolCalls = append(encoded.ToolCalls, oaiToolCall{
				ID:   call.ID,
				Type: "function",
				Function: oaiFunctionCall{
					Name:      call.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, encoded)
	}
	return out
}

func decodeChoice(choice oaiChoice) ChatResponse {
	resp := ChatResponse{Text: strings.TrimSpace(choice.Message.Content)}
	for _, call := range choice.Message.ToolCalls {
		decoded := ToolCall{ID: call.ID, Name: call.Function.Name}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			_ = json.Unmarshal([]byte(raw), &decoded.Arguments)
		}
		resp.ToolCalls = append(resp.ToolCalls, decoded)
	}
	return resp
}

// OpenAI-compatible request/response types.

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function oaiFunctionCall `json:"function"`
}

type oaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiChatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Tools    []oaiTool    `json:"tools,omitempty"`
}

type oaiChoice struct {
	Message oaiMessage `json:"message"`
}

type oaiChatResponse struct {
	Choices []oaiChoice `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
