package race

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ChatMessage is one turn in the tool-use conversation.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDef describes one tool exposed to the model.
type ToolDef struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// LLMProvider is the opaque reasoning capability: given the conversation
// so far and a tool surface, it produces the next assistant message.
type LLMProvider interface {
	ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDef) (ChatMessage, error)
}

// OpenAIProvider implements LLMProvider against the chat completions API.
type OpenAIProvider struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	client      *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, model, baseURL string, temperature float64, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		apiKey:      apiKey,
		model:       model,
		baseURL:     baseURL,
		temperature: temperature,
		client:      &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDef) (ChatMessage, error) {
	if p.apiKey == "" {
		return ChatMessage{}, fmt.Errorf("OpenAI API key not configured")
	}

	type chatReq struct {
		Model       string        `json:"model"`
		Messages    []ChatMessage `json:"messages"`
		Tools       []ToolDef     `json:"tools,omitempty"`
		Temperature float64       `json:"temperature,omitempty"`
	}

	body, err := json.Marshal(chatReq{
		Model:       p.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: p.temperature,
	})
	if err != nil {
		return ChatMessage{}, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return ChatMessage{}, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return ChatMessage{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var parsed struct {
		Choices []struct {
			Message ChatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ChatMessage{}, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return ChatMessage{}, fmt.Errorf("no choices returned")
	}
	return parsed.Choices[0].Message, nil
}
