package race

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChatWithToolsRequestAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("missing auth header: %q", got)
		}
		var body struct {
			Model    string        `json:"model"`
			Messages []ChatMessage `json:"messages"`
			Tools    []ToolDef     `json:"tools"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "gpt-4o" || len(body.Tools) != 1 {
			t.Errorf("unexpected request: model=%q tools=%d", body.Model, len(body.Tools))
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "browser",
							"arguments": `{"command":"agent-browser get title"}`,
						},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "gpt-4o", srv.URL, 0.2, 5*time.Second)
	msg, err := p.ChatWithTools(context.Background(),
		[]ChatMessage{{Role: "user", Content: "go"}},
		[]ToolDef{{Type: "function", Function: FunctionDef{Name: "browser"}}})
	if err != nil {
		t.Fatalf("ChatWithTools: %v", err)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != "browser" {
		t.Fatalf("tool call lost in parse: %+v", msg)
	}
}

func TestChatWithToolsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit"}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "gpt-4o", srv.URL, 0, 5*time.Second)
	_, err := p.ChatWithTools(context.Background(), []ChatMessage{{Role: "user", Content: "go"}}, nil)
	if err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestChatWithToolsMissingKey(t *testing.T) {
	p := NewOpenAIProvider("", "gpt-4o", "", 0, time.Second)
	if _, err := p.ChatWithTools(context.Background(), nil, nil); err == nil {
		t.Fatal("expected configuration error without api key")
	}
}
