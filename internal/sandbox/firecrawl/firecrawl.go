// Package firecrawl implements the sandbox gateway against the Firecrawl
// browser API.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/wikirace/internal/sandbox"
)

const defaultBaseURL = "https://api.firecrawl.dev/v2"

const (
	createTimeout = 15 * time.Second
	execTimeout   = 35 * time.Second // client bound; server-side budget is 30s
	closeTimeout  = 10 * time.Second
	serverBudget  = 30 // seconds, sent to the execute endpoint
	sessionTTL    = 300
	activityTTL   = 120
)

type Gateway struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

func New(apiKey, baseURL string) *Gateway {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Gateway{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  log.New(log.Writer(), "[SANDBOX] ", log.LstdFlags),
	}
}

type createResponse struct {
	Success     bool   `json:"success"`
	ID          string `json:"id"`
	LiveViewURL string `json:"liveViewUrl"`
	Error       string `json:"error"`
}

func (g *Gateway) CreateSession(ctx context.Context) (sandbox.Session, error) {
	if g.apiKey == "" {
		return sandbox.Session{}, sandbox.ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	var resp createResponse
	err := g.postJSON(ctx, "/browser", map[string]any{
		"ttl":         sessionTTL,
		"activityTtl": activityTTL,
	}, &resp)
	if err != nil {
		return sandbox.Session{}, &sandbox.UpstreamError{Op: "create session", Err: err}
	}
	if !resp.Success || resp.ID == "" {
		msg := resp.Error
		if msg == "" {
			msg = "failed to create browser session"
		}
		return sandbox.Session{}, &sandbox.UpstreamError{Op: "create session", Err: fmt.Errorf("%s", msg)}
	}
	return sandbox.Session{ID: resp.ID, LiveViewURL: resp.LiveViewURL}, nil
}

type execResponse struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Result  string `json:"result"`
	Error   string `json:"error"`
}

func (g *Gateway) Exec(ctx context.Context, sessionID, command string) sandbox.ExecResult {
	if g.apiKey == "" {
		return sandbox.ExecResult{Err: sandbox.ErrNotConfigured.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	var resp execResponse
	err := g.postJSON(ctx, "/browser/"+sessionID+"/execute", map[string]any{
		"code":     command,
		"language": "bash",
		"timeout":  serverBudget,
	}, &resp)
	if err != nil {
		return sandbox.ExecResult{Err: err.Error()}
	}
	if resp.Error != "" {
		return sandbox.ExecResult{Err: resp.Error}
	}
	if !resp.Success {
		return sandbox.ExecResult{Err: "execution failed"}
	}

	output := strings.TrimSpace(resp.Stdout)
	if output == "" {
		output = strings.TrimSpace(resp.Result)
	}
	if output == "" {
		output = "(no output)"
	}
	return sandbox.ExecResult{Result: output}
}

func (g *Gateway) CloseSession(ctx context.Context, sessionID string) {
	if g.apiKey == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.baseURL+"/browser/"+sessionID, nil)
	if err != nil {
		return
	}
	g.setHeaders(req)

	resp, err := g.client.Do(req)
	if err != nil {
		// A leaked remote session must never crash or block the caller.
		g.logger.Printf("close session %s failed: %v", sessionID, err)
		return
	}
	resp.Body.Close()
}

func (g *Gateway) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	g.setHeaders(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

func (g *Gateway) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
}
