// Package race drives one agent run: it hands the reasoning capability a
// fixed prompt and a two-tool surface (run a browser command, report a
// navigation step), streams tool activity outward, and decides when the
// run is over.
package race

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/wikirace/internal/sandbox"
	"github.com/mohammad-safakhou/wikirace/internal/stream"
	"github.com/mohammad-safakhou/wikirace/internal/telemetry"
)

const (
	// maxToolOutput caps what a single browser command may feed back to
	// the model.
	maxToolOutput = 8000
	// resultPreviewLen bounds the result excerpt carried on browser
	// stream events.
	resultPreviewLen = 200
	// turnsPerStep converts the navigation budget into a reasoning-turn
	// ceiling, leaving room for snapshots and retries between clicks.
	turnsPerStep = 3
)

const truncationMarker = "\n\n... (truncated, use scroll down + snapshot -i to see more)"

// Race identifies one run of the agent.
type Race struct {
	CardID      string `json:"card_id"`
	SessionID   string `json:"session_id"`
	StartTitle  string `json:"start_title"`
	TargetTitle string `json:"target_title"`
	MaxSteps    int    `json:"max_steps"`
}

type Driver struct {
	llm     LLMProvider
	gateway sandbox.Gateway
	logger  *log.Logger
}

func NewDriver(llm LLMProvider, gateway sandbox.Gateway) *Driver {
	return &Driver{
		llm:     llm,
		gateway: gateway,
		logger:  log.New(log.Writer(), "[RACE] ", log.LstdFlags),
	}
}

func systemPrompt(r Race) string {
	return fmt.Sprintf(`You are a Wikipedia Race agent. Navigate from %q to %q by clicking Wikipedia links.

RULES:
- You are on %q. ONLY click internal /wiki/ links.
- No search bar, no URL typing, no back button.
- Max %d clicks. Loops = lose.

CRITICAL: Always use "agent-browser snapshot -i" (interactive only). NEVER use "agent-browser snapshot" without -i. The full page is too large. The -i flag shows only clickable links which is all you need.

WORKFLOW - repeat for each step:
1. "agent-browser snapshot -i" -> see clickable links with @refs
2. Find the link closest to %q and click it with "agent-browser click @ref"
3. Call report_step with what you clicked and why
4. If page title = %q, set success=true and STOP

Be direct. Pick the most obvious connection. Don't overthink it.`,
		r.StartTitle, r.TargetTitle, r.StartTitle, r.MaxSteps, r.TargetTitle, r.TargetTitle)
}

func toolDefs() []ToolDef {
	return []ToolDef{
		{
			Type: "function",
			Function: FunctionDef{
				Name: "browser",
				Description: `Run an agent-browser CLI command. ALWAYS use "snapshot -i" (never bare "snapshot").
Available:
- agent-browser snapshot -i    Links and interactive elements only (ALWAYS use this)
- agent-browser click @ref     Click element by ref
- agent-browser scroll down    Scroll to see more links
- agent-browser get title      Get page title`,
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"command": map[string]any{
							"type":        "string",
							"description": "agent-browser command, e.g. 'agent-browser snapshot -i'",
						},
					},
					"required": []string{"command"},
				},
			},
		},
		{
			Type: "function",
			Function: FunctionDef{
				Name:        "report_step",
				Description: "Log navigation progress after each click. Set success=true when page title matches target.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"step_number":   map[string]any{"type": "integer", "description": "Step (1-based)"},
						"current_title": map[string]any{"type": "string", "description": "Page you are on now"},
						"selected_link": map[string]any{"type": "string", "description": "Link text you clicked"},
						"reason":        map[string]any{"type": "string", "description": "Why this link"},
						"success":       map[string]any{"type": "boolean", "description": "true if on the target page"},
					},
					"required": []string{"step_number", "current_title", "selected_link", "reason", "success"},
				},
			},
		},
	}
}

// Go's regexp has no lookahead, so the rewrite keeps an existing -i and
// appends it otherwise.
var snapshotRE = regexp.MustCompile(`\bsnapshot\b(\s+-i\b)?`)

// sanitizeCommand forces the interactive-only flag onto any snapshot
// invocation; the unfiltered snapshot is too large for the tool budget.
func sanitizeCommand(cmd string) string {
	return snapshotRE.ReplaceAllStringFunc(cmd, func(m string) string {
		if strings.Contains(m, "-i") {
			return m
		}
		return "snapshot -i"
	})
}

func truncateOutput(text string) string {
	if len(text) <= maxToolOutput {
		return text
	}
	return text[:maxToolOutput] + truncationMarker
}

func preview(text string) string {
	if len(text) <= resultPreviewLen {
		return text
	}
	return text[:resultPreviewLen]
}

// Run executes one race, emitting browser/step events while the agent
// works and exactly one terminal event (done or error) at the end. The
// remote session is closed exactly once on every exit path, even when
// event delivery fails or the consumer disconnects mid-run.
func (d *Driver) Run(ctx context.Context, r Race, enc *stream.Encoder) {
	defer d.gateway.CloseSession(context.WithoutCancel(ctx), r.SessionID)

	terminal := false
	send := func(ev stream.Event) {
		telemetry.StreamEvents.WithLabelValues(string(ev.Type)).Inc()
		if err := enc.Encode(ev); err != nil {
			// A broken output channel must not skip cleanup or the
			// terminal accounting below.
			d.logger.Printf("card %s: drop %s event: %v", r.CardID, ev.Type, err)
		}
	}
	sendTerminal := func(ev stream.Event) {
		if terminal {
			return
		}
		terminal = true
		outcome := "error"
		if ev.Type == stream.EventDone {
			outcome = "failure"
			if ev.Success {
				outcome = "success"
			}
		}
		telemetry.RacesFinished.WithLabelValues(outcome).Inc()
		send(ev)
	}

	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt(r)},
		{Role: "user", Content: "Begin! Take a snapshot of the interactive elements on the current page."},
	}
	tools := toolDefs()

	succeeded := false
	for turn := 0; turn < turnsPerStep*r.MaxSteps; turn++ {
		msg, err := d.llm.ChatWithTools(ctx, messages, tools)
		if err != nil {
			d.logger.Printf("card %s: llm error: %v", r.CardID, err)
			sendTerminal(stream.Event{Type: stream.EventError, Error: err.Error()})
			return
		}
		messages = append(messages, msg)

		for _, tc := range msg.ToolCalls {
			var content string
			switch tc.Function.Name {
			case "browser":
				content = d.handleBrowser(ctx, r, tc, send)
			case "report_step":
				var ok bool
				content, ok = d.handleReportStep(r, tc, send)
				if ok {
					succeeded = true
				}
			default:
				content = fmt.Sprintf(`{"error":"unknown tool %s"}`, tc.Function.Name)
			}
			messages = append(messages, ChatMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: tc.ID,
			})
		}

		// Success races ahead of the model's natural completion: the
		// moment a report carries success=true the run is over.
		if succeeded {
			sendTerminal(stream.Event{Type: stream.EventDone, Success: true})
			return
		}
	}

	// Reasoning budget exhausted without reaching the target. Not an
	// error: the outcome is a failed done.
	sendTerminal(stream.Event{Type: stream.EventDone, Success: false})
}

func (d *Driver) handleBrowser(ctx context.Context, r Race, tc ToolCall, send func(stream.Event)) string {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return fmt.Sprintf(`{"error":"bad browser arguments: %s"}`, err)
	}

	sanitized := sanitizeCommand(args.Command)
	res := d.gateway.Exec(ctx, r.SessionID, sanitized)

	send(stream.Event{
		Type:    stream.EventBrowser,
		Command: sanitized,
		Result:  preview(res.Result),
	})

	var out map[string]string
	if res.Err != "" {
		out = map[string]string{"error": res.Err}
	} else {
		result := res.Result
		if result == "" {
			result = "(no output)"
		}
		out = map[string]string{"result": truncateOutput(result)}
	}
	payload, _ := json.Marshal(out)
	return string(payload)
}

func (d *Driver) handleReportStep(r Race, tc ToolCall, send func(stream.Event)) (string, bool) {
	var args struct {
		StepNumber   int    `json:"step_number"`
		CurrentTitle string `json:"current_title"`
		SelectedLink string `json:"selected_link"`
		Reason       string `json:"reason"`
		Success      bool   `json:"success"`
	}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return fmt.Sprintf(`{"error":"bad report_step arguments: %s"}`, err), false
	}

	send(stream.Event{
		Type: stream.EventStep,
		Step: &stream.Step{
			StepNumber:   args.StepNumber,
			CurrentTitle: args.CurrentTitle,
			SelectedLink: args.SelectedLink,
			Reason:       args.Reason,
			Success:      args.Success,
			Target:       r.TargetTitle,
			CardID:       r.CardID,
		},
	})

	ack, _ := json.Marshal(map[string]any{"ok": true, "success": args.Success})
	return string(ack), args.Success
}
