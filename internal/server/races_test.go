package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/wikirace/internal/race"
	"github.com/mohammad-safakhou/wikirace/internal/sandbox"
	"github.com/mohammad-safakhou/wikirace/internal/stream"
)

type stubGateway struct {
	session   sandbox.Session
	createErr error
	execs     []string
	closes    int
}

func (s *stubGateway) CreateSession(ctx context.Context) (sandbox.Session, error) {
	if s.createErr != nil {
		return sandbox.Session{}, s.createErr
	}
	return s.session, nil
}

func (s *stubGateway) Exec(ctx context.Context, sessionID, command string) sandbox.ExecResult {
	s.execs = append(s.execs, command)
	return sandbox.ExecResult{Result: "(no output)"}
}

func (s *stubGateway) CloseSession(ctx context.Context, sessionID string) { s.closes++ }

type stubLLM struct {
	turns []race.ChatMessage
	calls int
}

func (s *stubLLM) ChatWithTools(ctx context.Context, messages []race.ChatMessage, tools []race.ToolDef) (race.ChatMessage, error) {
	if s.calls >= len(s.turns) {
		s.calls++
		return race.ChatMessage{Role: "assistant"}, nil
	}
	msg := s.turns[s.calls]
	s.calls++
	return msg, nil
}

func TestRaceStartOpensStartArticle(t *testing.T) {
	gw := &stubGateway{session: sandbox.Session{ID: "sess-1", LiveViewURL: "https://live"}}
	h := &RacesHandler{Gateway: gw}
	e := echo.New()
	h.Register(e)

	body := `{"card_id":"c1","start_title":"Donald Trump","target_title":"Brazil","language":"en","max_steps":15}`
	req := httptest.NewRequest(http.MethodPost, "/race/start", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.start(e.NewContext(req, rec)); err != nil {
		t.Fatalf("start: %v", err)
	}
	var resp startResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.SessionID != "sess-1" || resp.LiveViewURL != "https://live" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(gw.execs) != 1 || !strings.Contains(gw.execs[0], "en.wikipedia.org/wiki/Donald_Trump") {
		t.Fatalf("start article not opened: %v", gw.execs)
	}
}

func TestRaceStartUpstreamFailure(t *testing.T) {
	gw := &stubGateway{createErr: &sandbox.UpstreamError{Op: "create session", Err: errors.New("503")}}
	h := &RacesHandler{Gateway: gw}
	e := echo.New()
	h.Register(e)

	req := httptest.NewRequest(http.MethodPost, "/race/start",
		strings.NewReader(`{"card_id":"c1","start_title":"Titanic","target_title":"Mars"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.start(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %v", err)
	}
	if len(gw.execs) != 0 {
		t.Fatalf("no command should run without a session, got %v", gw.execs)
	}
}

func TestRaceStartMissingCredential(t *testing.T) {
	gw := &stubGateway{createErr: sandbox.ErrNotConfigured}
	h := &RacesHandler{Gateway: gw}
	e := echo.New()
	h.Register(e)

	req := httptest.NewRequest(http.MethodPost, "/race/start",
		strings.NewReader(`{"card_id":"c1","start_title":"Titanic","target_title":"Mars"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.start(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
}

func TestRaceRunStreamsEvents(t *testing.T) {
	llm := &stubLLM{turns: []race.ChatMessage{{
		Role: "assistant",
		ToolCalls: []race.ToolCall{{
			ID:   "t1",
			Type: "function",
			Function: race.FunctionCall{
				Name:      "report_step",
				Arguments: `{"step_number":1,"current_title":"Vikings","selected_link":"Internet","reason":"modern tech","success":true}`,
			},
		}},
	}}}
	gw := &stubGateway{}
	h := &RacesHandler{Gateway: gw, Driver: race.NewDriver(llm, gw)}
	e := echo.New()
	h.Register(e)

	body := `{"session_id":"sess-1","start_title":"Vikings","target_title":"Internet","max_steps":15,"card_id":"c1"}`
	req := httptest.NewRequest(http.MethodPost, "/race/run", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.run(e.NewContext(req, rec)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}

	events := stream.NewDecoder().Feed(rec.Body.Bytes())
	if len(events) != 2 {
		t.Fatalf("expected step+done, got %+v", events)
	}
	if events[0].Type != stream.EventStep || events[1].Type != stream.EventDone || !events[1].Success {
		t.Fatalf("unexpected sequence: %+v", events)
	}
	if gw.closes != 1 {
		t.Fatalf("session closed %d times, want 1", gw.closes)
	}
}

func TestRaceRunRequiresSessionAndCard(t *testing.T) {
	h := &RacesHandler{}
	e := echo.New()
	h.Register(e)

	req := httptest.NewRequest(http.MethodPost, "/race/run",
		strings.NewReader(`{"start_title":"Vikings","target_title":"Internet"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.run(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestArticleURL(t *testing.T) {
	if got := articleURL("en", "Donald Trump"); got != "https://en.wikipedia.org/wiki/Donald_Trump" {
		t.Fatalf("articleURL = %q", got)
	}
	if got := articleURL("", "Mona Lisa"); got != "https://en.wikipedia.org/wiki/Mona_Lisa" {
		t.Fatalf("articleURL default language = %q", got)
	}
}
