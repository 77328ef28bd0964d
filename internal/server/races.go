package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/wikirace/internal/cards"
	"github.com/mohammad-safakhou/wikirace/internal/race"
	"github.com/mohammad-safakhou/wikirace/internal/sandbox"
	"github.com/mohammad-safakhou/wikirace/internal/stream"
	"github.com/mohammad-safakhou/wikirace/internal/telemetry"
)

type RacesHandler struct {
	Gateway sandbox.Gateway
	Driver  *race.Driver
	logger  *log.Logger
}

func (h *RacesHandler) Register(e *echo.Echo) {
	if h.logger == nil {
		h.logger = log.New(log.Writer(), "[RACES] ", log.LstdFlags)
	}
	e.POST("/race/start", h.start)
	e.POST("/race/run", h.run)
}

type startResponse struct {
	SessionID   string `json:"session_id"`
	LiveViewURL string `json:"live_view_url"`
}

// articleURL builds the wikipedia address the session is opened on.
func articleURL(language, title string) string {
	if language == "" {
		language = "en"
	}
	slug := strings.ReplaceAll(title, " ", "_")
	return fmt.Sprintf("https://%s.wikipedia.org/wiki/%s", language, url.PathEscape(slug))
}

func (h *RacesHandler) start(c echo.Context) error {
	var card cards.Card
	if err := c.Bind(&card); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if card.StartTitle == "" || card.TargetTitle == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "start_title and target_title required")
	}

	ctx := c.Request().Context()
	sess, err := h.Gateway.CreateSession(ctx)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, sandbox.ErrNotConfigured) {
			code = http.StatusInternalServerError
		}
		h.logger.Printf("start %s: %v", card.CardID, err)
		return echo.NewHTTPError(code, err.Error())
	}

	// Best effort: a failed open surfaces later through the agent's own
	// snapshots, exactly like a mid-race navigation failure would.
	open := fmt.Sprintf("agent-browser open %q", articleURL(card.Language, card.StartTitle))
	if res := h.Gateway.Exec(ctx, sess.ID, open); res.Err != "" {
		h.logger.Printf("start %s: open failed: %s", card.CardID, res.Err)
	}

	telemetry.RacesStarted.Inc()
	return c.JSON(http.StatusOK, startResponse{SessionID: sess.ID, LiveViewURL: sess.LiveViewURL})
}

func (h *RacesHandler) run(c echo.Context) error {
	var r race.Race
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if r.SessionID == "" || r.CardID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id and card_id required")
	}
	if r.MaxSteps <= 0 {
		r.MaxSteps = cards.DefaultMaxSteps
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache, no-transform")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	// The race runs for the lifetime of this request; the stream ends
	// when the driver emits its terminal event.
	h.Driver.Run(c.Request().Context(), r, stream.NewEncoder(resp))
	return nil
}
