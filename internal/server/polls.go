package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/wikirace/internal/poll"
	"github.com/mohammad-safakhou/wikirace/internal/telemetry"
)

type PollsHandler struct {
	Ledger poll.Ledger
}

func (h *PollsHandler) Register(e *echo.Echo) {
	e.GET("/poll", h.get)
	e.POST("/poll", h.vote)
}

func (h *PollsHandler) get(c echo.Context) error {
	cardID := c.QueryParam("card_id")
	if cardID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "card_id required")
	}

	p, err := h.Ledger.GetPoll(c.Request().Context(), cardID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

type voteRequest struct {
	CardID string      `json:"card_id"`
	Vote   poll.Option `json:"vote"`
}

func (h *PollsHandler) vote(c echo.Context) error {
	var req voteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.CardID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "card_id required")
	}
	if !req.Vote.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown vote bucket")
	}

	p, err := h.Ledger.RecordVote(c.Request().Context(), req.CardID, req.Vote)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	telemetry.VotesRecorded.WithLabelValues(string(req.Vote)).Inc()
	return c.JSON(http.StatusOK, p)
}
