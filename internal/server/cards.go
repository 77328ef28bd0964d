package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/wikirace/internal/cards"
	"github.com/mohammad-safakhou/wikirace/internal/telemetry"
)

type CardsHandler struct {
	Gen          *cards.Generator
	DefaultCount int
	MaxCount     int
}

func (h *CardsHandler) Register(e *echo.Echo) {
	e.GET("/cards", h.list)
}

type cardsResponse struct {
	Cards []cards.Card `json:"cards"`
}

func (h *CardsHandler) list(c echo.Context) error {
	count := h.DefaultCount
	if raw := c.QueryParam("count"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			count = n
		}
	}
	if count < 1 {
		count = 1
	}
	if count > h.MaxCount {
		count = h.MaxCount
	}

	batch := h.Gen.GenerateN(count)
	telemetry.CardsServed.Add(float64(len(batch)))
	return c.JSON(http.StatusOK, cardsResponse{Cards: batch})
}
