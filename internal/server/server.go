// Package server exposes the HTTP surface: card generation, the poll
// ledger, and the race start/run endpoints.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appconfig "github.com/mohammad-safakhou/wikirace/config"
	"github.com/mohammad-safakhou/wikirace/internal/cards"
	"github.com/mohammad-safakhou/wikirace/internal/poll"
	"github.com/mohammad-safakhou/wikirace/internal/poll/inmemory"
	pollpg "github.com/mohammad-safakhou/wikirace/internal/poll/postgres"
	"github.com/mohammad-safakhou/wikirace/internal/poll/redisledger"
	"github.com/mohammad-safakhou/wikirace/internal/race"
	"github.com/mohammad-safakhou/wikirace/internal/sandbox"
	"github.com/mohammad-safakhou/wikirace/internal/sandbox/chromedplocal"
	"github.com/mohammad-safakhou/wikirace/internal/sandbox/firecrawl"
)

func Run(cfg *appconfig.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ledger, err := buildLedger(context.Background(), cfg)
	if err != nil {
		return err
	}
	gateway := buildGateway(cfg)
	llm := race.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, cfg.LLM.Temperature, cfg.LLM.Timeout)
	driver := race.NewDriver(llm, gateway)

	ch := &CardsHandler{
		Gen:          cards.NewGenerator(cfg.Cards.Language, cfg.Cards.MaxSteps),
		DefaultCount: cfg.Cards.DefaultCount,
		MaxCount:     cfg.Cards.MaxCount,
	}
	ch.Register(e)

	ph := &PollsHandler{Ledger: ledger}
	ph.Register(e)

	rh := &RacesHandler{Gateway: gateway, Driver: driver}
	rh.Register(e)

	return e.Start(cfg.Server.Address)
}

func buildLedger(ctx context.Context, cfg *appconfig.Config) (poll.Ledger, error) {
	switch cfg.Poll.Backend {
	case "", "memory":
		return inmemory.NewLedger(), nil
	case "redis":
		client, err := redisledger.Conn(ctx, cfg.Poll.Redis.Addr, cfg.Poll.Redis.Password, cfg.Poll.Redis.DB, cfg.Poll.Redis.DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return redisledger.NewLedger(client), nil
	case "postgres":
		dsn, err := cfg.Poll.Postgres.DSN()
		if err != nil {
			return nil, err
		}
		return pollpg.NewWithDSN(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported poll backend: %s", cfg.Poll.Backend)
	}
}

func buildGateway(cfg *appconfig.Config) sandbox.Gateway {
	if cfg.Sandbox.Provider == "chromedp" {
		return chromedplocal.New()
	}
	return firecrawl.New(cfg.Sandbox.APIKey, cfg.Sandbox.BaseURL)
}
