// Package server exposes the analysis pipeline over HTTP: hypothesis
// processing, the dashboard, alert management and chat.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tradesage-ai/tradesage/config"
	"github.com/tradesage-ai/tradesage/internal/agent/core"
	"github.com/tradesage-ai/tradesage/internal/agent/telemetry"
	"github.com/tradesage-ai/tradesage/internal/knowledge"
	"github.com/tradesage-ai/tradesage/internal/sources"
	"github.com/tradesage-ai/tradesage/internal/store"
)

// Run wires all components and serves until the listener fails.
func Run(addr, cfgPath string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	e := newEcho()
	ctx := context.Background()

	tele := telemetry.NewTelemetry(cfg.Telemetry)

	// Redis only backs the quote cache; running without it is fine.
	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("[SERVER] redis unavailable, quote cache disabled: %v", err)
			rdb = nil
		}
	}

	market := sources.NewMarketData(cfg.Sources, rdb, cfg.Storage.Redis.CacheTTL)
	news := sources.NewNews(cfg.Sources.News, cfg.Sources.AlphaVantage)
	retriever, err := knowledge.NewRetriever()
	if err != nil {
		return err
	}

	pipelineLogger := log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	pipeline, err := core.NewPipeline(cfg, pipelineLogger, tele, market, news, retriever)
	if err != nil {
		return err
	}

	var st *store.Store
	if dsn := cfg.Storage.Postgres.DSN(); cfg.Storage.Postgres.URL != "" || cfg.Storage.Postgres.Host != "" {
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		st, err = store.NewWithDSN(ctx, dsn)
		if err != nil {
			return fmt.Errorf("store: %w", err)
		}
	} else {
		log.Printf("[SERVER] postgres not configured, persistence disabled")
	}

	h := &Handler{
		Pipeline:  pipeline,
		Store:     st,
		Retriever: retriever,
		Logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
	h.Register(e.Group("/api"))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(tele.Registry(), promhttp.HandlerOpts{})))

	if addr == "" {
		addr = cfg.General.Listen
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// newEcho builds the echo instance with the shared middleware and the JSON
// error handler.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
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
		httpLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))
	return e
}
