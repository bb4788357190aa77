package server

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tradesage-ai/tradesage/internal/agent/core"
	"github.com/tradesage-ai/tradesage/internal/knowledge"
	"github.com/tradesage-ai/tradesage/internal/store"
)

// Handler serves the analysis API. Store may be nil when persistence is not
// configured; the endpoints that need it then answer 503.
type Handler struct {
	Pipeline  *core.Pipeline
	Store     *store.Store
	Retriever *knowledge.Retriever
	Logger    *log.Logger
}

// Register attaches all routes under the given group.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/hypotheses/process", h.ProcessHypothesis)
	g.GET("/hypotheses/:id", h.GetHypothesis)
	g.GET("/dashboard", h.Dashboard)
	g.GET("/alerts", h.ListAlerts)
	g.PATCH("/alerts/:id/read", h.MarkAlertRead)
	g.POST("/chat", h.Chat)
}

// ProcessHypothesis runs the full pipeline for one hypothesis and persists
// the outcome. Persistence failures are logged, not surfaced: the analysis
// itself succeeded and the caller gets it.
func (h *Handler) ProcessHypothesis(c echo.Context) error {
	var req core.HypothesisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result := h.Pipeline.ProcessHypothesis(c.Request().Context(), req)
	if result.Status == "error" && result.ProcessedHypothesis == "" {
		return echo.NewHTTPError(http.StatusBadRequest, result.Error)
	}

	if result.Status == "success" && h.Retriever != nil {
		if err := h.Retriever.IndexResult(result); err != nil {
			h.Logger.Printf("knowledge indexing failed for %s: %v", result.ID, err)
		}
	}
	if h.Store != nil {
		if err := h.Store.SaveResult(c.Request().Context(), result); err != nil {
			h.Logger.Printf("persist failed for %s: %v", result.ID, err)
		}
	}

	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetHypothesis(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence not configured")
	}
	result, err := h.Store.GetResult(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "hypothesis not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Dashboard(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence not configured")
	}
	summary, err := h.Store.Dashboard(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) ListAlerts(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence not configured")
	}
	unreadOnly := c.QueryParam("unread") == "true"
	alerts, err := h.Store.ListAlerts(c.Request().Context(), unreadOnly)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
}

func (h *Handler) MarkAlertRead(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "persistence not configured")
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid alert id")
	}
	if err := h.Store.MarkAlertRead(c.Request().Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "alert not found")
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Chat runs one conversational turn. An empty message is the caller's error;
// an upstream model failure is a gateway error, reported with the session id
// so the caller can retry in context.
func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result := h.Pipeline.Chat(c.Request().Context(), req.SessionID, req.Message)
	switch {
	case result.Status == "error" && result.Error == "message is empty":
		return echo.NewHTTPError(http.StatusBadRequest, result.Error)
	case result.Status == "error":
		return c.JSON(http.StatusBadGateway, result)
	}
	return c.JSON(http.StatusOK, result)
}
