// Package api serves the dashboard REST routes. Every read comes from the
// engine's last published view or the history store; only /api/refresh can
// start a tick.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"intraday-signals/internal/engine"
	"intraday-signals/internal/notification"
	"intraday-signals/internal/store/sqlite"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultCacheWindow  = 60 * time.Second
	ServiceName         = "intraday-signals"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// Engine is the part of the signal engine the API reads and triggers.
type Engine interface {
	View() *engine.View
	Tick(ctx context.Context, now time.Time) engine.TickResult
}

// Schedule tells the API whether a stale view may be refreshed.
type Schedule interface {
	TradingDate(t time.Time) string
	InWindow(t time.Time) bool
}

// History is the signal history store.
type History interface {
	Query(ctx context.Context, q sqlite.HistoryQuery) ([]sqlite.HistoryEntry, error)
	Stats(ctx context.Context) (sqlite.HistoryStats, error)
	UpdateStatus(ctx context.Context, tradingDate, symbol, status string) error
}

// AlertFeed returns recently dispatched alerts, newest first.
type AlertFeed interface {
	RecentAlerts(ctx context.Context, n int64) ([]notification.Alert, error)
}

// Deps are the handler's collaborators. Engine and Schedule are required.
type Deps struct {
	Engine   Engine
	Schedule Schedule
	History  History
	Alerts   AlertFeed
	Health   http.Handler
	Metrics  http.Handler
	WS       http.Handler
}

// APIHandler handles HTTP requests using Gin.
type APIHandler struct {
	deps        Deps
	cacheWindow time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewAPIHandler creates a new API handler. A non-positive cacheWindow uses
// DefaultCacheWindow.
func NewAPIHandler(deps Deps, cacheWindow time.Duration, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheWindow <= 0 {
		cacheWindow = DefaultCacheWindow
	}
	return &APIHandler{deps: deps, cacheWindow: cacheWindow, logger: logger, now: time.Now}
}

// SetupRoutes configures all routes.
func (h *APIHandler) SetupRoutes() *gin.Engine {
	router := gin.New()

	router.Use(requestIDMiddleware())
	router.Use(ginLoggerMiddleware())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	api := router.Group("/api")
	api.GET("/signals", h.GetSignals)
	api.GET("/stock/:symbol", h.GetStock)
	api.GET("/positions", h.GetPositions)
	api.GET("/history", h.GetHistory)
	api.PUT("/history/:date/:symbol/status", h.UpdateHistoryStatus)
	api.GET("/stats", h.GetStats)
	api.GET("/alerts", h.GetAlerts)
	api.POST("/refresh", h.Refresh)
	api.GET("/refresh", h.Refresh)
	api.GET("/health", h.HealthCheck)

	if h.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.deps.Metrics))
	}
	if h.deps.WS != nil {
		router.GET("/ws", gin.WrapH(h.deps.WS))
	}
	return router
}
