package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"intraday-signals/internal/engine"
	"intraday-signals/internal/model"
	"intraday-signals/internal/signal"
	"intraday-signals/internal/store/sqlite"
)

// currentView returns the published view. When the view is older than the
// cache window and the market is open, a tick runs first; if a tick is
// already running the existing view is served.
func (h *APIHandler) currentView(ctx context.Context) (*engine.View, bool) {
	v := h.deps.Engine.View()
	now := h.now()
	if now.Sub(v.LastTick) < h.cacheWindow || !h.deps.Schedule.InWindow(now) {
		return v, true
	}
	res := h.deps.Engine.Tick(ctx, now)
	if res.Status == engine.StatusSkipped {
		return v, true
	}
	return h.deps.Engine.View(), false
}

// GetSignals handles GET /api/signals?type=bullish|bearish.
func (h *APIHandler) GetSignals(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	v, cached := h.currentView(ctx)
	signals := signal.FilterByType(v.Signals, c.Query("type"))
	if signals == nil {
		signals = []model.Signal{}
	}

	c.JSON(http.StatusOK, gin.H{
		"tradingDate": v.TradingDate,
		"status":      v.Status,
		"count":       len(signals),
		"signals":     signals,
		"lastUpdated": v.LastTick,
		"cached":      cached,
		"error":       v.Error,
	})
}

// GetStock handles GET /api/stock/:symbol.
func (h *APIHandler) GetStock(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	v := h.deps.Engine.View()

	sig, ok := signal.FindBySymbol(v.Signals, symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no signal for " + symbol})
		return
	}
	resp := gin.H{"signal": sig}
	if pos, tracked := v.Position(symbol); tracked {
		resp["position"] = pos
	}
	c.JSON(http.StatusOK, resp)
}

// GetPositions handles GET /api/positions.
func (h *APIHandler) GetPositions(c *gin.Context) {
	v := h.deps.Engine.View()
	c.JSON(http.StatusOK, gin.H{
		"tradingDate": v.TradingDate,
		"count":       len(v.Positions),
		"positions":   v.Positions,
	})
}

// GetHistory handles GET /api/history?days=&symbol=&type=.
func (h *APIHandler) GetHistory(c *gin.Context) {
	if h.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	days := 7
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
			return
		}
		days = n
	}
	kind := strings.ToUpper(c.Query("type"))
	switch kind {
	case "", string(model.SignalBuy), string(model.SignalSell):
	case "BULLISH":
		kind = string(model.SignalBuy)
	case "BEARISH":
		kind = string(model.SignalSell)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be BUY or SELL"})
		return
	}

	entries, err := h.deps.History.Query(ctx, sqlite.HistoryQuery{
		Days:       days,
		Symbol:     c.Query("symbol"),
		SignalType: kind,
		Today:      h.deps.Schedule.TradingDate(h.now()),
	})
	if err != nil {
		h.handleError(c, err, http.StatusInternalServerError, "history query failed")
		return
	}
	if entries == nil {
		entries = []sqlite.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"days": days, "count": len(entries), "history": entries})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateHistoryStatus handles PUT /api/history/:date/:symbol/status.
func (h *APIHandler) UpdateHistoryStatus(c *gin.Context) {
	if h.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is not configured"})
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"status\": ...}"})
		return
	}
	err := h.deps.History.UpdateStatus(c.Request.Context(), c.Param("date"), strings.ToUpper(c.Param("symbol")), req.Status)
	switch {
	case errors.Is(err, sqlite.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, sqlite.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		h.handleError(c, err, http.StatusInternalServerError, "status update failed")
	default:
		c.JSON(http.StatusOK, gin.H{"updated": true})
	}
}

// GetStats handles GET /api/stats.
func (h *APIHandler) GetStats(c *gin.Context) {
	if h.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is not configured"})
		return
	}
	stats, err := h.deps.History.Stats(c.Request.Context())
	if err != nil {
		h.handleError(c, err, http.StatusInternalServerError, "stats failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetAlerts handles GET /api/alerts?limit=.
func (h *APIHandler) GetAlerts(c *gin.Context) {
	if h.deps.Alerts == nil {
		v := h.deps.Engine.View()
		alerts := v.Alerts
		if alerts == nil {
			alerts = []model.AlertIntent{}
		}
		c.JSON(http.StatusOK, gin.H{"source": "view", "alerts": alerts})
		return
	}
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	alerts, err := h.deps.Alerts.RecentAlerts(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, err, http.StatusServiceUnavailable, "alert feed unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": "stream", "alerts": alerts})
}

// Refresh handles /api/refresh. It runs a tick regardless of the trading
// window and returns the tick result.
func (h *APIHandler) Refresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	res := h.deps.Engine.Tick(ctx, h.now())
	code := http.StatusOK
	switch res.Status {
	case engine.StatusSkipped:
		code = http.StatusConflict
	case engine.StatusFailure:
		code = http.StatusBadGateway
	}
	c.JSON(code, gin.H{
		"id":          res.ID,
		"status":      res.Status,
		"tradingDate": res.TradingDate,
		"count":       len(res.Signals),
		"omitted":     len(res.Omitted),
		"alerts":      len(res.Alerts),
		"retryable":   res.Retryable(),
		"error":       res.Error,
		"duration":    res.Duration.String(),
	})
}

// HealthCheck handles GET /api/health.
func (h *APIHandler) HealthCheck(c *gin.Context) {
	if h.deps.Health != nil {
		h.deps.Health.ServeHTTP(c.Writer, c.Request)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"service":   ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *APIHandler) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID := c.GetString(RequestIDContextKey)
	if requestID == "" {
		requestID = "unknown"
	}
	h.logger.Error("API error",
		slog.String("request_id", requestID),
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()),
	)
	c.JSON(statusCode, gin.H{"error": userMessage, "request_id": requestID})
}
