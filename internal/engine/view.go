package engine

import (
	"strings"
	"time"

	"intraday-signals/internal/model"
	"intraday-signals/internal/signal"
)

// View is the read-only result of the last finished tick. A published View
// is never modified; readers may hold it as long as they like.
type View struct {
	Version     uint64                  `json:"version"`
	TradingDate string                  `json:"tradingDate"`
	Status      Status                  `json:"status,omitempty"`
	LastTick    time.Time               `json:"lastTick"`
	Signals     []model.Signal          `json:"signals"`
	Omitted     []signal.Omission       `json:"omitted,omitempty"`
	Positions   []model.TrackedPosition `json:"positions"`
	Alerts      []model.AlertIntent     `json:"alerts,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

// Position returns the tracked position for symbol, if any.
func (v *View) Position(symbol string) (model.TrackedPosition, bool) {
	for _, p := range v.Positions {
		if strings.EqualFold(p.Symbol, symbol) {
			return p, true
		}
	}
	return model.TrackedPosition{}, false
}
