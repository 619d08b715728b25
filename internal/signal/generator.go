// Package signal turns a snapshot batch into ATR-based BUY/SELL signals.
package signal

import (
	"context"
	"fmt"
	"log"
	"math"
	"slices"
	"time"

	"intraday-signals/config"
	"intraday-signals/internal/model"
	"intraday-signals/internal/volatility"
)

// Config is the subset of the app config the generator reads.
type Config struct {
	MinChangePercent  float64
	ATRPeriod         int
	SLMultiplier      float64
	TargetMultipliers [2]float64

	// HistoryTimeout bounds each symbol's candle fetch. Zero means the
	// caller's context is the only bound.
	HistoryTimeout time.Duration
}

// ConfigFrom extracts generator settings from a validated app config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		MinChangePercent:  c.MinChangePercent,
		ATRPeriod:         c.ATRPeriod,
		SLMultiplier:      c.SLMultiplier,
		TargetMultipliers: [2]float64{c.TargetMultipliers[0], c.TargetMultipliers[1]},
		HistoryTimeout:    c.FetchTimeout(),
	}
}

// Omission records a qualifying symbol that produced no signal.
type Omission struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// Batch is one tick's generator output. Omitted holds symbols whose data
// was unusable; Cancelled holds symbols never built because the context
// ended first.
type Batch struct {
	Signals   []model.Signal `json:"signals"`
	Omitted   []Omission     `json:"omitted,omitempty"`
	Cancelled []string       `json:"cancelled,omitempty"`
}

// Partial reports whether any qualifying symbol was dropped.
func (b Batch) Partial() bool {
	return len(b.Omitted) > 0 || len(b.Cancelled) > 0
}

// Generator builds signals. It performs no I/O of its own beyond the
// CandleProvider it is given.
type Generator struct {
	cfg     Config
	candles model.CandleProvider
	now     func() time.Time
}

// NewGenerator creates a generator that fetches history from candles.
func NewGenerator(cfg Config, candles model.CandleProvider) *Generator {
	return &Generator{cfg: cfg, candles: candles, now: time.Now}
}

// Qualify keeps snapshots with |changePercent| >= min and orders them by
// |changePercent| descending. Ties keep their batch order.
func Qualify(snapshots []model.StockSnapshot, minChangePercent float64) []model.StockSnapshot {
	out := make([]model.StockSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if math.Abs(s.ChangePercent) >= minChangePercent {
			out = append(out, s)
		}
	}
	slices.SortStableFunc(out, func(a, b model.StockSnapshot) int {
		x, y := math.Abs(a.ChangePercent), math.Abs(b.ChangePercent)
		switch {
		case x > y:
			return -1
		case x < y:
			return 1
		}
		return 0
	})
	return out
}

// Generate qualifies the batch and builds one signal per qualifying
// symbol. Symbols whose history cannot be fetched are omitted and logged;
// the batch itself never fails. Once ctx ends the remaining symbols are
// listed as cancelled, not omitted.
func (g *Generator) Generate(ctx context.Context, snapshots []model.StockSnapshot) Batch {
	qualified := Qualify(snapshots, g.cfg.MinChangePercent)
	batch := Batch{Signals: make([]model.Signal, 0, len(qualified))}

	for i, snap := range qualified {
		if ctx.Err() != nil {
			for _, rest := range qualified[i:] {
				batch.Cancelled = append(batch.Cancelled, rest.Symbol)
			}
			log.Printf("[signal] %d symbols not built: %v", len(qualified)-i, ctx.Err())
			break
		}
		sig, err := g.Build(ctx, snap)
		if err != nil && ctx.Err() != nil {
			batch.Cancelled = append(batch.Cancelled, snap.Symbol)
			continue
		}
		if err != nil {
			log.Printf("[signal] %s omitted: %v", snap.Symbol, err)
			batch.Omitted = append(batch.Omitted, Omission{Symbol: snap.Symbol, Reason: err.Error()})
			continue
		}
		batch.Signals = append(batch.Signals, sig)
	}
	return batch
}

// Build constructs the signal for one snapshot.
func (g *Generator) Build(ctx context.Context, snap model.StockSnapshot) (model.Signal, error) {
	if err := ctx.Err(); err != nil {
		return model.Signal{}, err
	}
	fetchCtx, cancel := ctx, context.CancelFunc(func() {})
	if g.cfg.HistoryTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, g.cfg.HistoryTimeout)
	}
	history, err := g.candles.Candles(fetchCtx, snap.Symbol)
	cancel()
	if err != nil {
		return model.Signal{}, fmt.Errorf("historical candles: %w", err)
	}

	series := make([]model.Candle, 0, len(history)+1)
	series = append(series, history...)
	series = append(series, snap.PartialCandle())

	isBuy := snap.ChangePercent > 0
	entry := snap.Close
	atr := volatility.AverageTrueRange(series, g.cfg.ATRPeriod)
	lv := volatility.ComputeLevels(entry, atr, g.cfg.SLMultiplier, g.cfg.TargetMultipliers[:], isBuy)

	rr1, rr2 := model.UndefinedRatio, model.UndefinedRatio
	if lv.Risk != 0 {
		rr1 = model.NewRiskReward(lv.Rewards[0], lv.Risk)
		rr2 = model.NewRiskReward(lv.Rewards[1], lv.Risk)
	}

	sigType := model.SignalSell
	if isBuy {
		sigType = model.SignalBuy
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = g.now()
	}

	return model.Signal{
		Symbol:        snap.Symbol,
		CompanyName:   snap.CompanyName,
		SignalType:    sigType,
		EntryPrice:    model.Round2(entry),
		StopLoss:      model.Round2(lv.StopLoss),
		Target1:       model.Round2(lv.Targets[0]),
		Target2:       model.Round2(lv.Targets[1]),
		ATR:           model.Round2(atr),
		ChangePercent: model.Round2(snap.ChangePercent),
		RiskReward1:   rr1,
		RiskReward2:   rr2,
		Timestamp:     ts,
		Open:          snap.Open,
		High:          snap.High,
		Low:           snap.Low,
		PreviousClose: snap.PreviousClose,
		Volume:        snap.Volume,
	}, nil
}
