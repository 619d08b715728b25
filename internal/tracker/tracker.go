// Package tracker watches BUY opportunities through the trading day and
// decides when to raise exit alerts.
//
// Per-symbol states: UNTRACKED -> WATCHING -> WARNED. A new peak moves a
// WARNED position back to WATCHING. EXIT_NOW and STOP_LOSS_HIT can fire
// from either tracked state; tracking only ends at the daily reset.
package tracker

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"intraday-signals/config"
	"intraday-signals/internal/model"
)

// NearExitTolerance widens the exit level for the early warning band.
const NearExitTolerance = 1.02

// Config holds tracker thresholds in percent.
type Config struct {
	ExitThresholdPercent float64
	BuyThresholdPercent  float64
}

// ConfigFrom extracts tracker settings from a validated app config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		ExitThresholdPercent: c.ExitThresholdPercent,
		BuyThresholdPercent:  c.BuyThresholdPercent,
	}
}

// Tracker applies the per-tick transition rules to a Store.
type Tracker struct {
	cfg   Config
	store *Store
	now   func() time.Time
	newID func() string
}

// New creates a tracker over store.
func New(cfg Config, store *Store) *Tracker {
	return &Tracker{cfg: cfg, store: store, now: time.Now, newID: uuid.NewString}
}

// Store returns the underlying store.
func (t *Tracker) Store() *Store { return t.store }

// Evaluate runs one tick. BUY signals at or above the buy threshold open
// new positions; every tracked symbol present in the batch, including one
// opened this tick, is then moved through the exit rules using its
// snapshot close. Tracked symbols missing
// from the batch are left untouched. Every returned intent has already
// passed the dedupe gate.
func (t *Tracker) Evaluate(tradingDate string, signals []model.Signal, snapshots []model.StockSnapshot) []model.AlertIntent {
	prices := make(map[string]float64, len(snapshots)+len(signals))
	for _, s := range snapshots {
		prices[s.Symbol] = s.Close
	}
	for _, s := range signals {
		if _, ok := prices[s.Symbol]; !ok {
			prices[s.Symbol] = s.EntryPrice
		}
	}

	var intents []model.AlertIntent

	for _, sig := range signals {
		if !sig.IsBuy() || sig.ChangePercent < t.cfg.BuyThresholdPercent {
			continue
		}
		if _, tracked := t.store.positions[sig.Symbol]; tracked {
			continue
		}
		if !t.store.dedupe.ShouldFire(sig.Symbol, string(model.AlertBuy), tradingDate) {
			continue
		}
		pos := t.open(sig, tradingDate)
		t.store.positions[sig.Symbol] = pos
		log.Printf("[tracker] tracking %s @ %.2f, exit warning at %.2f, stop %.2f",
			pos.Symbol, pos.EntryPrice, pos.ExitWarningLevel, pos.StopLoss)

		intents = append(intents, t.intent(model.AlertBuy, pos.Symbol, tradingDate, map[string]any{
			"companyName":      pos.CompanyName,
			"price":            pos.EntryPrice,
			"changePercent":    sig.ChangePercent,
			"openPrice":        model.Round2(pos.OpenPrice),
			"stopLoss":         pos.StopLoss,
			"target1":          sig.Target1,
			"target2":          sig.Target2,
			"exitWarningLevel": model.Round2(pos.ExitWarningLevel),
		}))
	}

	for _, sym := range t.store.symbols() {
		price, ok := prices[sym]
		if !ok {
			continue
		}
		intents = append(intents, t.step(t.store.positions[sym], price, tradingDate)...)
	}
	return intents
}

func (t *Tracker) open(sig model.Signal, tradingDate string) *model.TrackedPosition {
	price := sig.EntryPrice
	openPrice := sig.Open
	if openPrice <= 0 {
		openPrice = price / (1 + sig.ChangePercent/100)
	}
	return &model.TrackedPosition{
		Symbol:           sig.Symbol,
		CompanyName:      sig.CompanyName,
		EntryPrice:       price,
		OpenPrice:        openPrice,
		PeakPrice:        price,
		StopLoss:         sig.StopLoss,
		ExitWarningLevel: price * (1 + t.cfg.ExitThresholdPercent/100),
		WarningEpisode:   1,
		LastPrice:        price,
		TradingDate:      tradingDate,
		EntryTime:        t.now(),
	}
}

// step applies peak, warning, exit-now and stop-loss rules for one price.
func (t *Tracker) step(pos *model.TrackedPosition, price float64, tradingDate string) []model.AlertIntent {
	var out []model.AlertIntent
	pos.LastPrice = price

	if price > pos.PeakPrice {
		pos.PeakPrice = price
		if pos.ExitWarningShown {
			pos.WarningEpisode++
		}
		pos.ExitWarningShown = false
	}

	level := pos.ExitWarningLevel
	nearExit := price <= level*NearExitTolerance
	fallenFromPeak := pos.PeakPrice > level && price < pos.PeakPrice

	if nearExit && fallenFromPeak && !pos.ExitWarningShown {
		pos.ExitWarningShown = true
		if t.store.dedupe.ShouldFire(pos.Symbol, warningKey(pos), tradingDate) {
			out = append(out, t.intent(model.AlertExitWarning, pos.Symbol, tradingDate, map[string]any{
				"companyName":      pos.CompanyName,
				"currentPrice":     price,
				"entryPrice":       pos.EntryPrice,
				"peakPrice":        pos.PeakPrice,
				"exitWarningLevel": model.Round2(level),
				"profitFromEntry":  model.Round2(model.ChangeFrom(price, pos.EntryPrice)),
				"dropFromPeak":     model.Round2(-model.ChangeFrom(price, pos.PeakPrice)),
			}))
		}
	}

	if price <= level && t.store.dedupe.ShouldFire(pos.Symbol, string(model.AlertExitNow), tradingDate) {
		out = append(out, t.intent(model.AlertExitNow, pos.Symbol, tradingDate, map[string]any{
			"companyName":      pos.CompanyName,
			"currentPrice":     price,
			"entryPrice":       pos.EntryPrice,
			"exitWarningLevel": model.Round2(level),
		}))
	}

	if price <= pos.StopLoss && t.store.dedupe.ShouldFire(pos.Symbol, string(model.AlertStopLossHit), tradingDate) {
		out = append(out, t.intent(model.AlertStopLossHit, pos.Symbol, tradingDate, map[string]any{
			"companyName":   pos.CompanyName,
			"currentPrice":  price,
			"entryPrice":    pos.EntryPrice,
			"stopLoss":      pos.StopLoss,
			"lossFromEntry": model.Round2(-model.ChangeFrom(price, pos.EntryPrice)),
		}))
	}
	return out
}

// warningKey scopes the warning dedupe key to the current fallen-from-peak
// episode so a fresh peak can warn again the same day.
func warningKey(pos *model.TrackedPosition) string {
	return fmt.Sprintf("%s#%d", model.AlertExitWarning, pos.WarningEpisode)
}

func (t *Tracker) intent(kind model.AlertKind, symbol, tradingDate string, payload map[string]any) model.AlertIntent {
	return model.AlertIntent{
		ID:          t.newID(),
		Kind:        kind,
		Symbol:      symbol,
		TradingDate: tradingDate,
		Payload:     payload,
		CreatedAt:   t.now(),
	}
}
