// Package engine runs the tick pipeline: fetch snapshots, generate signals,
// step the position tracker, dispatch alerts, publish an immutable view and
// persist state.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"intraday-signals/config"
	"intraday-signals/internal/logger"
	"intraday-signals/internal/metrics"
	"intraday-signals/internal/model"
	"intraday-signals/internal/notification"
	"intraday-signals/internal/signal"
	"intraday-signals/internal/tracker"
)

// Status tags the outcome of one tick.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial" // some qualifying symbols were omitted
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped" // another tick was still running
)

var (
	// ErrFetchFailed wraps snapshot fetch errors. The next scheduled tick is
	// the retry.
	ErrFetchFailed = errors.New("snapshot fetch failed")

	// ErrTickInProgress is returned for a skipped tick.
	ErrTickInProgress = errors.New("tick already in progress")
)

// Schedule is the canonical trading calendar.
type Schedule interface {
	TradingDate(t time.Time) string
	InWindow(t time.Time) bool
}

// AlertDispatcher delivers alert intents.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, intents []model.AlertIntent) (notification.DispatchResult, error)
}

// HistoryStore records signals and tracks their outcomes.
type HistoryStore interface {
	model.HistoryRecorder
	MarkOutcomes(ctx context.Context, tradingDate string, snapshots []model.StockSnapshot) (int, error)
	Prune(ctx context.Context, today string, keepDays int) (int64, error)
}

// ViewPublisher receives every published view, JSON encoded.
type ViewPublisher interface {
	PublishView(ctx context.Context, view []byte) error
}

// Config holds engine timing settings.
type Config struct {
	TickInterval         time.Duration
	FetchTimeout         time.Duration
	HistoryRetentionDays int
}

// ConfigFrom extracts engine settings from a validated app config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		TickInterval:         c.TickInterval(),
		FetchTimeout:         c.FetchTimeout(),
		HistoryRetentionDays: c.HistoryRetentionDays,
	}
}

// Deps are the engine's collaborators. Source, Generator, Tracker and
// Schedule are required; the rest are optional.
type Deps struct {
	Source     model.SnapshotSource
	Generator  *signal.Generator
	Tracker    *tracker.Tracker
	Schedule   Schedule
	Dispatcher AlertDispatcher
	State      model.StateStore
	History    HistoryStore
	Sink       model.SignalSink
	Views      []ViewPublisher
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
}

// TickResult is the tagged outcome handed back to the scheduler.
type TickResult struct {
	ID          string                      `json:"id"`
	TradingDate string                      `json:"tradingDate"`
	Status      Status                      `json:"status"`
	StartedAt   time.Time                   `json:"startedAt"`
	Duration    time.Duration               `json:"duration"`
	Signals     []model.Signal              `json:"signals"`
	Omitted     []signal.Omission           `json:"omitted,omitempty"`
	Cancelled   []string                    `json:"cancelled,omitempty"`
	Alerts      []model.AlertIntent         `json:"alerts,omitempty"`
	Delivery    notification.DispatchResult `json:"delivery"`
	Reset       bool                        `json:"reset,omitempty"`
	DeliveryErr error                       `json:"-"`
	Err         error                       `json:"-"`
	Error       string                      `json:"error,omitempty"`
}

// Retryable reports whether the failure should be retried on the next tick.
func (r TickResult) Retryable() bool {
	return r.Status == StatusFailure && errors.Is(r.Err, ErrFetchFailed)
}

// Engine owns the tracker state. Only Tick mutates it, and ticks never
// overlap.
type Engine struct {
	cfg   Config
	deps  Deps
	reset *tracker.DailyReset
	now   func() time.Time

	mu        sync.Mutex // held for the whole tick
	view      atomic.Pointer[View]
	version   atomic.Uint64
	prunedFor string
	wg        sync.WaitGroup
}

// New creates an engine. The daily reset shares the engine's schedule so
// there is one trading date source.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Source == nil || deps.Generator == nil || deps.Tracker == nil || deps.Schedule == nil {
		return nil, errors.New("engine: source, generator, tracker and schedule are required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	e := &Engine{
		cfg:   cfg,
		deps:  deps,
		reset: tracker.NewDailyReset(deps.Schedule, deps.Tracker.Store()),
		now:   time.Now,
	}
	e.view.Store(&View{Signals: []model.Signal{}, Positions: []model.TrackedPosition{}})
	return e, nil
}

// View returns the last published view. It never observes a tick in
// progress.
func (e *Engine) View() *View {
	return e.view.Load()
}

// Restore loads persisted tracker state. Call before the first tick.
func (e *Engine) Restore(ctx context.Context) error {
	if e.deps.State == nil {
		return nil
	}
	st, err := e.deps.State.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deps.Tracker.Store().Restore(st)
	log.Printf("[engine] restored %d tracked positions, %d alert keys (last reset %q)",
		len(st.Positions), len(st.Fired), st.LastResetDate)
	return nil
}

// Flush waits for a running tick and persists the state.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.persist(ctx)
}

// Tick runs one evaluation. If another tick is running it returns
// immediately with StatusSkipped. Once started a tick runs to completion:
// the caller's cancellation and deadline are not inherited, only its
// values. The snapshot fetch and each candle fetch carry their own
// timeouts.
func (e *Engine) Tick(ctx context.Context, now time.Time) TickResult {
	if !e.mu.TryLock() {
		log.Printf("[engine] tick at %s skipped: previous tick still running", now.Format(time.TimeOnly))
		e.deps.Metrics.ObserveSkipped()
		return TickResult{Status: StatusSkipped, StartedAt: now, Err: ErrTickInProgress, Error: ErrTickInProgress.Error()}
	}
	defer e.mu.Unlock()

	res := TickResult{ID: logger.NewTraceID(), StartedAt: now}
	ctx = logger.WithTraceID(context.WithoutCancel(ctx), res.ID)
	start := e.now()

	if e.reset.ResetIfNewDay(now) {
		res.Reset = true
		e.deps.Metrics.ObserveReset()
	}
	res.TradingDate = e.deps.Schedule.TradingDate(now)

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	snaps, err := e.deps.Source.Snapshots(fetchCtx)
	cancel()
	if err != nil {
		res.Status = StatusFailure
		res.Err = fmt.Errorf("%w: %v", ErrFetchFailed, err)
		res.Error = res.Err.Error()
		res.Signals = []model.Signal{}
		log.Printf("[engine] tick %s failed: %v", res.ID, err)
		e.publish(ctx, res)
		e.persistLogged(ctx)
		e.finish(ctx, &res, start)
		return res
	}

	batch := e.deps.Generator.Generate(ctx, snaps)
	res.Signals, res.Omitted, res.Cancelled = batch.Signals, batch.Omitted, batch.Cancelled
	res.Status = StatusSuccess
	if batch.Partial() {
		res.Status = StatusPartial
	}

	res.Alerts = e.deps.Tracker.Evaluate(res.TradingDate, batch.Signals, snaps)
	for _, a := range res.Alerts {
		e.deps.Metrics.ObserveAlert(string(a.Kind))
	}

	e.publish(ctx, res)
	e.persistLogged(ctx)

	if e.deps.Dispatcher != nil && len(res.Alerts) > 0 {
		res.Delivery, res.DeliveryErr = e.deps.Dispatcher.Dispatch(ctx, res.Alerts)
		e.deps.Metrics.ObserveDeliveryFailures(res.Delivery.Failed)
	}
	if e.deps.Sink != nil {
		if err := e.deps.Sink.PublishSignals(ctx, res.TradingDate, res.Signals); err != nil {
			log.Printf("[engine] signal sink: %v", err)
		}
	}
	e.recordHistory(ctx, res.TradingDate, res.Signals, snaps)

	e.finish(ctx, &res, start)
	return res
}

func (e *Engine) finish(ctx context.Context, res *TickResult, start time.Time) {
	res.Duration = e.now().Sub(start)

	buys, sells := 0, 0
	for _, s := range res.Signals {
		if s.IsBuy() {
			buys++
		} else {
			sells++
		}
	}
	tracked := e.deps.Tracker.Store().Len()
	e.deps.Metrics.ObserveTick(string(res.Status), res.Duration, buys, sells, len(res.Omitted), tracked)
	if e.deps.Health != nil {
		e.deps.Health.SetLastTick(res.StartedAt, string(res.Status), tracked)
	}

	attrs := append(logger.LogWithTrace(ctx),
		slog.String("status", string(res.Status)),
		slog.String("trading_date", res.TradingDate),
		slog.Int("signals", len(res.Signals)),
		slog.Int("omitted", len(res.Omitted)),
		slog.Int("cancelled", len(res.Cancelled)),
		slog.Int("alerts", len(res.Alerts)),
		slog.Int("tracked", tracked),
		slog.Duration("duration", res.Duration),
	)
	if res.DeliveryErr != nil {
		attrs = append(attrs,
			slog.Int("delivery_failed", res.Delivery.Failed),
			slog.String("delivery_error", res.DeliveryErr.Error()))
	}
	if res.Err != nil {
		slog.Warn("tick finished", append(attrs, slog.String("error", res.Error))...)
		return
	}
	if res.DeliveryErr != nil {
		slog.Warn("tick finished", attrs...)
		return
	}
	slog.Info("tick finished", attrs...)
}

// publish swaps in a fresh view built from copies of the tick's output.
func (e *Engine) publish(ctx context.Context, res TickResult) {
	prev := e.view.Load()
	v := &View{
		Version:     e.version.Add(1),
		TradingDate: res.TradingDate,
		Status:      res.Status,
		LastTick:    res.StartedAt,
		Signals:     append([]model.Signal(nil), res.Signals...),
		Omitted:     append([]signal.Omission(nil), res.Omitted...),
		Alerts:      append([]model.AlertIntent(nil), res.Alerts...),
		Positions:   e.deps.Tracker.Store().Positions(),
		Error:       res.Error,
	}
	if res.Status == StatusFailure && prev != nil && prev.TradingDate == res.TradingDate {
		// keep the last good signals visible through a failed fetch
		v.Signals = prev.Signals
	}
	if v.Signals == nil {
		v.Signals = []model.Signal{}
	}
	if v.Positions == nil {
		v.Positions = []model.TrackedPosition{}
	}
	e.view.Store(v)

	if len(e.deps.Views) == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[engine] marshal view: %v", err)
		return
	}
	for _, p := range e.deps.Views {
		if err := p.PublishView(ctx, data); err != nil {
			log.Printf("[engine] publish view: %v", err)
		}
	}
}

func (e *Engine) persist(ctx context.Context) error {
	if e.deps.State == nil {
		return nil
	}
	return e.deps.State.SaveState(ctx, e.deps.Tracker.Store().Export())
}

// persistLogged saves state; failures leave memory authoritative.
func (e *Engine) persistLogged(ctx context.Context) {
	if err := e.persist(ctx); err != nil {
		e.deps.Metrics.ObserveStateSaveError()
		log.Printf("[engine] state save failed (in-memory state kept): %v", err)
	}
}

func (e *Engine) recordHistory(ctx context.Context, date string, signals []model.Signal, snaps []model.StockSnapshot) {
	h := e.deps.History
	if h == nil {
		return
	}
	if err := h.Record(ctx, date, signals); err != nil {
		log.Printf("[engine] history record: %v", err)
	}
	if _, err := h.MarkOutcomes(ctx, date, snaps); err != nil {
		log.Printf("[engine] history outcomes: %v", err)
	}
	if e.prunedFor != date && e.cfg.HistoryRetentionDays > 0 {
		if n, err := h.Prune(ctx, date, e.cfg.HistoryRetentionDays); err != nil {
			log.Printf("[engine] history prune: %v", err)
		} else {
			e.prunedFor = date
			if n > 0 {
				log.Printf("[engine] pruned %d history rows older than %d days", n, e.cfg.HistoryRetentionDays)
			}
		}
	}
}
