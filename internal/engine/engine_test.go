package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"intraday-signals/internal/logger"
	"intraday-signals/internal/model"
	"intraday-signals/internal/notification"
	"intraday-signals/internal/signal"
	"intraday-signals/internal/tracker"
)

// ─── Fakes ───

type fakeSchedule struct {
	open atomic.Bool
}

func (s *fakeSchedule) TradingDate(t time.Time) string { return t.UTC().Format("2006-01-02") }
func (s *fakeSchedule) InWindow(time.Time) bool         { return s.open.Load() }

type fakeSource struct {
	mu      sync.Mutex
	snaps   []model.StockSnapshot
	err     error
	calls   atomic.Int32
	entered chan struct{} // receives when a fetch starts
	release chan struct{} // fetch blocks until closed, if set
}

func (f *fakeSource) set(snaps ...model.StockSnapshot) {
	f.mu.Lock()
	f.snaps = snaps
	f.mu.Unlock()
}

func (f *fakeSource) Snapshots(ctx context.Context) ([]model.StockSnapshot, error) {
	f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.StockSnapshot(nil), f.snaps...), nil
}

type fakeCandles struct {
	fail  map[string]bool
	delay time.Duration
}

func (f *fakeCandles) Candles(ctx context.Context, symbol string) ([]model.Candle, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[symbol] {
		return nil, errors.New("no history")
	}
	return []model.Candle{
		{Open: 98, High: 101, Low: 97, Close: 100},
		{Open: 100, High: 102, Low: 99, Close: 100},
	}, nil
}

type memState struct {
	mu    sync.Mutex
	saved *model.TrackerState
	saves int
	err   error
}

func (m *memState) LoadState(context.Context) (*model.TrackerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return model.NewTrackerState(), nil
	}
	return m.saved, nil
}

func (m *memState) SaveState(_ context.Context, st *model.TrackerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.err != nil {
		return m.err
	}
	m.saved = st
	return nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []model.AlertIntent
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, in []model.AlertIntent) (notification.DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return notification.DispatchResult{Failed: len(in)}, d.err
	}
	d.sent = append(d.sent, in...)
	return notification.DispatchResult{Sent: len(in)}, nil
}

type fakeHistory struct {
	recorded int
	pruned   int
}

func (h *fakeHistory) Record(_ context.Context, _ string, s []model.Signal) error {
	h.recorded += len(s)
	return nil
}
func (h *fakeHistory) MarkOutcomes(context.Context, string, []model.StockSnapshot) (int, error) {
	return 0, nil
}
func (h *fakeHistory) Prune(context.Context, string, int) (int64, error) {
	h.pruned++
	return 0, nil
}

type captureViews struct {
	mu    sync.Mutex
	count int
}

func (c *captureViews) PublishView(context.Context, []byte) error {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return nil
}

// ─── Harness ───

type harness struct {
	eng      *Engine
	src      *fakeSource
	state    *memState
	dispatch *recordingDispatcher
	history  *fakeHistory
	views    *captureViews
	sched    *fakeSchedule
	candles  *fakeCandles
}

func newHarness(t *testing.T, failHistory ...string) *harness {
	t.Helper()
	fail := map[string]bool{}
	for _, s := range failHistory {
		fail[s] = true
	}
	h := &harness{
		src:      &fakeSource{},
		state:    &memState{},
		dispatch: &recordingDispatcher{},
		history:  &fakeHistory{},
		views:    &captureViews{},
		sched:    &fakeSchedule{},
		candles:  &fakeCandles{fail: fail},
	}
	gen := signal.NewGenerator(signal.Config{
		MinChangePercent: 3, ATRPeriod: 14, SLMultiplier: 1.5, TargetMultipliers: [2]float64{2, 3},
	}, h.candles)
	tr := tracker.New(tracker.Config{ExitThresholdPercent: 1.5, BuyThresholdPercent: 3}, tracker.NewStore())

	eng, err := New(Config{TickInterval: 10 * time.Millisecond, FetchTimeout: time.Second, HistoryRetentionDays: 30}, Deps{
		Source:     h.src,
		Generator:  gen,
		Tracker:    tr,
		Schedule:   h.sched,
		Dispatcher: h.dispatch,
		State:      h.state,
		History:    h.history,
		Views:      []ViewPublisher{h.views},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.eng = eng
	return h
}

func snap(symbol string, close, chg float64) model.StockSnapshot {
	prev := close / (1 + chg/100)
	return model.StockSnapshot{
		Symbol: symbol, CompanyName: symbol, Open: prev, High: close + 1, Low: prev - 1,
		Close: close, PreviousClose: prev, ChangePercent: chg,
	}
}

var (
	day1 = time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)
	day2 = time.Date(2026, 3, 3, 5, 0, 0, 0, time.UTC)
)

// ─── Tick pipeline ───

func TestTick_SuccessPublishesViewAndPersists(t *testing.T) {
	h := newHarness(t)
	h.src.set(snap("TATA", 104, 4), snap("FLAT", 50, 0.5))

	res := h.eng.Tick(context.Background(), day1)
	if res.Status != StatusSuccess || res.Err != nil {
		t.Fatalf("status %s err %v", res.Status, res.Err)
	}
	if len(res.Signals) != 1 || res.Signals[0].Symbol != "TATA" {
		t.Fatalf("signals: %+v", res.Signals)
	}
	// 104 is below the 105.56 exit level, so the entry tick also exits
	if len(res.Alerts) != 2 || res.Alerts[0].Kind != model.AlertBuy || res.Alerts[1].Kind != model.AlertExitNow {
		t.Errorf("alerts: %+v", res.Alerts)
	}

	v := h.eng.View()
	if v.Version != 1 || v.TradingDate != "2026-03-02" || len(v.Positions) != 1 {
		t.Errorf("view: %+v", v)
	}
	if h.state.saves != 1 || len(h.state.saved.Positions) != 1 {
		t.Errorf("state not persisted after tick: saves=%d", h.state.saves)
	}
	if len(h.dispatch.sent) != 2 || h.history.recorded != 1 || h.views.count != 1 {
		t.Errorf("side effects: dispatched=%d recorded=%d views=%d", len(h.dispatch.sent), h.history.recorded, h.views.count)
	}
}

func TestTick_PartialWhenHistoryMissing(t *testing.T) {
	h := newHarness(t, "INFY")
	h.src.set(snap("TATA", 104, 4), snap("INFY", 95, -5))

	res := h.eng.Tick(context.Background(), day1)
	if res.Status != StatusPartial {
		t.Fatalf("status: got %s, want partial", res.Status)
	}
	if len(res.Signals) != 1 || len(res.Omitted) != 1 || res.Omitted[0].Symbol != "INFY" {
		t.Errorf("signals=%+v omitted=%+v", res.Signals, res.Omitted)
	}
}

func TestTick_FetchFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.src.set(snap("TATA", 104, 4))
	h.eng.Tick(context.Background(), day1)

	h.src.err = errors.New("upstream 502")
	res := h.eng.Tick(context.Background(), day1.Add(5*time.Minute))
	if res.Status != StatusFailure || !errors.Is(res.Err, ErrFetchFailed) || !res.Retryable() {
		t.Fatalf("got %s / %v", res.Status, res.Err)
	}
	v := h.eng.View()
	if v.Status != StatusFailure || len(v.Signals) != 1 {
		t.Errorf("failed tick should keep last signals visible: %+v", v)
	}
	if len(v.Positions) != 1 {
		t.Errorf("positions must survive a failed fetch: %+v", v.Positions)
	}
}

func TestTick_FetchTimeout(t *testing.T) {
	h := newHarness(t)
	h.src.release = make(chan struct{})
	h.eng.cfg.FetchTimeout = 20 * time.Millisecond

	res := h.eng.Tick(context.Background(), day1)
	if res.Status != StatusFailure || !errors.Is(res.Err, ErrFetchFailed) {
		t.Errorf("timeout should fail the tick: %s / %v", res.Status, res.Err)
	}
}

func TestTick_SkipsWhileRunning(t *testing.T) {
	h := newHarness(t)
	h.src.set(snap("TATA", 104, 4))
	h.src.entered = make(chan struct{}, 1)
	h.src.release = make(chan struct{})

	done := make(chan TickResult)
	go func() { done <- h.eng.Tick(context.Background(), day1) }()
	<-h.src.entered

	skipped := h.eng.Tick(context.Background(), day1.Add(time.Second))
	if skipped.Status != StatusSkipped || !errors.Is(skipped.Err, ErrTickInProgress) {
		t.Errorf("overlapping tick: got %s", skipped.Status)
	}
	if v := h.eng.View(); v.Version != 0 {
		t.Errorf("view published mid-tick: version %d", v.Version)
	}

	close(h.src.release)
	if first := <-done; first.Status != StatusSuccess {
		t.Errorf("first tick: %s", first.Status)
	}
	if h.src.calls.Load() != 1 {
		t.Errorf("skipped tick must not fetch: calls=%d", h.src.calls.Load())
	}
}

func TestTick_PublishedViewIsImmutable(t *testing.T) {
	h := newHarness(t)
	h.src.set(snap("TATA", 104, 4))
	h.eng.Tick(context.Background(), day1)
	v1 := h.eng.View()
	peak := v1.Positions[0].PeakPrice

	h.src.set(snap("TATA", 110, 10), snap("INFY", 95, -5))
	h.eng.Tick(context.Background(), day1.Add(5*time.Minute))
	v2 := h.eng.View()

	if v1 == v2 || v2.Version != 2 {
		t.Fatalf("expected a new view, got version %d", v2.Version)
	}
	if len(v1.Signals) != 1 || v1.Positions[0].PeakPrice != peak {
		t.Errorf("old view changed: %+v", v1)
	}
	if len(v2.Signals) != 2 || v2.Positions[0].PeakPrice != 110 {
		t.Errorf("new view: %+v", v2)
	}
}

func TestTick_StateSaveFailureIsNonFatal(t *testing.T) {
	h := newHarness(t)
	h.state.err = errors.New("disk full")
	h.src.set(snap("TATA", 104, 4))

	res := h.eng.Tick(context.Background(), day1)
	if res.Status != StatusSuccess {
		t.Errorf("status: %s", res.Status)
	}
	if h.eng.deps.Tracker.Store().Len() != 1 {
		t.Error("in-memory state must stay authoritative")
	}
}

func TestRestore_KeepsDedupeAcrossRestart(t *testing.T) {
	h := newHarness(t)
	h.src.set(snap("TATA", 104, 4))
	h.eng.Tick(context.Background(), day1)

	// second process over the same persisted state
	h2 := newHarness(t)
	h2.state.saved = h.state.saved
	if err := h2.eng.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	h2.src.set(snap("TATA", 104, 4))
	res := h2.eng.Tick(context.Background(), day1.Add(5*time.Minute))
	if len(res.Alerts) != 0 {
		t.Errorf("BUY re-fired after restart: %+v", res.Alerts)
	}
	if res.Reset {
		t.Error("same trading date must not reset")
	}
}

func TestTick_NewTradingDayResets(t *testing.T) {
	h := newHarness(t)
	h.src.set(snap("TATA", 104, 4))
	h.eng.Tick(context.Background(), day1)

	res := h.eng.Tick(context.Background(), day2)
	if !res.Reset {
		t.Fatal("expected reset on new date")
	}
	if len(res.Alerts) != 2 || res.Alerts[0].Kind != model.AlertBuy || res.Alerts[0].TradingDate != "2026-03-03" {
		t.Errorf("BUY should fire fresh on the new day: %+v", res.Alerts)
	}
	if h.history.pruned != 2 {
		t.Errorf("prune once per trading date: got %d", h.history.pruned)
	}
}

func TestTick_IgnoresCallerDeadline(t *testing.T) {
	h := newHarness(t)
	h.candles.delay = 30 * time.Millisecond
	h.src.set(snap("TATA", 104, 4), snap("INFY", 95, -5), snap("WIPRO", 206, 3))

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	res := h.eng.Tick(ctx, day1)

	if res.Status != StatusSuccess {
		t.Fatalf("status: got %s, omitted=%+v cancelled=%v", res.Status, res.Omitted, res.Cancelled)
	}
	if len(res.Signals) != 3 || len(res.Omitted) != 0 || len(res.Cancelled) != 0 {
		t.Errorf("signals=%d omitted=%+v cancelled=%v", len(res.Signals), res.Omitted, res.Cancelled)
	}
}

func TestTick_CancelledCallerStillCompletes(t *testing.T) {
	h := newHarness(t)
	h.src.set(snap("TATA", 104, 4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.eng.Tick(ctx, day1)
	if res.Status != StatusSuccess || len(res.Signals) != 1 {
		t.Errorf("status %s signals %d err %v", res.Status, len(res.Signals), res.Err)
	}
}

func TestTick_DeliveryErrorIsLoggedNotFatal(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	logger.InitWriter(&buf, "test", slog.LevelInfo)

	h := newHarness(t)
	h.dispatch.err = errors.New("telegram: 502")
	h.src.set(snap("TATA", 104, 4))

	res := h.eng.Tick(context.Background(), day1)
	if res.Status != StatusSuccess || res.DeliveryErr == nil || res.Delivery.Failed != 2 {
		t.Fatalf("status %s delivery %+v err %v", res.Status, res.Delivery, res.DeliveryErr)
	}
	out := buf.String()
	if !strings.Contains(out, `"delivery_error":"telegram: 502"`) || !strings.Contains(out, `"level":"WARN"`) {
		t.Errorf("tick record missing delivery error: %s", out)
	}
}

// ─── Scheduler ───

func TestRun_OnlyTicksInsideWindow(t *testing.T) {
	h := newHarness(t)
	h.src.set(snap("TATA", 104, 4))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- h.eng.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if n := h.src.calls.Load(); n != 0 {
		t.Errorf("ticked %d times with the window closed", n)
	}

	h.sched.open.Store(true)
	deadline := time.Now().Add(2 * time.Second)
	for h.src.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: %v", err)
	}
	if h.src.calls.Load() == 0 {
		t.Error("expected a tick once the window opened")
	}
}
