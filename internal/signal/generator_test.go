package signal

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"intraday-signals/internal/model"
)

type fakeCandles struct {
	series map[string][]model.Candle
	errs   map[string]error
	delay  map[string]time.Duration
	calls  []string
}

func (f *fakeCandles) Candles(ctx context.Context, symbol string) ([]model.Candle, error) {
	f.calls = append(f.calls, symbol)
	if d := f.delay[symbol]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.series[symbol], nil
}

func defaultCfg() Config {
	return Config{MinChangePercent: 3, ATRPeriod: 14, SLMultiplier: 1.5, TargetMultipliers: [2]float64{2, 3}}
}

func snap(symbol string, chg, close float64) model.StockSnapshot {
	return model.StockSnapshot{
		Symbol: symbol, CompanyName: symbol + " Ltd",
		Open: close, High: close + 1, Low: close - 1, Close: close,
		PreviousClose: close / (1 + chg/100), ChangePercent: chg,
		Timestamp: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func history(n int, price, spread float64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{Open: price, High: price + spread/2, Low: price - spread/2, Close: price}
	}
	return out
}

func symbols(sigs []model.Signal) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.Symbol
	}
	return out
}

func TestQualify_BoundaryIsInclusive(t *testing.T) {
	got := Qualify([]model.StockSnapshot{
		snap("EXACT", 3.0, 100),
		snap("NEGEXACT", -3.0, 100),
		snap("BELOW", 2.99, 100),
	}, 3)
	if len(got) != 2 || got[0].Symbol != "EXACT" || got[1].Symbol != "NEGEXACT" {
		t.Errorf("qualified: got %v", got)
	}
}

func TestQualify_SortsByAbsoluteChange(t *testing.T) {
	got := Qualify([]model.StockSnapshot{snap("UP5", 5, 100), snap("DOWN6", -6, 100)}, 3)
	if len(got) != 2 || got[0].Symbol != "DOWN6" || got[1].Symbol != "UP5" {
		t.Errorf("order: got %v", got)
	}
}

func TestQualify_TiesKeepBatchOrder(t *testing.T) {
	got := Qualify([]model.StockSnapshot{
		snap("A", 4, 100), snap("B", -4, 100), snap("C", 7, 100), snap("D", 4, 100),
	}, 3)
	want := []string{"C", "A", "B", "D"}
	for i, w := range want {
		if got[i].Symbol != w {
			t.Fatalf("position %d: got %s, want %s (all %v)", i, got[i].Symbol, w, got)
		}
	}
}

func TestGenerate_BoundarySnapshotIncluded(t *testing.T) {
	g := NewGenerator(defaultCfg(), &fakeCandles{series: map[string][]model.Candle{"EXACT": history(20, 100, 2)}})
	batch := g.Generate(context.Background(), []model.StockSnapshot{snap("EXACT", 3.0, 100)})
	if len(batch.Signals) != 1 || batch.Signals[0].Symbol != "EXACT" {
		t.Fatalf("signals: got %v", symbols(batch.Signals))
	}
}

func TestGenerate_NegativeSixBeforePositiveFive(t *testing.T) {
	fc := &fakeCandles{series: map[string][]model.Candle{
		"UP5": history(20, 100, 2), "DOWN6": history(20, 100, 2),
	}}
	batch := NewGenerator(defaultCfg(), fc).Generate(context.Background(),
		[]model.StockSnapshot{snap("UP5", 5, 105), snap("DOWN6", -6, 94)})

	got := symbols(batch.Signals)
	if len(got) != 2 || got[0] != "DOWN6" || got[1] != "UP5" {
		t.Fatalf("order: got %v", got)
	}
	if batch.Signals[0].SignalType != model.SignalSell || batch.Signals[1].SignalType != model.SignalBuy {
		t.Errorf("types: got %s, %s", batch.Signals[0].SignalType, batch.Signals[1].SignalType)
	}
}

func TestGenerate_BuyLevels(t *testing.T) {
	// 20 flat bars of range 2 around 100 plus today's bar (101..99, close 100)
	// -> every TR is 2, ATR(14) = 2.
	fc := &fakeCandles{series: map[string][]model.Candle{"INFY": history(20, 100, 2)}}
	batch := NewGenerator(defaultCfg(), fc).Generate(context.Background(), []model.StockSnapshot{snap("INFY", 4, 100)})
	if len(batch.Signals) != 1 {
		t.Fatalf("signals: %d", len(batch.Signals))
	}
	s := batch.Signals[0]
	if s.ATR != 2 || s.EntryPrice != 100 || s.StopLoss != 97 || s.Target1 != 104 || s.Target2 != 106 {
		t.Errorf("levels: %+v", s)
	}
	if !s.RiskReward1.Defined || s.RiskReward1.Value != 1.33 || s.RiskReward2.Value != 2 {
		t.Errorf("ratios: %+v %+v", s.RiskReward1, s.RiskReward2)
	}
}

func TestGenerate_ZeroRiskMarksRatioUndefined(t *testing.T) {
	flat := make([]model.Candle, 20)
	for i := range flat {
		flat[i] = model.Candle{Open: 100, High: 100, Low: 100, Close: 100}
	}
	s := snap("FLAT", 3.5, 100)
	s.High, s.Low = 100, 100

	fc := &fakeCandles{series: map[string][]model.Candle{"FLAT": flat}}
	batch := NewGenerator(defaultCfg(), fc).Generate(context.Background(), []model.StockSnapshot{s})
	if len(batch.Signals) != 1 {
		t.Fatalf("signals: %d", len(batch.Signals))
	}
	sig := batch.Signals[0]
	if sig.ATR != 0 {
		t.Fatalf("ATR: got %v, want 0", sig.ATR)
	}
	for i, rr := range []model.RiskReward{sig.RiskReward1, sig.RiskReward2} {
		if rr.Defined {
			t.Errorf("ratio %d should be undefined: %+v", i+1, rr)
		}
		if math.IsNaN(rr.Value) || math.IsInf(rr.Value, 0) {
			t.Errorf("ratio %d carries a non-finite value", i+1)
		}
	}
}

func TestGenerate_HistoryFailureOmitsSymbolOnly(t *testing.T) {
	fc := &fakeCandles{
		series: map[string][]model.Candle{"OK": history(20, 100, 2)},
		errs:   map[string]error{"BROKEN": errors.New("upstream 503")},
	}
	batch := NewGenerator(defaultCfg(), fc).Generate(context.Background(),
		[]model.StockSnapshot{snap("BROKEN", 8, 100), snap("OK", 4, 100)})

	if got := symbols(batch.Signals); len(got) != 1 || got[0] != "OK" {
		t.Errorf("signals: got %v", got)
	}
	if !batch.Partial() || len(batch.Omitted) != 1 || batch.Omitted[0].Symbol != "BROKEN" {
		t.Errorf("omitted: got %+v", batch.Omitted)
	}
}

func TestGenerate_ShortHistoryUsesFallbackATR(t *testing.T) {
	fc := &fakeCandles{series: map[string][]model.Candle{"NEW": nil}}
	s := snap("NEW", 5, 200) // today's bar 201..199
	batch := NewGenerator(defaultCfg(), fc).Generate(context.Background(), []model.StockSnapshot{s})
	if len(batch.Signals) != 1 || batch.Signals[0].ATR != 3 {
		t.Errorf("fallback ATR: got %+v", batch.Signals)
	}
}

func TestGenerate_SkipsFetchForNonQualifying(t *testing.T) {
	fc := &fakeCandles{}
	NewGenerator(defaultCfg(), fc).Generate(context.Background(), []model.StockSnapshot{snap("QUIET", 0.5, 100)})
	if len(fc.calls) != 0 {
		t.Errorf("fetched history for non-qualifying symbols: %v", fc.calls)
	}
}

func TestFilterByType(t *testing.T) {
	sigs := []model.Signal{{Symbol: "A", SignalType: model.SignalBuy}, {Symbol: "B", SignalType: model.SignalSell}}
	if got := FilterByType(sigs, "bullish"); len(got) != 1 || got[0].Symbol != "A" {
		t.Errorf("bullish: %v", symbols(got))
	}
	if got := FilterByType(sigs, "SELL"); len(got) != 1 || got[0].Symbol != "B" {
		t.Errorf("sell: %v", symbols(got))
	}
	if got := FilterByType(sigs, "all"); len(got) != 2 {
		t.Errorf("all: %v", symbols(got))
	}
}

func TestFindBySymbol_CaseInsensitive(t *testing.T) {
	sigs := []model.Signal{{Symbol: "RELIANCE"}}
	if _, ok := FindBySymbol(sigs, "reliance"); !ok {
		t.Error("lookup should ignore case")
	}
	if _, ok := FindBySymbol(sigs, "TCS"); ok {
		t.Error("unexpected match")
	}
}

func TestGenerate_HistoryTimeoutOmitsSlowSymbol(t *testing.T) {
	fc := &fakeCandles{
		series: map[string][]model.Candle{"FAST": history(20, 100, 2), "SLOW": history(20, 100, 2)},
		delay:  map[string]time.Duration{"SLOW": time.Second},
	}
	cfg := defaultCfg()
	cfg.HistoryTimeout = 20 * time.Millisecond
	batch := NewGenerator(cfg, fc).Generate(context.Background(),
		[]model.StockSnapshot{snap("SLOW", 8, 100), snap("FAST", 4, 100)})

	if got := symbols(batch.Signals); len(got) != 1 || got[0] != "FAST" {
		t.Errorf("signals: got %v", got)
	}
	if len(batch.Omitted) != 1 || batch.Omitted[0].Symbol != "SLOW" {
		t.Errorf("slow symbol should be a data omission: %+v", batch.Omitted)
	}
	if len(batch.Cancelled) != 0 {
		t.Errorf("nothing was cancelled: %v", batch.Cancelled)
	}
}

func TestGenerate_CancelledContextIsNotAnOmission(t *testing.T) {
	fc := &fakeCandles{
		series: map[string][]model.Candle{"A": history(20, 100, 2), "B": history(20, 100, 2), "C": history(20, 100, 2)},
		delay:  map[string]time.Duration{"A": 10 * time.Millisecond, "B": time.Second, "C": time.Second},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	batch := NewGenerator(defaultCfg(), fc).Generate(ctx,
		[]model.StockSnapshot{snap("A", 9, 100), snap("B", 8, 100), snap("C", 7, 100)})

	if got := symbols(batch.Signals); len(got) != 1 || got[0] != "A" {
		t.Errorf("signals: got %v", got)
	}
	if len(batch.Omitted) != 0 {
		t.Errorf("cancellation reported as omission: %+v", batch.Omitted)
	}
	if len(batch.Cancelled) != 2 || batch.Cancelled[0] != "B" || batch.Cancelled[1] != "C" {
		t.Errorf("cancelled: got %v", batch.Cancelled)
	}
	if !batch.Partial() {
		t.Error("a batch with cancelled symbols is partial")
	}
	if len(fc.calls) != 2 {
		t.Errorf("no fetch should start after cancellation: %v", fc.calls)
	}
}
