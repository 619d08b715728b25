package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the engine from concrete adapters
// (Angel One, SQLite, Redis). Each adapter satisfies one or more of them.

// SnapshotSource returns the current quote batch for the universe.
type SnapshotSource interface {
	// Snapshots fetches one snapshot per symbol. An error fails the tick.
	Snapshots(ctx context.Context) ([]StockSnapshot, error)
}

// CandleProvider returns historical daily candles for one symbol, oldest first.
type CandleProvider interface {
	Candles(ctx context.Context, symbol string) ([]Candle, error)
}

// StateStore persists tracker state for crash recovery.
type StateStore interface {
	// LoadState returns the last saved state, or an empty state if none exists.
	LoadState(ctx context.Context) (*TrackerState, error)

	// SaveState replaces the persisted state.
	SaveState(ctx context.Context, st *TrackerState) error
}

// SignalSink receives every tick's signal batch (cache, pub/sub).
type SignalSink interface {
	PublishSignals(ctx context.Context, tradingDate string, signals []Signal) error
}

// HistoryRecorder appends signals to the day-by-day history.
type HistoryRecorder interface {
	Record(ctx context.Context, tradingDate string, signals []Signal) error
}
