package tracker

import (
	"sort"

	"intraday-signals/internal/alert"
	"intraday-signals/internal/model"
)

// Store owns all per-day tracker state: positions, fired alert keys and
// the last reset date. It is constructed once per process, reloaded from
// persistence at startup and cleared by DailyReset.
//
// Store is not safe for concurrent mutation; the engine serializes ticks.
type Store struct {
	positions     map[string]*model.TrackedPosition
	dedupe        *alert.Deduplicator
	lastResetDate string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		positions: make(map[string]*model.TrackedPosition),
		dedupe:    alert.NewDeduplicator(),
	}
}

// Dedupe returns the alert gate shared by every alert path.
func (s *Store) Dedupe() *alert.Deduplicator { return s.dedupe }

// LastResetDate returns the trading date of the most recent reset.
func (s *Store) LastResetDate() string { return s.lastResetDate }

// Len returns the number of tracked positions.
func (s *Store) Len() int { return len(s.positions) }

// Position returns a copy of one tracked position.
func (s *Store) Position(symbol string) (model.TrackedPosition, bool) {
	p, ok := s.positions[symbol]
	if !ok {
		return model.TrackedPosition{}, false
	}
	return *p, true
}

// Positions returns copies of all tracked positions ordered by symbol.
func (s *Store) Positions() []model.TrackedPosition {
	out := make([]model.TrackedPosition, 0, len(s.positions))
	for _, sym := range s.symbols() {
		out = append(out, *s.positions[sym])
	}
	return out
}

func (s *Store) symbols() []string {
	syms := make([]string, 0, len(s.positions))
	for sym := range s.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// Export returns a deep copy suitable for persistence.
func (s *Store) Export() *model.TrackerState {
	st := model.NewTrackerState()
	for sym, p := range s.positions {
		st.Positions[sym] = *p
	}
	st.Fired = s.dedupe.Keys()
	st.LastResetDate = s.lastResetDate
	return st
}

// Restore replaces the store contents with a persisted state.
func (s *Store) Restore(st *model.TrackerState) {
	s.positions = make(map[string]*model.TrackedPosition, len(st.Positions))
	for sym, p := range st.Positions {
		s.positions[sym] = &p
	}
	s.dedupe.Restore(st.Fired)
	s.lastResetDate = st.LastResetDate
}

func (s *Store) reset(tradingDate string) {
	s.positions = make(map[string]*model.TrackedPosition)
	s.dedupe.Clear()
	s.lastResetDate = tradingDate
}
