package tracker

import (
	"log"
	"time"
)

// DateSource maps an instant to its canonical trading date.
type DateSource interface {
	TradingDate(t time.Time) string
}

// DailyReset clears the store when the trading date changes.
type DailyReset struct {
	dates DateSource
	store *Store
}

// NewDailyReset creates a reset controller over store.
func NewDailyReset(dates DateSource, store *Store) *DailyReset {
	return &DailyReset{dates: dates, store: store}
}

// ResetIfNewDay clears every position and alert key when now's trading
// date differs from the last recorded reset date, then records the new
// date. Returns true if a reset happened. Calling it lazily on the first
// tick after a restart is safe.
func (r *DailyReset) ResetIfNewDay(now time.Time) bool {
	date := r.dates.TradingDate(now)
	prev := r.store.lastResetDate
	if prev == date {
		return false
	}
	positions, keys := r.store.Len(), r.store.dedupe.Len()
	r.store.reset(date)
	log.Printf("[tracker] new trading day %s (previous %q): cleared %d positions, %d alert keys",
		date, prev, positions, keys)
	return true
}
