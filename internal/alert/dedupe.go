// Package alert gates alert intents so each (symbol, kind, trading day)
// fires at most once.
package alert

import (
	"sort"
	"sync"

	"intraday-signals/internal/model"
)

// Deduplicator records which alerts have fired. Safe for concurrent use.
type Deduplicator struct {
	mu    sync.Mutex
	fired map[model.DedupeKey]struct{}
}

// NewDeduplicator returns an empty gate.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{fired: make(map[model.DedupeKey]struct{})}
}

// ShouldFire returns true the first time a key is seen and records it in
// the same critical section. Every later call with that key returns false.
func (d *Deduplicator) ShouldFire(symbol, kind, tradingDate string) bool {
	k := model.DedupeKey{Symbol: symbol, Kind: kind, Date: tradingDate}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fired[k]; ok {
		return false
	}
	d.fired[k] = struct{}{}
	return true
}

// Fired reports whether a key has already fired, without recording it.
func (d *Deduplicator) Fired(symbol, kind, tradingDate string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.fired[model.DedupeKey{Symbol: symbol, Kind: kind, Date: tradingDate}]
	return ok
}

// Clear forgets every key.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	d.fired = make(map[model.DedupeKey]struct{})
	d.mu.Unlock()
}

// Len returns the number of recorded keys.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fired)
}

// Keys returns the recorded keys in a stable order for persistence.
func (d *Deduplicator) Keys() []model.DedupeKey {
	d.mu.Lock()
	out := make([]model.DedupeKey, 0, len(d.fired))
	for k := range d.fired {
		out = append(out, k)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.Kind < b.Kind
	})
	return out
}

// Restore replaces the recorded keys, e.g. after loading persisted state.
func (d *Deduplicator) Restore(keys []model.DedupeKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = make(map[model.DedupeKey]struct{}, len(keys))
	for _, k := range keys {
		d.fired[k] = struct{}{}
	}
}
