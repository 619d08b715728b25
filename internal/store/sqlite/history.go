package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"intraday-signals/internal/model"
)

// Signal outcome statuses.
const (
	StatusActive     = "active"
	StatusTarget1Hit = "target1_hit"
	StatusTarget2Hit = "target2_hit"
	StatusSLHit      = "sl_hit"
)

var validStatus = map[string]bool{
	StatusActive: true, StatusTarget1Hit: true, StatusTarget2Hit: true, StatusSLHit: true,
}

// HistoryEntry is one stored signal.
type HistoryEntry struct {
	model.Signal
	Date      string     `json:"date"`
	Status    string     `json:"status"`
	SavedAt   time.Time  `json:"savedAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// HistoryQuery filters Query results. Zero values mean "no filter";
// Days defaults to 7.
type HistoryQuery struct {
	Days       int
	Symbol     string
	SignalType string
	Today      string // trading date the Days window counts back from
}

// HistoryStats summarises the stored history.
type HistoryStats struct {
	TotalSignals     int     `json:"totalSignals"`
	BuySignals       int     `json:"buySignals"`
	SellSignals      int     `json:"sellSignals"`
	Target1Hit       int     `json:"target1Hit"`
	Target2Hit       int     `json:"target2Hit"`
	SLHit            int     `json:"slHit"`
	UniqueStocks     int     `json:"uniqueStocks"`
	TradingDays      int     `json:"tradingDays"`
	AvgChangePercent float64 `json:"avgChangePercent"`
	From             string  `json:"from,omitempty"`
	To               string  `json:"to,omitempty"`
}

// Record stores the first signal of the day for each symbol; later signals
// for the same (date, symbol) are ignored.
func (s *Store) Record(ctx context.Context, tradingDate string, signals []model.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO signal_history (
			trading_date, symbol, company_name, signal_type, entry_price, stop_loss,
			target1, target2, atr, change_percent, risk_reward1, risk_reward2, status, saved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'active', ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	added := 0
	for _, sig := range signals {
		res, err := stmt.ExecContext(ctx,
			tradingDate, sig.Symbol, sig.CompanyName, string(sig.SignalType), sig.EntryPrice, sig.StopLoss,
			sig.Target1, sig.Target2, sig.ATR, sig.ChangePercent,
			ratioArg(sig.RiskReward1), ratioArg(sig.RiskReward2), now)
		if err != nil {
			return fmt.Errorf("sqlite insert history %s: %w", sig.Symbol, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if added > 0 {
		log.Printf("[sqlite] recorded %d new signals for %s", added, tradingDate)
	}
	return nil
}

// Prune deletes history older than keepDays before today.
func (s *Store) Prune(ctx context.Context, today string, keepDays int) (int64, error) {
	cutoff, err := shiftDate(today, -keepDays)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM signal_history WHERE trading_date < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune history: %w", err)
	}
	return res.RowsAffected()
}

// Query returns history rows newest first.
func (s *Store) Query(ctx context.Context, q HistoryQuery) ([]HistoryEntry, error) {
	days := q.Days
	if days <= 0 {
		days = 7
	}
	today := q.Today
	if today == "" {
		today = time.Now().Format("2006-01-02")
	}
	cutoff, err := shiftDate(today, -days)
	if err != nil {
		return nil, err
	}

	where := []string{"trading_date >= ?"}
	args := []any{cutoff}
	if q.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(q.Symbol))
	}
	if q.SignalType != "" {
		where = append(where, "signal_type = ?")
		args = append(args, strings.ToUpper(q.SignalType))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT trading_date, symbol, company_name, signal_type, entry_price, stop_loss, target1, target2,
		       atr, change_percent, risk_reward1, risk_reward2, status, saved_at, updated_at
		FROM signal_history
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY saved_at DESC, ABS(change_percent) DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var sigType string
		var rr1, rr2 sql.NullFloat64
		var saved int64
		var updated sql.NullInt64
		if err := rows.Scan(&e.Date, &e.Symbol, &e.CompanyName, &sigType, &e.EntryPrice, &e.StopLoss,
			&e.Target1, &e.Target2, &e.ATR, &e.ChangePercent, &rr1, &rr2, &e.Status, &saved, &updated); err != nil {
			return nil, fmt.Errorf("sqlite scan history: %w", err)
		}
		e.SignalType = model.SignalType(sigType)
		e.RiskReward1 = ratioFrom(rr1)
		e.RiskReward2 = ratioFrom(rr2)
		e.SavedAt = time.UnixMilli(saved).UTC()
		e.Timestamp = e.SavedAt
		if updated.Valid {
			t := time.UnixMilli(updated.Int64).UTC()
			e.UpdatedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats aggregates the whole stored history.
func (s *Store) Stats(ctx context.Context) (HistoryStats, error) {
	var st HistoryStats
	var avg sql.NullFloat64
	var from, to sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(signal_type = 'BUY'), 0),
		       COALESCE(SUM(signal_type = 'SELL'), 0),
		       COALESCE(SUM(status = 'target1_hit'), 0),
		       COALESCE(SUM(status = 'target2_hit'), 0),
		       COALESCE(SUM(status = 'sl_hit'), 0),
		       COUNT(DISTINCT symbol),
		       COUNT(DISTINCT trading_date),
		       AVG(ABS(change_percent)),
		       MIN(trading_date),
		       MAX(trading_date)
		FROM signal_history`).Scan(
		&st.TotalSignals, &st.BuySignals, &st.SellSignals, &st.Target1Hit, &st.Target2Hit, &st.SLHit,
		&st.UniqueStocks, &st.TradingDays, &avg, &from, &to)
	if err != nil {
		return st, fmt.Errorf("sqlite history stats: %w", err)
	}
	st.AvgChangePercent = model.Round2(avg.Float64)
	st.From, st.To = from.String, to.String
	return st, nil
}

// UpdateStatus sets the outcome status of one stored signal.
func (s *Store) UpdateStatus(ctx context.Context, tradingDate, symbol, status string) error {
	if !validStatus[status] {
		return fmt.Errorf("%w %q", ErrInvalidStatus, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE signal_history SET status = ?, updated_at = ? WHERE trading_date = ? AND symbol = ?`,
		status, time.Now().UnixMilli(), tradingDate, strings.ToUpper(symbol))
	if err != nil {
		return fmt.Errorf("sqlite update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s on %s", ErrNotFound, symbol, tradingDate)
	}
	return nil
}

// MarkOutcomes advances the status of today's stored signals from the
// latest prices: active -> target1_hit -> target2_hit, or sl_hit. A
// status never moves backwards. Returns the number of rows changed.
func (s *Store) MarkOutcomes(ctx context.Context, tradingDate string, snapshots []model.StockSnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}
	entries, err := s.openEntries(ctx, tradingDate)
	if err != nil {
		return 0, err
	}
	prices := make(map[string]float64, len(snapshots))
	for _, sn := range snapshots {
		prices[sn.Symbol] = sn.Close
	}

	changed := 0
	for _, e := range entries {
		price, ok := prices[e.Symbol]
		if !ok {
			continue
		}
		next := Outcome(e.Signal, e.Status, price)
		if next == e.Status {
			continue
		}
		if err := s.UpdateStatus(ctx, tradingDate, e.Symbol, next); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func (s *Store) openEntries(ctx context.Context, tradingDate string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, signal_type, stop_loss, target1, target2, status
		FROM signal_history
		WHERE trading_date = ? AND status IN ('active', 'target1_hit')`, tradingDate)
	if err != nil {
		return nil, fmt.Errorf("sqlite query open signals: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var sigType string
		if err := rows.Scan(&e.Symbol, &sigType, &e.StopLoss, &e.Target1, &e.Target2, &e.Status); err != nil {
			return nil, fmt.Errorf("sqlite scan open signal: %w", err)
		}
		e.SignalType = model.SignalType(sigType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Outcome returns the status a signal should have at price, never moving
// backwards from current.
func Outcome(sig model.Signal, current string, price float64) string {
	if current == StatusSLHit || current == StatusTarget2Hit {
		return current
	}
	buy := sig.IsBuy()
	hit := func(level float64) bool {
		if buy {
			return price >= level
		}
		return price <= level
	}
	stopped := (buy && price <= sig.StopLoss) || (!buy && price >= sig.StopLoss)

	switch {
	case hit(sig.Target2):
		return StatusTarget2Hit
	case hit(sig.Target1):
		return StatusTarget1Hit
	case stopped && current == StatusActive:
		return StatusSLHit
	}
	return current
}

func ratioArg(r model.RiskReward) any {
	if !r.Defined {
		return nil
	}
	return r.Value
}

func ratioFrom(v sql.NullFloat64) model.RiskReward {
	if !v.Valid {
		return model.UndefinedRatio
	}
	return model.RiskReward{Value: v.Float64, Defined: true}
}

func shiftDate(date string, days int) (string, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", fmt.Errorf("sqlite: bad date %q: %w", date, err)
	}
	return t.AddDate(0, 0, days).Format("2006-01-02"), nil
}
