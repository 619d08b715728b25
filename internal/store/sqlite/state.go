package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"intraday-signals/internal/model"
)

const metaLastResetDate = "last_reset_date"

// LoadState reads the persisted tracker state. An empty database yields an
// empty state.
func (s *Store) LoadState(ctx context.Context) (*model.TrackerState, error) {
	st := model.NewTrackerState()

	rows, err := s.db.QueryContext(ctx, `SELECT symbol, data FROM tracked_positions`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query positions: %w", err)
	}
	for rows.Next() {
		var sym, data string
		if err := rows.Scan(&sym, &data); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite scan position: %w", err)
		}
		var p model.TrackedPosition
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshal position %s: %w", sym, err)
		}
		st.Positions[sym] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT symbol, kind, date FROM alert_keys ORDER BY date, symbol, kind`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query alert keys: %w", err)
	}
	for rows.Next() {
		var k model.DedupeKey
		if err := rows.Scan(&k.Symbol, &k.Kind, &k.Date); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite scan alert key: %w", err)
		}
		st.Fired = append(st.Fired, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `SELECT value FROM engine_meta WHERE key = ?`, metaLastResetDate).Scan(&st.LastResetDate)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite read last reset date: %w", err)
	}
	return st, nil
}

// SaveState replaces the persisted state in one transaction.
func (s *Store) SaveState(ctx context.Context, st *model.TrackerState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_positions`); err != nil {
		return fmt.Errorf("sqlite clear positions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_keys`); err != nil {
		return fmt.Errorf("sqlite clear alert keys: %w", err)
	}

	posStmt, err := tx.PrepareContext(ctx, `INSERT INTO tracked_positions (symbol, trading_date, data) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer posStmt.Close()
	for sym, p := range st.Positions {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal position %s: %w", sym, err)
		}
		if _, err := posStmt.ExecContext(ctx, sym, p.TradingDate, string(data)); err != nil {
			return fmt.Errorf("sqlite insert position %s: %w", sym, err)
		}
	}

	keyStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO alert_keys (symbol, kind, date) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer keyStmt.Close()
	for _, k := range st.Fired {
		if _, err := keyStmt.ExecContext(ctx, k.Symbol, k.Kind, k.Date); err != nil {
			return fmt.Errorf("sqlite insert alert key: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO engine_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastResetDate, st.LastResetDate); err != nil {
		return fmt.Errorf("sqlite write last reset date: %w", err)
	}

	return tx.Commit()
}
