// Package sqlite persists tracker state and the signal history in a single
// WAL-mode SQLite database.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors returned by UpdateStatus.
var (
	ErrNotFound      = errors.New("sqlite: not found")
	ErrInvalidStatus = errors.New("sqlite: invalid status")
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/signals.db"
}

// Store is the SQLite adapter. It implements model.StateStore and
// model.HistoryRecorder.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tracked_positions (
			symbol       TEXT PRIMARY KEY,
			trading_date TEXT NOT NULL,
			data         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS alert_keys (
			symbol TEXT NOT NULL,
			kind   TEXT NOT NULL,
			date   TEXT NOT NULL,
			PRIMARY KEY (symbol, kind, date)
		);

		CREATE TABLE IF NOT EXISTS engine_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS signal_history (
			trading_date   TEXT    NOT NULL,
			symbol         TEXT    NOT NULL,
			company_name   TEXT    NOT NULL DEFAULT '',
			signal_type    TEXT    NOT NULL,
			entry_price    REAL    NOT NULL,
			stop_loss      REAL    NOT NULL,
			target1        REAL    NOT NULL,
			target2        REAL    NOT NULL,
			atr            REAL    NOT NULL,
			change_percent REAL    NOT NULL,
			risk_reward1   REAL,
			risk_reward2   REAL,
			status         TEXT    NOT NULL DEFAULT 'active',
			saved_at       INTEGER NOT NULL,
			updated_at     INTEGER,
			PRIMARY KEY (trading_date, symbol)
		);

		CREATE INDEX IF NOT EXISTS idx_signal_history_symbol ON signal_history (symbol);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
