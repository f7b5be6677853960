package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"breakout/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ BarCache = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bar_cache (
	date   TEXT    NOT NULL,
	symbol TEXT    NOT NULL,
	seq    INTEGER NOT NULL,
	ts     INTEGER NOT NULL,
	open   REAL    NOT NULL,
	high   REAL    NOT NULL,
	low    REAL    NOT NULL,
	close  REAL    NOT NULL,
	volume INTEGER NOT NULL,
	PRIMARY KEY (date, symbol, seq)
);`

// SQLiteStore implements BarCache in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; the cache is only touched from the job loop.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bar_cache table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReadDay returns the cached bars for (date, symbol) in their original order.
func (s *SQLiteStore) ReadDay(ctx context.Context, date string, symbol domain.Symbol) ([]domain.Bar, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, open, high, low, close, volume FROM bar_cache
		 WHERE date = ? AND symbol = ? ORDER BY seq`, date, symbol.String())
	if err != nil {
		return nil, false, fmt.Errorf("querying bar_cache: %w", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var ts int64
		b := domain.Bar{Symbol: symbol}
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, false, fmt.Errorf("scanning bar_cache: %w", err)
		}
		b.Timestamp = time.UnixMilli(ts).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return bars, len(bars) > 0, nil
}

// WriteDay replaces the cached bars for (date, symbol). Empty bar sets are
// not written.
func (s *SQLiteStore) WriteDay(ctx context.Context, date string, symbol domain.Symbol, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM bar_cache WHERE date = ? AND symbol = ?`, date, symbol.String()); err != nil {
		return fmt.Errorf("clearing bar_cache: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bar_cache (date, symbol, seq, ts, open, high, low, close, volume)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, b := range bars {
		if _, err := stmt.ExecContext(ctx, date, symbol.String(), i,
			b.Timestamp.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("inserting bar_cache row: %w", err)
		}
	}
	return tx.Commit()
}

// PurgeBefore deletes every cached day older than date.
func (s *SQLiteStore) PurgeBefore(ctx context.Context, date string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bar_cache WHERE date < ?`, date); err != nil {
		return fmt.Errorf("purging bar_cache: %w", err)
	}
	return nil
}
