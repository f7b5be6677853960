// Package store caches daily price bars. The per-day cache is disposable:
// deleting it only costs a re-fetch.
package store

import (
	"context"
	"time"

	"breakout/internal/domain"
)

// BarCache persists one trading day's bar window per symbol.
type BarCache interface {
	// ReadDay returns the cached bars for symbol on date (YYYY-MM-DD). The
	// bool is false when nothing is cached.
	ReadDay(ctx context.Context, date string, symbol domain.Symbol) ([]domain.Bar, bool, error)

	// WriteDay replaces the cached bars for symbol on date.
	WriteDay(ctx context.Context, date string, symbol domain.Symbol, bars []domain.Bar) error

	// PurgeBefore drops every day older than date.
	PurgeBefore(ctx context.Context, date string) error
}

// HistoryStore keeps longer daily-bar histories for backtesting.
type HistoryStore interface {
	// WriteBars merges bars into storage, replacing duplicates by
	// (symbol, timestamp).
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for symbol within [start, end], oldest first.
	ReadBars(ctx context.Context, symbol domain.Symbol, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns every symbol with stored history.
	ListSymbols(ctx context.Context) ([]domain.Symbol, error)
}

// NopCache is a BarCache that stores nothing.
type NopCache struct{}

// ReadDay always misses.
func (NopCache) ReadDay(context.Context, string, domain.Symbol) ([]domain.Bar, bool, error) {
	return nil, false, nil
}

// WriteDay discards bars.
func (NopCache) WriteDay(context.Context, string, domain.Symbol, []domain.Bar) error { return nil }

// PurgeBefore does nothing.
func (NopCache) PurgeBefore(context.Context, string) error { return nil }
