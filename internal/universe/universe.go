// Package universe supplies the day's candidate symbols.
package universe

import (
	"context"

	"breakout/internal/domain"
)

// Provider returns the candidate universe: uppercase, deduplicated symbols in
// a stable order.
type Provider interface {
	Fetch(ctx context.Context) ([]domain.Symbol, error)
}

// Static is a fixed universe.
type Static []domain.Symbol

// Fetch returns the normalized symbols.
func (s Static) Fetch(context.Context) ([]domain.Symbol, error) {
	raw := make([]string, len(s))
	for i, sym := range s {
		raw[i] = string(sym)
	}
	return Normalize(raw), nil
}

// Normalize trims, uppercases and deduplicates raw tickers, dropping blanks
// and keeping first-seen order.
func Normalize(raw []string) []domain.Symbol {
	seen := make(map[domain.Symbol]bool, len(raw))
	out := make([]domain.Symbol, 0, len(raw))
	for _, r := range raw {
		sym := domain.NormalizeSymbol(r)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}
