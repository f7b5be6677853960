package store

import (
	"context"
	"log/slog"
	"sync"

	"breakout/internal/domain"
)

// BarSource is what PriceBarStore fetches from on a cache miss.
type BarSource interface {
	IsTradable(ctx context.Context, symbol domain.Symbol) (bool, error)
	Bars(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int) ([]domain.Bar, error)
}

// Result is the outcome of a bar lookup. When Available is false, Reason
// says why and Bars is empty.
type Result struct {
	Symbol    domain.Symbol
	Bars      []domain.Bar
	Available bool
	Reason    string
}

// PriceBarStore serves a fixed window of daily bars per symbol for the
// current trading date. Lookups go memory, then the BarCache, then the
// BarSource. A date change drops the in-memory map and purges older cache
// days.
type PriceBarStore struct {
	src   BarSource
	cache BarCache
	limit int
	today func() string
	log   *slog.Logger

	mu   sync.Mutex
	date string
	mem  map[domain.Symbol]Result
}

// NewPriceBarStore builds a store fetching limit bars per symbol. today
// returns the current trading date as YYYY-MM-DD. A nil cache disables
// on-disk caching.
func NewPriceBarStore(src BarSource, cache BarCache, limit int, today func() string, logger *slog.Logger) *PriceBarStore {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceBarStore{
		src:   src,
		cache: cache,
		limit: limit,
		today: today,
		log:   logger.With("component", "pricebars"),
		mem:   make(map[domain.Symbol]Result),
	}
}

// Get returns bars for symbol. It never fails: problems come back as an
// unavailable Result.
func (s *PriceBarStore) Get(ctx context.Context, symbol domain.Symbol) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := s.today()
	if date != s.date {
		s.rollover(ctx, date)
	}
	if r, ok := s.mem[symbol]; ok {
		return r
	}

	bars, ok, err := s.cache.ReadDay(ctx, date, symbol)
	if err != nil {
		s.log.Warn("bar cache read failed", "symbol", symbol, "error", err)
	}
	if ok {
		r := Result{Symbol: symbol, Bars: bars, Available: true}
		s.mem[symbol] = r
		return r
	}

	tradable, err := s.src.IsTradable(ctx, symbol)
	if err != nil {
		s.log.Warn("tradability check failed", "symbol", symbol, "error", err)
		return Result{Symbol: symbol, Reason: "unavailable: " + err.Error()}
	}
	if !tradable {
		s.log.Info("symbol not tradable", "symbol", symbol)
		r := Result{Symbol: symbol, Reason: "not tradable"}
		s.mem[symbol] = r
		return r
	}

	bars, err = s.src.Bars(ctx, symbol, domain.TimeframeDay, s.limit)
	if err != nil {
		s.log.Warn("bar fetch failed", "symbol", symbol, "error", err)
		return Result{Symbol: symbol, Reason: "unavailable: " + err.Error()}
	}
	if err := s.cache.WriteDay(ctx, date, symbol, bars); err != nil {
		s.log.Warn("bar cache write failed", "symbol", symbol, "error", err)
	}
	r := Result{Symbol: symbol, Bars: bars, Available: true}
	s.mem[symbol] = r
	return r
}

// rollover switches to date. Callers hold s.mu.
func (s *PriceBarStore) rollover(ctx context.Context, date string) {
	if s.date != "" {
		s.log.Info("trading date rolled over", "from", s.date, "to", date)
	}
	s.date = date
	s.mem = make(map[domain.Symbol]Result)
	if err := s.cache.PurgeBefore(ctx, date); err != nil {
		s.log.Warn("bar cache purge failed", "before", date, "error", err)
	}
}
