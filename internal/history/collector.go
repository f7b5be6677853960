// Package history fills the daily bar history that backtests replay.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"breakout/internal/domain"
	"breakout/internal/store"
)

// Source serves daily bars over a date range.
type Source interface {
	BarsBetween(ctx context.Context, symbol domain.Symbol, start, end time.Time) ([]domain.Bar, error)
}

// Summary counts the outcome of a collection run.
type Summary struct {
	Symbols int
	Hits    int64 // symbols that returned bars
	Empty   int64 // symbols with no bars in range
	Failed  int64
	Bars    int64
}

// Collector fetches daily bars per symbol and writes them to the history
// store. Rewriting a range is idempotent: stored bars are merged by date.
type Collector struct {
	src        Source
	store      store.HistoryStore
	maxWorkers int
	log        *slog.Logger
}

// NewCollector creates a Collector running up to maxWorkers fetches at a
// time.
func NewCollector(src Source, s store.HistoryStore, maxWorkers int, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		src:        src,
		store:      s,
		maxWorkers: max(maxWorkers, 1),
		log:        logger.With("component", "history"),
	}
}

// Run collects [start, end] for every symbol. Per-symbol failures are
// logged and counted; only cancellation aborts the run.
func (c *Collector) Run(ctx context.Context, symbols []domain.Symbol, start, end time.Time) (Summary, error) {
	sum := Summary{Symbols: len(symbols)}
	if len(symbols) == 0 {
		return sum, nil
	}
	if end.Before(start) {
		return sum, fmt.Errorf("end %s before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	symCh := make(chan domain.Symbol, len(symbols))
	for _, s := range symbols {
		symCh <- s
	}
	close(symCh)

	var (
		wg       sync.WaitGroup
		hits     atomic.Int64
		empty    atomic.Int64
		failed   atomic.Int64
		bars     atomic.Int64
		done     atomic.Int64
		runStart = time.Now()
	)

	// The store merges per file; one writer at a time keeps merges whole.
	var writeMu sync.Mutex

	workers := min(c.maxWorkers, len(symbols))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				if ctx.Err() != nil {
					return
				}

				got, err := c.src.BarsBetween(ctx, sym, start, end)
				n := done.Add(1)
				if err != nil {
					failed.Add(1)
					c.log.Error("fetch failed", "symbol", sym, "error", err)
					continue
				}
				if len(got) == 0 {
					empty.Add(1)
					continue
				}
				for i := range got {
					got[i].Symbol = sym
				}

				writeMu.Lock()
				err = c.store.WriteBars(ctx, got)
				writeMu.Unlock()
				if err != nil {
					failed.Add(1)
					c.log.Error("writing bars failed", "symbol", sym, "error", err)
					continue
				}
				hits.Add(1)
				bars.Add(int64(len(got)))

				if n%50 == 0 {
					c.log.Info("progress",
						"done", fmt.Sprintf("%d/%d", n, len(symbols)),
						"elapsed", time.Since(runStart).Round(time.Second),
					)
				}
			}
		}()
	}
	wg.Wait()

	sum.Hits, sum.Empty, sum.Failed, sum.Bars = hits.Load(), empty.Load(), failed.Load(), bars.Load()
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	c.log.Info("history collected",
		"symbols", sum.Symbols,
		"hits", sum.Hits,
		"empty", sum.Empty,
		"failed", sum.Failed,
		"bars", sum.Bars,
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return sum, nil
}
