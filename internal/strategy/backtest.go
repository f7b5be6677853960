package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"breakout/internal/domain"
	"breakout/internal/store"
)

// BacktestResult holds the summary metrics produced by a backtest run.
type BacktestResult struct {
	TotalReturn  float64 // TotalPnL / initial capital
	TotalPnL     float64
	MaxDrawdown  float64 // largest peak-to-trough drop of cumulative P&L, in dollars
	TotalTrades  int
	Wins         int
	WinRate      float64
	ProfitFactor float64 // gross profit / gross loss; 0 when there are no losses
	Trades       []BacktestTrade
}

// BacktestTrade is one simulated round trip.
type BacktestTrade struct {
	Date   string
	Symbol domain.Symbol
	Side   domain.OrderSide
	Qty    int64
	Entry  float64
	Exit   float64
	Reason string // "stop", "target" or "close"
	PnL    float64
}

// Backtester replays stored daily bars through Select. For each day it
// selects from the preceding BarsetRecords sessions and simulates breakout
// entries against that day's bar.
type Backtester struct {
	store  store.HistoryStore
	params Params
	stake  float64
}

// NewBacktester creates a Backtester reading history from s and sizing each
// entry at stake dollars.
func NewBacktester(s store.HistoryStore, params Params, stake float64) *Backtester {
	return &Backtester{
		store:  s,
		params: params,
		stake:  stake,
	}
}

// Run executes a backtest over symbols for the trading days in [start, end],
// starting with initialCapital.
func (bt *Backtester) Run(ctx context.Context, symbols []domain.Symbol, start, end time.Time, initialCapital float64) (*BacktestResult, error) {
	if err := bt.params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	// Enough calendar days before start to fill the first window.
	lookback := start.AddDate(0, 0, -(bt.params.BarsetRecords*2 + 7))

	history := make(map[domain.Symbol][]domain.Bar, len(symbols))
	dateSet := make(map[string]bool)
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bars, err := bt.store.ReadBars(ctx, sym, lookback, end)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s: %w", sym, err)
		}
		history[sym] = bars
		for _, b := range bars {
			dateSet[dateKey(b.Timestamp)] = true
		}
	}

	dates := make([]string, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	res := &BacktestResult{}
	startKey := dateKey(start)
	for _, day := range dates {
		if day < startKey {
			continue
		}
		windows := make(map[domain.Symbol][]domain.Bar, len(symbols))
		todays := make(map[domain.Symbol]domain.Bar, len(symbols))
		for _, sym := range symbols {
			w, today, ok := windowBefore(history[sym], day, bt.params.BarsetRecords)
			if !ok {
				continue
			}
			windows[sym] = w
			todays[sym] = today
		}

		for _, pick := range Select(symbols, windows, bt.params) {
			bar, ok := todays[pick.Symbol]
			if !ok {
				continue
			}
			if tr, ok := bt.simulate(day, pick, bar); ok {
				res.Trades = append(res.Trades, tr)
			}
		}
	}

	summarize(res, initialCapital)
	return res, nil
}

// simulate fills pick against the day's bar. When a bar touches both the
// stop and the target, the stop is assumed to have been hit first.
func (bt *Backtester) simulate(day string, pick Pick, bar domain.Bar) (BacktestTrade, bool) {
	p := bt.params
	tr := BacktestTrade{Date: day, Symbol: pick.Symbol}

	switch {
	case bar.High > pick.UpperBound:
		tr.Side = domain.OrderSideBuy
		tr.Entry = math.Max(bar.Open, pick.UpperBound)
		stop := tr.Entry - p.StopMultiplier*pick.Step
		target := tr.Entry + p.TargetMultiplier*pick.Step
		switch {
		case bar.Low <= stop:
			tr.Exit, tr.Reason = stop, "stop"
		case bar.High >= target:
			tr.Exit, tr.Reason = target, "target"
		default:
			tr.Exit, tr.Reason = bar.Close, "close"
		}
	case p.AllowShort && bar.Low < pick.LowerBound:
		tr.Side = domain.OrderSideSell
		tr.Entry = math.Min(bar.Open, pick.LowerBound)
		stop := tr.Entry + p.StopMultiplier*pick.Step
		target := tr.Entry - p.TargetMultiplier*pick.Step
		switch {
		case bar.High >= stop:
			tr.Exit, tr.Reason = stop, "stop"
		case bar.Low <= target:
			tr.Exit, tr.Reason = target, "target"
		default:
			tr.Exit, tr.Reason = bar.Close, "close"
		}
	default:
		return BacktestTrade{}, false
	}

	if tr.Entry <= 0 {
		return BacktestTrade{}, false
	}
	tr.Qty = int64(math.Floor(bt.stake / tr.Entry))
	if tr.Qty <= 0 {
		return BacktestTrade{}, false
	}
	tr.Entry = round2(tr.Entry)
	tr.Exit = round2(tr.Exit)
	diff := tr.Exit - tr.Entry
	if tr.Side == domain.OrderSideSell {
		diff = -diff
	}
	tr.PnL = round2(diff * float64(tr.Qty))
	return tr, true
}

// windowBefore returns the last n bars dated before day together with the
// bar dated day.
func windowBefore(bars []domain.Bar, day string, n int) ([]domain.Bar, domain.Bar, bool) {
	idx := -1
	for i, b := range bars {
		if dateKey(b.Timestamp) == day {
			idx = i
			break
		}
	}
	if idx < n {
		return nil, domain.Bar{}, false
	}
	return bars[idx-n : idx], bars[idx], true
}

func summarize(res *BacktestResult, initialCapital float64) {
	var grossProfit, grossLoss, equity, peak float64
	for _, tr := range res.Trades {
		res.TotalTrades++
		if tr.PnL > 0 {
			res.Wins++
			grossProfit += tr.PnL
		} else {
			grossLoss -= tr.PnL
		}
		equity += tr.PnL
		peak = math.Max(peak, equity)
		res.MaxDrawdown = math.Max(res.MaxDrawdown, peak-equity)
	}
	res.TotalPnL = round2(equity)
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.TotalTrades)
	}
	if grossLoss > 0 {
		res.ProfitFactor = grossProfit / grossLoss
	}
	if initialCapital > 0 {
		res.TotalReturn = equity / initialCapital
	}
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
