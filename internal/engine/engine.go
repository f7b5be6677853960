// Package engine runs the daily breakout lifecycle: select the day's picks,
// flatten before the open, enter breakouts while the market trades and
// flatten again before the close.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"breakout/internal/domain"
	"breakout/internal/notify"
	"breakout/internal/store"
	"breakout/internal/strategy"
	"breakout/internal/universe"
)

// Gateway is the brokerage surface the engine drives.
type Gateway interface {
	Portfolio(ctx context.Context) (domain.Portfolio, error)
	CurrentPrice(ctx context.Context, symbol domain.Symbol) (float64, error)
	Positions(ctx context.Context) ([]domain.Position, error)
	IsMarketOpen(ctx context.Context) (bool, error)
	AwaitMarketOpen(ctx context.Context) error
	PlaceBracketOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderResult, error)
	CloseAllPositions(ctx context.Context) error
}

// BarSource serves each symbol's recent daily bars.
type BarSource interface {
	Get(ctx context.Context, symbol domain.Symbol) store.Result
}

// State is the engine's lifecycle phase.
type State int

// Lifecycle phases, in the order a trading day visits them.
const (
	StateIdle State = iota
	StateSelecting
	StateFlatteningPre
	StateActive
	StateFlatteningPost
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateFlatteningPre:
		return "flattening_pre"
	case StateActive:
		return "active"
	case StateFlatteningPost:
		return "flattening_post"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DayState is the per-session bookkeeping. TradeCount always equals
// len(Traded) and never exceeds the configured cap.
type DayState struct {
	Date       string
	Picks      []strategy.Pick
	TradeCount int
	Traded     map[domain.Symbol]bool
}

// Snapshot is a read-only copy of the engine state.
type Snapshot struct {
	State      string          `json:"state"`
	Date       string          `json:"date"`
	Picks      []strategy.Pick `json:"picks"`
	TradeCount int             `json:"trade_count"`
	MaxTrades  int             `json:"max_trades"`
	Traded     []domain.Symbol `json:"traded"`
}

// Engine owns DayState and sequences selection, entries and liquidation.
// Lifecycle calls must not overlap; Snapshot is safe from any goroutine.
type Engine struct {
	gw       Gateway
	bars     BarSource
	universe universe.Provider
	params   strategy.Params
	risk     *RiskManager
	notifier notify.Notifier
	log      *slog.Logger
	today    func() string

	mu           sync.RWMutex
	state        State
	day          DayState
	onTransition func(from, to State)
}

// NewEngine creates a new Engine wired with the given dependencies. today
// returns the current trading date (YYYY-MM-DD).
func NewEngine(
	gw Gateway,
	bars BarSource,
	provider universe.Provider,
	params strategy.Params,
	risk *RiskManager,
	notifier notify.Notifier,
	today func() string,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLog(logger)
	}
	return &Engine{
		gw:       gw,
		bars:     bars,
		universe: provider,
		params:   params,
		risk:     risk,
		notifier: notifier,
		log:      logger.With("component", "engine", "strategy", params.Name),
		today:    today,
		day:      DayState{Traded: make(map[domain.Symbol]bool)},
	}
}

// OnTransition registers fn to be called after every state change.
func (e *Engine) OnTransition(fn func(from, to State)) {
	e.mu.Lock()
	e.onTransition = fn
	e.mu.Unlock()
}

// State returns the current phase.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Params returns the strategy parameters in use.
func (e *Engine) Params() strategy.Params { return e.params }

// Snapshot copies the current state for reporting.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	traded := make([]domain.Symbol, 0, len(e.day.Traded))
	for s := range e.day.Traded {
		traded = append(traded, s)
	}
	sort.Slice(traded, func(i, j int) bool { return traded[i] < traded[j] })
	return Snapshot{
		State:      e.state.String(),
		Date:       e.day.Date,
		Picks:      append([]strategy.Pick(nil), e.day.Picks...),
		TradeCount: e.day.TradeCount,
		MaxTrades:  e.params.MaxNumStocks,
		Traded:     traded,
	}
}

func (e *Engine) transition(to State) {
	e.mu.Lock()
	from := e.state
	e.state = to
	fn := e.onTransition
	e.mu.Unlock()

	if from != to {
		e.log.Info("state transition", "from", from, "to", to)
	}
	if fn != nil {
		fn(from, to)
	}
}

// SelectPicks fetches the universe and bars and ranks the candidates. It
// does not touch DayState.
func (e *Engine) SelectPicks(ctx context.Context) []strategy.Pick {
	symbols, err := e.universe.Fetch(ctx)
	if err != nil {
		e.log.Warn("universe unavailable, selecting from an empty list", "error", err)
		symbols = nil
	}

	bars := make(map[domain.Symbol][]domain.Bar, len(symbols))
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		r := e.bars.Get(ctx, sym)
		if !r.Available {
			e.log.Info("dropped: bars unavailable", "symbol", sym, "reason", r.Reason)
			continue
		}
		bars[sym] = r.Bars
	}

	picks := strategy.Select(symbols, bars, e.params)
	strategy.LogDrops(e.log, symbols, bars, picks, e.params)
	for i, p := range picks {
		e.log.Info("pick",
			"rank", i+1,
			"symbol", p.Symbol,
			"weightage", p.Weightage,
			"moved_pct", p.MovedPct,
			"y_change_pct", p.YesterdayChangePct,
			"lower", p.LowerBound,
			"upper", p.UpperBound,
		)
	}
	return picks
}

// Initialize starts a trading day: select picks, reset DayState, wait for
// the open and flatten any leftover positions. On success the engine is
// Active. If the wait is cancelled or the pre-open flatten fails the engine
// returns to Idle and the session does not trade.
func (e *Engine) Initialize(ctx context.Context) error {
	if s := e.State(); s != StateIdle {
		e.log.Warn("initialize called outside idle", "state", s)
	}
	e.transition(StateSelecting)

	picks := e.SelectPicks(ctx)
	date := e.today()
	e.mu.Lock()
	e.day = DayState{
		Date:   date,
		Picks:  picks,
		Traded: make(map[domain.Symbol]bool),
	}
	e.mu.Unlock()
	e.log.Info("picks selected", "count", len(picks), "date", date)

	if err := e.gw.AwaitMarketOpen(ctx); err != nil {
		e.transition(StateIdle)
		return fmt.Errorf("awaiting market open: %w", err)
	}

	e.transition(StateFlatteningPre)
	if err := e.gw.CloseAllPositions(ctx); err != nil {
		e.log.Error("pre-open flatten failed, session will not trade", "error", err)
		e.transition(StateIdle)
		return fmt.Errorf("flattening before session: %w", err)
	}

	e.transition(StateActive)
	return nil
}

// Run places bracket orders for picks that have broken out of their band.
// It is a logged no-op unless the engine is Active and the market is open.
// Per-symbol failures are logged and skipped.
func (e *Engine) Run(ctx context.Context) error {
	if s := e.State(); s != StateActive {
		e.log.Info("run skipped, engine not active", "state", s)
		return nil
	}

	open, err := e.gw.IsMarketOpen(ctx)
	if err != nil {
		e.log.Warn("run skipped, market clock unavailable", "error", err)
		return nil
	}
	if !open {
		e.log.Warn("run skipped, market closed")
		return nil
	}

	positions, err := e.gw.Positions(ctx)
	if err != nil {
		e.log.Warn("run skipped, positions unavailable", "error", err)
		return nil
	}
	held := make(map[domain.Symbol]bool, len(positions))
	for _, p := range positions {
		held[p.Symbol] = true
	}

	e.mu.RLock()
	picks := e.day.Picks
	e.mu.RUnlock()

	var portfolio *domain.Portfolio
	for _, pick := range picks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.tradeCount() >= e.params.MaxNumStocks {
			e.log.Info("trade cap reached", "cap", e.params.MaxNumStocks)
			break
		}
		if held[pick.Symbol] || e.traded(pick.Symbol) {
			continue
		}

		price, err := e.gw.CurrentPrice(ctx, pick.Symbol)
		if err != nil {
			e.log.Warn("price unavailable", "symbol", pick.Symbol, "error", err)
			continue
		}
		entry, ok := e.params.EntryFor(pick, price)
		if !ok {
			e.log.Debug("no breakout", "symbol", pick.Symbol, "price", price, "lower", pick.LowerBound, "upper", pick.UpperBound)
			continue
		}

		if portfolio == nil {
			p, err := e.gw.Portfolio(ctx)
			if err != nil {
				e.log.Warn("run stopped, portfolio unavailable", "error", err)
				return nil
			}
			portfolio = &p
		}
		qty, err := e.risk.Size(price, *portfolio)
		if err != nil {
			e.log.Error("order not sized", "symbol", pick.Symbol, "price", price, "error", err)
			if errors.Is(err, ErrInsufficientBuyingPower) {
				e.notifier.Notify(ctx, fmt.Sprintf("Order for %s skipped: %v", pick.Symbol, err))
			}
			continue
		}
		if qty == 0 {
			e.log.Info("stake too small for one share", "symbol", pick.Symbol, "price", price)
			continue
		}

		res, err := e.gw.PlaceBracketOrder(ctx, domain.OrderIntent{
			Symbol:     pick.Symbol,
			Side:       entry.Side,
			Qty:        qty,
			StopLoss:   entry.StopLoss,
			TakeProfit: entry.TakeProfit,
		})
		if err != nil {
			continue
		}
		if !res.Placed {
			e.log.Warn("run stopped, order not placed", "symbol", pick.Symbol, "reason", res.Reason)
			return nil
		}

		e.recordTrade(pick.Symbol)
		portfolio.BuyingPower -= price * float64(qty)
	}
	return nil
}

// Liquidate flattens the book before the close and returns the engine to
// Idle.
func (e *Engine) Liquidate(ctx context.Context) error {
	if s := e.State(); s != StateActive {
		e.log.Warn("liquidating outside active session", "state", s)
	}
	e.transition(StateFlatteningPost)
	err := e.gw.CloseAllPositions(ctx)
	if err != nil {
		e.log.Error("liquidation failed", "error", err)
	}
	e.transition(StateIdle)
	return err
}

func (e *Engine) tradeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.day.TradeCount
}

func (e *Engine) traded(s domain.Symbol) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.day.Traded[s]
}

func (e *Engine) recordTrade(s domain.Symbol) {
	e.mu.Lock()
	e.day.Traded[s] = true
	e.day.TradeCount = len(e.day.Traded)
	e.mu.Unlock()
}
