package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"breakout/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements Broker in memory with scripted market state. It
// backs dry runs and every test that needs a brokerage: prices, bars,
// tradability, clock answers and injected failures are all set by the caller.
type SimulatorBroker struct {
	mu sync.Mutex

	open       bool
	clockQueue []bool
	now        func() time.Time
	holidays   map[string]bool

	portfolio  domain.Portfolio
	prices     map[domain.Symbol]float64
	bars       map[domain.Symbol][]domain.Bar
	untradable map[domain.Symbol]bool
	positions  map[domain.Symbol]domain.Position

	// stickyCloses is how many CloseAllPositions calls leave positions in
	// place; negative means forever.
	stickyCloses int
	fillOrders   bool

	failures map[string][]error
	orders   []domain.Order
	calls    map[string]int
	seq      int
}

// NewSimulatorBroker creates a SimulatorBroker with the market closed, no
// positions and $100,000 of buying power. Submitted orders fill immediately
// at the scripted price.
func NewSimulatorBroker() *SimulatorBroker {
	return &SimulatorBroker{
		now:        time.Now,
		holidays:   make(map[string]bool),
		portfolio:  domain.Portfolio{BuyingPower: 100_000, TotalValue: 100_000, Cash: 100_000},
		prices:     make(map[domain.Symbol]float64),
		bars:       make(map[domain.Symbol][]domain.Bar),
		untradable: make(map[domain.Symbol]bool),
		positions:  make(map[domain.Symbol]domain.Position),
		fillOrders: true,
		failures:   make(map[string][]error),
		calls:      make(map[string]int),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SetMarketOpen sets the answer GetClock gives once any scripted answers are
// used up.
func (b *SimulatorBroker) SetMarketOpen(open bool) {
	b.mu.Lock()
	b.open = open
	b.mu.Unlock()
}

// ScriptClock queues IsOpen answers for successive GetClock calls.
func (b *SimulatorBroker) ScriptClock(answers ...bool) {
	b.mu.Lock()
	b.clockQueue = append(b.clockQueue, answers...)
	b.mu.Unlock()
}

// SetNow overrides the simulator's wall clock.
func (b *SimulatorBroker) SetNow(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// SetHoliday marks date (YYYY-MM-DD) as a non-trading day.
func (b *SimulatorBroker) SetHoliday(date string) {
	b.mu.Lock()
	b.holidays[date] = true
	b.mu.Unlock()
}

// SetPortfolio replaces the account snapshot.
func (b *SimulatorBroker) SetPortfolio(p domain.Portfolio) {
	b.mu.Lock()
	b.portfolio = p
	b.mu.Unlock()
}

// SetPrice scripts the latest trade price for symbol.
func (b *SimulatorBroker) SetPrice(symbol domain.Symbol, price float64) {
	b.mu.Lock()
	b.prices[symbol] = price
	b.mu.Unlock()
}

// SetBars scripts the daily bars for symbol, oldest first.
func (b *SimulatorBroker) SetBars(symbol domain.Symbol, bars []domain.Bar) {
	b.mu.Lock()
	b.bars[symbol] = append([]domain.Bar(nil), bars...)
	b.mu.Unlock()
}

// SetTradable flags symbol as tradable or not.
func (b *SimulatorBroker) SetTradable(symbol domain.Symbol, tradable bool) {
	b.mu.Lock()
	if tradable {
		delete(b.untradable, symbol)
	} else {
		b.untradable[symbol] = true
	}
	b.mu.Unlock()
}

// AddPosition opens a position directly.
func (b *SimulatorBroker) AddPosition(p domain.Position) {
	b.mu.Lock()
	b.positions[p.Symbol] = p
	b.mu.Unlock()
}

// StickyPositions makes the next n CloseAllPositions calls leave positions
// open. A negative n keeps them open forever.
func (b *SimulatorBroker) StickyPositions(n int) {
	b.mu.Lock()
	b.stickyCloses = n
	b.mu.Unlock()
}

// SetFillOrders controls whether accepted orders open a position.
func (b *SimulatorBroker) SetFillOrders(fill bool) {
	b.mu.Lock()
	b.fillOrders = fill
	b.mu.Unlock()
}

// FailNext queues err as the result of the next call to method (for example
// "GetPositions" or "SubmitBracketOrder").
func (b *SimulatorBroker) FailNext(method string, err error) {
	b.mu.Lock()
	b.failures[method] = append(b.failures[method], err)
	b.mu.Unlock()
}

// Orders returns every accepted order in submission order.
func (b *SimulatorBroker) Orders() []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Order(nil), b.orders...)
}

// Calls returns how many times method was invoked.
func (b *SimulatorBroker) Calls(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[method]
}

// enter records the call and pops a scripted failure. Callers hold b.mu.
func (b *SimulatorBroker) enter(ctx context.Context, method string) error {
	b.calls[method]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if q := b.failures[method]; len(q) > 0 {
		b.failures[method] = q[1:]
		return q[0]
	}
	return nil
}

// GetAccount returns the scripted portfolio.
func (b *SimulatorBroker) GetAccount(ctx context.Context) (domain.Portfolio, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, "GetAccount"); err != nil {
		return domain.Portfolio{}, err
	}
	return b.portfolio, nil
}

// GetClock pops the next scripted answer or falls back to SetMarketOpen.
func (b *SimulatorBroker) GetClock(ctx context.Context) (domain.Clock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, "GetClock"); err != nil {
		return domain.Clock{}, err
	}
	open := b.open
	if len(b.clockQueue) > 0 {
		open = b.clockQueue[0]
		b.clockQueue = b.clockQueue[1:]
	}
	now := b.now()
	return domain.Clock{
		Timestamp: now,
		IsOpen:    open,
		NextOpen:  now.Add(30 * time.Minute),
		NextClose: now.Add(6 * time.Hour),
	}, nil
}

// IsTradingDay treats weekdays that are not marked holidays as trading days.
func (b *SimulatorBroker) IsTradingDay(ctx context.Context, t time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, "IsTradingDay"); err != nil {
		return false, err
	}
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false, nil
	}
	return !b.holidays[t.Format("2006-01-02")], nil
}

// GetAsset reports tradability. Symbols with neither a price nor bars are
// unknown.
func (b *SimulatorBroker) GetAsset(ctx context.Context, symbol domain.Symbol) (domain.Asset, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, "GetAsset"); err != nil {
		return domain.Asset{}, err
	}
	_, hasPrice := b.prices[symbol]
	_, hasBars := b.bars[symbol]
	if !hasPrice && !hasBars && !b.untradable[symbol] {
		return domain.Asset{Symbol: symbol}, fmt.Errorf("GetAsset %s: %w", symbol, ErrNotTradable)
	}
	return domain.Asset{Symbol: symbol, Tradable: !b.untradable[symbol]}, nil
}

// GetPositions returns open positions sorted by symbol, marked to the
// scripted prices.
func (b *SimulatorBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, "GetPositions"); err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if price, ok := b.prices[p.Symbol]; ok {
			p = markToPrice(p, price)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// GetBars returns the scripted bars that fall inside [start, end]. The same
// script serves every timeframe. Bars without a timestamp are always
// included.
func (b *SimulatorBroker) GetBars(ctx context.Context, symbol domain.Symbol, _ domain.Timeframe, start, end time.Time) ([]domain.Bar, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, "GetBars"); err != nil {
		return nil, err
	}
	var out []domain.Bar
	for _, bar := range b.bars[symbol] {
		ts := bar.Timestamp
		if !ts.IsZero() && ((!start.IsZero() && ts.Before(start)) || (!end.IsZero() && ts.After(end))) {
			continue
		}
		out = append(out, bar)
	}
	return out, nil
}

// GetLatestPrice returns the scripted price.
func (b *SimulatorBroker) GetLatestPrice(ctx context.Context, symbol domain.Symbol) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, "GetLatestPrice"); err != nil {
		return 0, err
	}
	price, ok := b.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("GetLatestPrice %s: %w: no price", symbol, ErrUnavailable)
	}
	return price, nil
}

// SubmitBracketOrder validates the bracket against the scripted price and
// records the order. Accepted orders fill at once when fills are enabled.
func (b *SimulatorBroker) SubmitBracketOrder(ctx context.Context, intent domain.OrderIntent, clientOrderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, "SubmitBracketOrder"); err != nil {
		return nil, err
	}
	if !b.open {
		return nil, fmt.Errorf("order rejected: %w", ErrMarketClosed)
	}
	if intent.Qty <= 0 {
		return nil, fmt.Errorf("order rejected: qty %d must be positive", intent.Qty)
	}
	if b.untradable[intent.Symbol] {
		return nil, fmt.Errorf("order rejected: %s: %w", intent.Symbol, ErrNotTradable)
	}
	price, ok := b.prices[intent.Symbol]
	if !ok {
		return nil, fmt.Errorf("order rejected: no quote for %s", intent.Symbol)
	}
	if err := validateBracket(intent, price); err != nil {
		return nil, err
	}
	cost := price * float64(intent.Qty)
	if cost > b.portfolio.BuyingPower {
		return nil, fmt.Errorf("order rejected: insufficient buying power (%.2f > %.2f)", cost, b.portfolio.BuyingPower)
	}

	b.seq++
	order := domain.Order{
		ID:            fmt.Sprintf("sim-%d", b.seq),
		ClientOrderID: clientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Qty:           intent.Qty,
		Status:        "accepted",
		SubmittedAt:   b.now(),
	}
	if b.fillOrders {
		order.Status = "filled"
		side := domain.PositionSideLong
		if intent.Side == domain.OrderSideSell {
			side = domain.PositionSideShort
		}
		b.positions[intent.Symbol] = domain.Position{
			Symbol:        intent.Symbol,
			Side:          side,
			Qty:           float64(intent.Qty),
			AvgEntryPrice: price,
			CurrentPrice:  price,
		}
		b.portfolio.BuyingPower -= cost
	}
	b.orders = append(b.orders, order)
	return &order, nil
}

// CancelAllOrders marks accepted orders cancelled.
func (b *SimulatorBroker) CancelAllOrders(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, "CancelAllOrders"); err != nil {
		return err
	}
	for i := range b.orders {
		if b.orders[i].Status == "accepted" {
			b.orders[i].Status = "canceled"
		}
	}
	return nil
}

// CloseAllPositions clears positions unless they are scripted to stick.
func (b *SimulatorBroker) CloseAllPositions(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter(ctx, "CloseAllPositions"); err != nil {
		return err
	}
	if b.stickyCloses != 0 {
		if b.stickyCloses > 0 {
			b.stickyCloses--
		}
		return nil
	}
	for sym, p := range b.positions {
		b.portfolio.BuyingPower += p.Qty * p.AvgEntryPrice
		delete(b.positions, sym)
	}
	return nil
}

func markToPrice(p domain.Position, price float64) domain.Position {
	p.CurrentPrice = price
	diff := price - p.AvgEntryPrice
	if p.Side == domain.PositionSideShort {
		diff = -diff
	}
	p.UnrealizedPL = diff * p.Qty
	if p.AvgEntryPrice > 0 {
		p.UnrealizedPLPct = diff / p.AvgEntryPrice
	}
	return p
}

// validateBracket applies the brokerage's bracket sanity rules: for a buy
// the stop sits below and the target above the market price, mirrored for a
// sell.
func validateBracket(intent domain.OrderIntent, price float64) error {
	switch intent.Side {
	case domain.OrderSideBuy:
		if intent.StopLoss >= price || intent.TakeProfit <= price {
			return fmt.Errorf("order rejected: buy bracket stop %.2f / target %.2f around %.2f", intent.StopLoss, intent.TakeProfit, price)
		}
	case domain.OrderSideSell:
		if intent.StopLoss <= price || intent.TakeProfit >= price {
			return fmt.Errorf("order rejected: sell bracket stop %.2f / target %.2f around %.2f", intent.StopLoss, intent.TakeProfit, price)
		}
	default:
		return fmt.Errorf("order rejected: unknown side %q", intent.Side)
	}
	return nil
}
