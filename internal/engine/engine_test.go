package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout/internal/broker"
	"breakout/internal/domain"
	"breakout/internal/notify"
	"breakout/internal/store"
	"breakout/internal/strategy"
	"breakout/internal/universe"
	"breakout/internal/util"
)

// breakoutWindow closes at 50 after a +10% session with a 4 point range, so
// the band is [49, 51] with a step of 1.
func breakoutWindow(sym domain.Symbol) []domain.Bar {
	mk := func(o, h, l, c float64) domain.Bar {
		return domain.Bar{Symbol: sym, Open: o, High: h, Low: l, Close: c}
	}
	return []domain.Bar{
		mk(50, 50, 50, 50),
		mk(50, 50, 50, 50),
		mk(45, 46, 44, 45),
		mk(45.4545, 48, 44, 50),
		mk(50, 50.5, 49.5, 50),
	}
}

type harness struct {
	sim    *broker.SimulatorBroker
	gw     *broker.Gateway
	mem    *notify.Memory
	engine *Engine
}

func newHarness(t *testing.T, symbols []domain.Symbol, params strategy.Params) *harness {
	t.Helper()
	sim := broker.NewSimulatorBroker()
	mem := &notify.Memory{}
	gw := broker.NewGateway(sim, mem, broker.GatewayOptions{MaxRetries: 3, ReadAttempts: 1}, util.Discard())
	today := func() string { return "2024-06-14" }
	bars := store.NewPriceBarStore(gw, nil, params.BarsetRecords, today, util.Discard())
	for _, s := range symbols {
		sim.SetBars(s, breakoutWindow(s))
		sim.SetPrice(s, 50)
	}
	e := NewEngine(gw, bars, universe.Static(symbols), params, NewRiskManager(1000, 0), mem, today, util.Discard())
	return &harness{sim: sim, gw: gw, mem: mem, engine: e}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.sim.SetMarketOpen(true)
	require.NoError(t, h.engine.Initialize(context.Background()))
	require.Equal(t, StateActive, h.engine.State())
}

func TestInitializeSelectsAndFlattens(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"AAA", "BBB"}, strategy.DefaultParams())
	h.sim.AddPosition(domain.Position{Symbol: "OLD", Qty: 3, Side: domain.PositionSideLong, AvgEntryPrice: 10})

	var seen []State
	h.engine.OnTransition(func(_, to State) { seen = append(seen, to) })
	h.start(t)

	assert.Equal(t, []State{StateSelecting, StateFlatteningPre, StateActive}, seen)
	snap := h.engine.Snapshot()
	assert.Equal(t, "2024-06-14", snap.Date)
	require.Len(t, snap.Picks, 2)
	assert.Equal(t, domain.Symbol("AAA"), snap.Picks[0].Symbol)
	assert.Equal(t, 51.0, snap.Picks[0].UpperBound)

	positions, err := h.gw.Positions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions, "leftover positions are flattened before the session")
}

func TestInitializeExcludesUntradable(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"AAA", "OTC"}, strategy.DefaultParams())
	h.sim.SetTradable("OTC", false)
	h.start(t)

	picks := h.engine.Snapshot().Picks
	require.Len(t, picks, 1)
	assert.Equal(t, domain.Symbol("AAA"), picks[0].Symbol)
}

func TestInitializeResetsDayState(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"AAA"}, strategy.DefaultParams())
	h.start(t)
	h.sim.SetPrice("AAA", 52)
	require.NoError(t, h.engine.Run(context.Background()))
	require.Equal(t, 1, h.engine.Snapshot().TradeCount)

	require.NoError(t, h.engine.Liquidate(context.Background()))
	h.start(t)
	snap := h.engine.Snapshot()
	assert.Zero(t, snap.TradeCount)
	assert.Empty(t, snap.Traded)
}

func TestRunPlacesLongAndShortBrackets(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"UP", "DOWN", "FLAT"}, strategy.DefaultParams())
	h.start(t)
	h.sim.SetPrice("UP", 52)
	h.sim.SetPrice("DOWN", 48)
	h.sim.SetPrice("FLAT", 50.5)

	require.NoError(t, h.engine.Run(context.Background()))

	orders := h.sim.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, domain.Symbol("UP"), orders[0].Symbol)
	assert.Equal(t, domain.OrderSideBuy, orders[0].Side)
	assert.Equal(t, int64(19), orders[0].Qty)
	assert.Equal(t, domain.Symbol("DOWN"), orders[1].Symbol)
	assert.Equal(t, domain.OrderSideSell, orders[1].Side)
	assert.Equal(t, int64(20), orders[1].Qty)

	snap := h.engine.Snapshot()
	assert.Equal(t, 2, snap.TradeCount)
	assert.Equal(t, []domain.Symbol{"DOWN", "UP"}, snap.Traded)
}

func TestRunLongOnlySkipsShorts(t *testing.T) {
	p := strategy.DefaultParams()
	p.AllowShort = false
	h := newHarness(t, []domain.Symbol{"DOWN"}, p)
	h.start(t)
	h.sim.SetPrice("DOWN", 48)

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Empty(t, h.sim.Orders())
}

func TestRunNeverReentersSymbol(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"UP"}, strategy.DefaultParams())
	h.start(t)
	h.sim.SetPrice("UP", 52)
	ctx := context.Background()

	require.NoError(t, h.engine.Run(ctx))
	require.Len(t, h.sim.Orders(), 1)

	// Held: skipped.
	require.NoError(t, h.engine.Run(ctx))
	// Closed intraday (stop or target hit): still skipped.
	require.NoError(t, h.sim.CloseAllPositions(ctx))
	require.NoError(t, h.engine.Run(ctx))

	assert.Len(t, h.sim.Orders(), 1)
	assert.Equal(t, 1, h.engine.Snapshot().TradeCount)
}

func TestRunRespectsTradeCap(t *testing.T) {
	p := strategy.DefaultParams()
	p.MaxNumStocks = 2
	syms := []domain.Symbol{"A1", "A2", "A3", "A4"}
	h := newHarness(t, syms, p)
	h.start(t)
	for _, s := range syms {
		h.sim.SetPrice(s, 52)
	}
	ctx := context.Background()

	require.NoError(t, h.engine.Run(ctx))
	require.NoError(t, h.sim.CloseAllPositions(ctx))
	require.NoError(t, h.engine.Run(ctx))

	assert.Len(t, h.sim.Orders(), 2)
	snap := h.engine.Snapshot()
	assert.Equal(t, 2, snap.TradeCount)
	assert.Len(t, snap.Traded, snap.TradeCount)
}

func TestRunMarketClosedIsNoop(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"UP"}, strategy.DefaultParams())
	h.start(t)
	h.sim.SetPrice("UP", 52)
	h.sim.SetMarketOpen(false)

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Empty(t, h.sim.Orders())
	assert.Zero(t, h.sim.Calls("GetLatestPrice"))
}

func TestRunInactiveIsNoop(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"UP"}, strategy.DefaultParams())
	h.sim.SetMarketOpen(true)
	h.sim.SetPrice("UP", 52)

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Empty(t, h.sim.Orders())
	assert.Equal(t, StateIdle, h.engine.State())
}

func TestRunRejectedOrderIsRetriedNextCycle(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"UP", "UP2"}, strategy.DefaultParams())
	h.start(t)
	h.sim.SetPrice("UP", 52)
	h.sim.SetPrice("UP2", 52)
	h.sim.FailNext("SubmitBracketOrder", errors.New("order rejected: halted"))
	ctx := context.Background()

	require.NoError(t, h.engine.Run(ctx))
	require.Len(t, h.sim.Orders(), 1, "failure on the first pick does not abort the loop")
	assert.Equal(t, domain.Symbol("UP2"), h.sim.Orders()[0].Symbol)
	assert.Contains(t, h.mem.Messages()[0], "Order for UP failed")

	require.NoError(t, h.engine.Run(ctx))
	require.Len(t, h.sim.Orders(), 2)
	assert.Equal(t, domain.Symbol("UP"), h.sim.Orders()[1].Symbol)
}

func TestRunInsufficientBuyingPower(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"UP"}, strategy.DefaultParams())
	h.start(t)
	h.sim.SetPortfolio(domain.Portfolio{BuyingPower: 100, TotalValue: 100})
	h.sim.SetPrice("UP", 52)

	require.NoError(t, h.engine.Run(context.Background()))
	assert.Empty(t, h.sim.Orders())
	require.Len(t, h.mem.Messages(), 1)
	assert.Contains(t, h.mem.Messages()[0], "insufficient buying power")
}

func TestRunPriceUnavailableSkipsSymbol(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"UP", "UP2"}, strategy.DefaultParams())
	h.start(t)
	h.sim.SetPrice("UP2", 52)
	h.sim.FailNext("GetLatestPrice", broker.ErrUnavailable)

	require.NoError(t, h.engine.Run(context.Background()))
	require.Len(t, h.sim.Orders(), 1)
	assert.Equal(t, domain.Symbol("UP2"), h.sim.Orders()[0].Symbol)
}

func TestLiquidate(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"UP"}, strategy.DefaultParams())
	h.start(t)
	h.sim.SetPrice("UP", 52)
	require.NoError(t, h.engine.Run(context.Background()))

	require.NoError(t, h.engine.Liquidate(context.Background()))
	assert.Equal(t, StateIdle, h.engine.State())
	positions, err := h.gw.Positions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestLiquidateFailureEscalates(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"UP"}, strategy.DefaultParams())
	h.start(t)
	h.sim.AddPosition(domain.Position{Symbol: "UP", Qty: 19, Side: domain.PositionSideLong, AvgEntryPrice: 52})
	h.sim.StickyPositions(-1)
	before := h.sim.Calls("CloseAllPositions")

	err := h.engine.Liquidate(context.Background())
	require.ErrorIs(t, err, broker.ErrLiquidationFailed)
	assert.Equal(t, StateIdle, h.engine.State())
	assert.Equal(t, 4, h.sim.Calls("CloseAllPositions")-before)
	assert.Contains(t, h.mem.Messages(), "Could not close all positions")
}

func TestInitializePreFlattenFailureStaysIdle(t *testing.T) {
	h := newHarness(t, []domain.Symbol{"UP"}, strategy.DefaultParams())
	h.sim.SetMarketOpen(true)
	h.sim.AddPosition(domain.Position{Symbol: "OLD", Qty: 1})
	h.sim.StickyPositions(-1)

	err := h.engine.Initialize(context.Background())
	require.ErrorIs(t, err, broker.ErrLiquidationFailed)
	assert.Equal(t, StateIdle, h.engine.State())
}

func TestRiskManagerSize(t *testing.T) {
	rm := NewRiskManager(1000, 0)
	p := domain.Portfolio{BuyingPower: 50000, TotalValue: 100000}

	qty, err := rm.Size(52, p)
	require.NoError(t, err)
	assert.Equal(t, int64(19), qty)

	qty, err = rm.Size(1500, p)
	require.NoError(t, err)
	assert.Zero(t, qty)

	_, err = rm.Size(0, p)
	assert.Error(t, err)

	_, err = rm.Size(10, domain.Portfolio{BuyingPower: 500})
	assert.ErrorIs(t, err, ErrInsufficientBuyingPower)

	capped := NewRiskManager(1000, 0.001)
	qty, err = capped.Size(10, p)
	require.NoError(t, err)
	assert.Equal(t, int64(10), qty)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "flattening_post", StateFlatteningPost.String())
	assert.Equal(t, "state(9)", State(9).String())
}
