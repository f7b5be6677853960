package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout/internal/domain"
	"breakout/internal/notify"
	"breakout/internal/util"
)

func TestAlpacaBrokerName(t *testing.T) {
	b, err := NewAlpacaBroker(AlpacaConfig{APIKey: "key", APISecret: "secret", BaseURL: "https://paper-api.alpaca.markets"})
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	if got := b.Name(); got != "alpaca" {
		t.Errorf("AlpacaBroker.Name() = %q, want %q", got, "alpaca")
	}
}

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker()
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func testGateway(t *testing.T, opts GatewayOptions) (*Gateway, *SimulatorBroker, *notify.Memory, *sleepRecorder) {
	t.Helper()
	sim := NewSimulatorBroker()
	mem := &notify.Memory{}
	g := NewGateway(sim, mem, opts, util.Discard())
	rec := &sleepRecorder{}
	g.sleep = rec.sleep
	ids := 0
	g.newID = func() string { ids++; return "cid-" + string(rune('0'+ids)) }
	return g, sim, mem, rec
}

func fastOptions() GatewayOptions {
	return GatewayOptions{
		MaxRetries:        3,
		CancelSettleDelay: time.Second,
		LiquidationDelay:  5 * time.Second,
		PollInterval:      5 * time.Minute,
		ReadAttempts:      3,
	}
}

func TestPlaceBracketOrderMarketClosed(t *testing.T) {
	g, sim, mem, _ := testGateway(t, fastOptions())
	sim.SetMarketOpen(false)
	sim.SetPrice("AAPL", 100)

	res, err := g.PlaceBracketOrder(context.Background(), domain.OrderIntent{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 1, StopLoss: 95, TakeProfit: 110,
	})
	require.NoError(t, err)
	assert.False(t, res.Placed)
	assert.Equal(t, "market closed", res.Reason)
	assert.Zero(t, sim.Calls("SubmitBracketOrder"))
	assert.Empty(t, mem.Messages())
}

func TestPlaceBracketOrderMarketClosesBeforeSubmit(t *testing.T) {
	g, sim, mem, _ := testGateway(t, fastOptions())
	sim.SetMarketOpen(false)
	sim.ScriptClock(true)
	sim.SetPrice("AAPL", 100)

	res, err := g.PlaceBracketOrder(context.Background(), domain.OrderIntent{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 1, StopLoss: 95, TakeProfit: 110,
	})
	require.NoError(t, err)
	assert.False(t, res.Placed)
	assert.Equal(t, "market closed", res.Reason)
	assert.Equal(t, 1, sim.Calls("SubmitBracketOrder"))
	assert.Empty(t, sim.Orders())
	assert.Empty(t, mem.Messages())
}

func TestPlaceBracketOrderSuccess(t *testing.T) {
	g, sim, mem, _ := testGateway(t, fastOptions())
	sim.SetMarketOpen(true)
	sim.SetPrice("AAPL", 100)

	res, err := g.PlaceBracketOrder(context.Background(), domain.OrderIntent{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 10, StopLoss: 95, TakeProfit: 110,
	})
	require.NoError(t, err)
	require.True(t, res.Placed)
	assert.Equal(t, "cid-1", res.Order.ClientOrderID)

	orders := sim.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(10), orders[0].Qty)
	require.Len(t, mem.Messages(), 1)
	assert.Contains(t, mem.Messages()[0], "AAPL")
}

func TestPlaceBracketOrderRejectedIsNotified(t *testing.T) {
	g, sim, mem, _ := testGateway(t, fastOptions())
	sim.SetMarketOpen(true)
	sim.SetPrice("AAPL", 100)
	sim.FailNext("SubmitBracketOrder", errors.New("insufficient buying power"))

	res, err := g.PlaceBracketOrder(context.Background(), domain.OrderIntent{
		Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 10, StopLoss: 95, TakeProfit: 110,
	})
	require.Error(t, err)
	assert.False(t, res.Placed)
	assert.Equal(t, 1, sim.Calls("SubmitBracketOrder"), "submissions are never retried")
	require.Len(t, mem.Messages(), 1)
	assert.Contains(t, mem.Messages()[0], "Order for AAPL failed")
}

func TestReadRetriesTransientErrors(t *testing.T) {
	g, sim, _, _ := testGateway(t, fastOptions())
	sim.SetPrice("MSFT", 410.5)
	sim.FailNext("GetLatestPrice", ErrRateLimited)
	sim.FailNext("GetLatestPrice", ErrUnavailable)

	price, err := g.CurrentPrice(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, 410.5, price)
	assert.Equal(t, 3, sim.Calls("GetLatestPrice"))
}

func TestReadErrorsSurfaceAsUnavailable(t *testing.T) {
	g, sim, _, _ := testGateway(t, fastOptions())
	for i := 0; i < 3; i++ {
		sim.FailNext("GetPositions", errors.New("connection reset"))
	}

	_, err := g.Positions(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	// Unclassified errors are not retried.
	assert.Equal(t, 1, sim.Calls("GetPositions"))
}

func TestIsTradable(t *testing.T) {
	g, sim, _, _ := testGateway(t, fastOptions())
	sim.SetPrice("AAPL", 100)
	sim.SetPrice("OTC", 1)
	sim.SetTradable("OTC", false)

	ok, err := g.IsTradable(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsTradable(context.Background(), "OTC")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.IsTradable(context.Background(), "NOPE")
	require.NoError(t, err, "unknown symbols are filtered, not failures")
	assert.False(t, ok)
}

func TestBarsKeepsMostRecent(t *testing.T) {
	g, sim, _, _ := testGateway(t, fastOptions())
	var bars []domain.Bar
	for i := 0; i < 8; i++ {
		bars = append(bars, domain.Bar{Symbol: "X", Close: float64(i)})
	}
	sim.SetBars("X", bars)

	got, err := g.Bars(context.Background(), "X", domain.TimeframeDay, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, 3.0, got[0].Close)
	assert.Equal(t, 7.0, got[4].Close)
}

func TestBarsRejectsUnknownTimeframe(t *testing.T) {
	g, sim, _, _ := testGateway(t, fastOptions())
	sim.SetBars("X", []domain.Bar{{Symbol: "X", Close: 1}})

	_, err := g.Bars(context.Background(), "X", domain.Timeframe("hour"), 5)
	require.Error(t, err)
	assert.Zero(t, sim.Calls("GetBars"))

	got, err := g.Bars(context.Background(), "X", domain.Timeframe5Min, 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCloseAllPositionsStopsWhenFlat(t *testing.T) {
	g, sim, mem, rec := testGateway(t, fastOptions())
	sim.SetMarketOpen(true)
	sim.AddPosition(domain.Position{Symbol: "AAPL", Qty: 5, Side: domain.PositionSideLong, AvgEntryPrice: 100})

	require.NoError(t, g.CloseAllPositions(context.Background()))
	assert.Equal(t, 1, sim.Calls("CloseAllPositions"))
	assert.Equal(t, 1, sim.Calls("CancelAllOrders"))
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second}, rec.calls)
	assert.Empty(t, mem.Messages())
}

func TestCloseAllPositionsRetriesThenSucceeds(t *testing.T) {
	g, sim, mem, _ := testGateway(t, fastOptions())
	sim.SetMarketOpen(true)
	sim.AddPosition(domain.Position{Symbol: "AAPL", Qty: 5, Side: domain.PositionSideLong, AvgEntryPrice: 100})
	sim.StickyPositions(2)

	require.NoError(t, g.CloseAllPositions(context.Background()))
	assert.Equal(t, 3, sim.Calls("CloseAllPositions"))
	assert.Empty(t, mem.Messages())
}

func TestGatewayConcurrentReads(t *testing.T) {
	opts := fastOptions()
	opts.RateLimitPerMin = 600000
	g, sim, _, _ := testGateway(t, opts)
	sim.SetPrice("AAPL", 100)
	sim.SetBars("AAPL", []domain.Bar{{Symbol: "AAPL", Close: 100}})

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := g.CurrentPrice(context.Background(), "AAPL")
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := g.BarsBetween(context.Background(), "AAPL", time.Time{}, time.Time{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 20, sim.Calls("GetLatestPrice"))
	assert.Equal(t, 20, sim.Calls("GetBars"))
}

func TestCloseAllPositionsSucceedsOnLastRetry(t *testing.T) {
	g, sim, mem, _ := testGateway(t, fastOptions())
	sim.SetMarketOpen(true)
	sim.AddPosition(domain.Position{Symbol: "AAPL", Qty: 5, Side: domain.PositionSideLong, AvgEntryPrice: 100})
	sim.StickyPositions(3)

	require.NoError(t, g.CloseAllPositions(context.Background()))
	assert.Equal(t, 4, sim.Calls("CloseAllPositions"))
	assert.Empty(t, mem.Messages())
}

func TestCloseAllPositionsEscalatesAfterMaxRetries(t *testing.T) {
	g, sim, mem, _ := testGateway(t, fastOptions())
	sim.SetMarketOpen(true)
	sim.AddPosition(domain.Position{Symbol: "AAPL", Qty: 5, Side: domain.PositionSideLong, AvgEntryPrice: 100})
	sim.StickyPositions(-1)

	err := g.CloseAllPositions(context.Background())
	require.ErrorIs(t, err, ErrLiquidationFailed)
	assert.Equal(t, 4, sim.Calls("CloseAllPositions"), "first close plus three retries")
	assert.Equal(t, 4, sim.Calls("CancelAllOrders"))
	assert.Equal(t, []string{"Could not close all positions"}, mem.Messages())
}

func TestCloseAllPositionsMarketClosed(t *testing.T) {
	g, sim, mem, _ := testGateway(t, fastOptions())
	sim.SetMarketOpen(false)
	sim.AddPosition(domain.Position{Symbol: "AAPL", Qty: 5})

	require.NoError(t, g.CloseAllPositions(context.Background()))
	assert.Zero(t, sim.Calls("CloseAllPositions"))
	assert.Empty(t, mem.Messages())
}

func TestCancelOpenOrdersMarketClosed(t *testing.T) {
	g, sim, _, _ := testGateway(t, fastOptions())
	sim.SetMarketOpen(false)
	require.NoError(t, g.CancelOpenOrders(context.Background()))
	assert.Zero(t, sim.Calls("CancelAllOrders"))

	sim.SetMarketOpen(true)
	require.NoError(t, g.CancelOpenOrders(context.Background()))
	require.NoError(t, g.CancelOpenOrders(context.Background()))
	assert.Equal(t, 2, sim.Calls("CancelAllOrders"))
}

func TestAwaitMarketOpenPolls(t *testing.T) {
	g, sim, _, rec := testGateway(t, fastOptions())
	sim.ScriptClock(false, false, true)

	require.NoError(t, g.AwaitMarketOpen(context.Background()))
	assert.Equal(t, 3, sim.Calls("GetClock"))
	assert.Equal(t, []time.Duration{5 * time.Minute, 5 * time.Minute}, rec.calls)
}

func TestAwaitMarketCloseCancelled(t *testing.T) {
	g, sim, _, _ := testGateway(t, fastOptions())
	sim.SetMarketOpen(true)
	ctx, cancel := context.WithCancel(context.Background())
	g.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	err := g.AwaitMarketClose(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
