package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout/internal/broker"
	"breakout/internal/config"
	"breakout/internal/domain"
	"breakout/internal/engine"
	"breakout/internal/notify"
	"breakout/internal/store"
	"breakout/internal/strategy"
	"breakout/internal/universe"
	"breakout/internal/util"
)

func window(sym domain.Symbol) []domain.Bar {
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

type fixture struct {
	sim *broker.SimulatorBroker
	mem *notify.Memory
	out *bytes.Buffer
	app *App
}

func newFixture(t *testing.T, symbols ...domain.Symbol) *fixture {
	t.Helper()
	sim := broker.NewSimulatorBroker()
	for _, s := range symbols {
		sim.SetBars(s, window(s))
		sim.SetPrice(s, 50)
	}
	cfg := &config.Config{
		Strategy: config.StrategyConfig{StakePerOrder: 1000},
		Broker:   config.BrokerConfig{MaxRetries: 3, ReadAttempts: 1},
	}
	mem := &notify.Memory{}
	out := &bytes.Buffer{}
	a := New(cfg, Deps{
		Broker:   sim,
		Notifier: mem,
		Cache:    store.NopCache{},
		Universe: universe.Static(symbols),
		Params:   strategy.DefaultParams(),
		Today:    func() string { return "2024-06-14" },
		Out:      out,
	}, util.Discard())
	return &fixture{sim: sim, mem: mem, out: out, app: a}
}

func TestTradingDayLifecycle(t *testing.T) {
	f := newFixture(t, "UP", "FLAT")
	ctx := context.Background()
	f.sim.SetMarketOpen(true)

	require.NoError(t, f.app.RunInitialSteps(ctx))
	assert.Equal(t, engine.StateActive, f.app.Engine.State())
	require.NotEmpty(t, f.mem.Messages())
	assert.Equal(t, "Initial portfolio value: $100000.00", f.mem.Messages()[0])

	f.sim.SetPrice("UP", 52)
	require.NoError(t, f.app.RunStrategy(ctx))
	require.Len(t, f.sim.Orders(), 1)

	require.NoError(t, f.app.ShowHoldings(ctx))
	assert.Contains(t, f.out.String(), "UP")

	require.NoError(t, f.app.RunBeforeMarketClose(ctx))
	assert.Equal(t, engine.StateIdle, f.app.Engine.State())

	require.NoError(t, f.app.RunAfterMarketClose(ctx))
	msgs := f.mem.Messages()
	last := msgs[len(msgs)-1]
	assert.Contains(t, last, "Final portfolio value: $")
	assert.Contains(t, last, "Trades placed today: 1 (UP)")
}

func TestRunAfterMarketCloseWithoutTrades(t *testing.T) {
	f := newFixture(t, "FLAT")
	require.NoError(t, f.app.RunAfterMarketClose(context.Background()))
	msgs := f.mem.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "No trades placed today")
}

func TestShowHoldingsEmpty(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.ShowHoldings(context.Background()))
	assert.Contains(t, f.out.String(), "no open positions")
}

func TestShowHoldingsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.sim.FailNext("GetPositions", broker.ErrUnavailable)
	assert.ErrorIs(t, f.app.ShowHoldings(context.Background()), broker.ErrUnavailable)
}

func TestPicksDoesNotStartSession(t *testing.T) {
	f := newFixture(t, "UP")
	picks := f.app.Picks(context.Background())
	require.Len(t, picks, 1)
	assert.Equal(t, engine.StateIdle, f.app.Engine.State())
}

func TestFlatten(t *testing.T) {
	f := newFixture(t)
	f.sim.SetMarketOpen(true)
	f.sim.AddPosition(domain.Position{Symbol: "OLD", Qty: 5, Side: domain.PositionSideLong})
	require.NoError(t, f.app.Flatten(context.Background()))

	positions, err := f.app.Gateway.Positions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestBacktestNeedsHistory(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.Backtest(context.Background(), nil, time.Now(), time.Now(), 10000)
	assert.Error(t, err)
}

func TestBacktestUsesStoredSymbols(t *testing.T) {
	f := newFixture(t)
	hist := store.NewParquetStore(t.TempDir())
	f.app.history = hist

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	bars := window("UP")
	for i := range bars {
		bars[i].Timestamp = start.AddDate(0, 0, i)
	}
	bars = append(bars, domain.Bar{Symbol: "UP", Timestamp: start.AddDate(0, 0, len(bars)), Open: 50, High: 56, Low: 49.5, Close: 55})
	require.NoError(t, hist.WriteBars(context.Background(), bars))

	res, err := f.app.Backtest(context.Background(), nil, start, start.AddDate(0, 0, 10), 10000)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalTrades)
}

func TestCollectHistoryThenBacktest(t *testing.T) {
	f := newFixture(t)
	f.app.history = store.NewParquetStore(t.TempDir())

	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	bars := window("UP")
	for i := range bars {
		bars[i].Timestamp = start.AddDate(0, 0, i)
	}
	bars = append(bars, domain.Bar{Symbol: "UP", Timestamp: start.AddDate(0, 0, len(bars)), Open: 50, High: 56, Low: 49.5, Close: 55})
	f.sim.SetBars("UP", bars)

	sum, err := f.app.CollectHistory(context.Background(), []domain.Symbol{"UP"}, start, start.AddDate(0, 0, 10), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Hits)
	assert.Equal(t, int64(6), sum.Bars)

	res, err := f.app.Backtest(context.Background(), nil, start, start.AddDate(0, 0, 10), 10000)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalTrades)
	assert.Equal(t, "target", res.Trades[0].Reason)
}

func TestBuildSimMode(t *testing.T) {
	t.Setenv("PUSHOVER_API_KEY", "")
	cfg := &config.Config{
		Storage:  config.Storage{DataDir: t.TempDir(), Cache: "sqlite"},
		Strategy: config.StrategyConfig{Preset: "lw-breakout-long", StakePerOrder: 500},
		Broker:   config.BrokerConfig{Mode: "sim", MaxRetries: 3},
		Universe: config.UniverseConfig{Source: "static", Symbols: []string{"aapl"}},
	}
	cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "db", "cache.db")

	a, err := Build(cfg, util.Discard())
	if err != nil {
		t.Skipf("build unavailable in this environment: %v", err)
	}
	defer a.Close()

	assert.Equal(t, "simulator", a.Gateway.Name())
	assert.Equal(t, "lw-breakout-long", a.Engine.Params().Name)
	assert.FileExists(t, cfg.Storage.SQLitePath)
}

func TestBuildUnknownPreset(t *testing.T) {
	cfg := &config.Config{
		Strategy: config.StrategyConfig{Preset: "nope", StakePerOrder: 500},
		Broker:   config.BrokerConfig{Mode: "sim"},
	}
	_, err := Build(cfg, util.Discard())
	assert.Error(t, err)
}
