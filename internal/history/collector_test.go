package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout/internal/broker"
	"breakout/internal/domain"
	"breakout/internal/store"
	"breakout/internal/util"
)

func dailyBars(start time.Time, closes ...float64) []domain.Bar {
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{Timestamp: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return out
}

func TestCollectorWritesHistory(t *testing.T) {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 10)

	sim := broker.NewSimulatorBroker()
	sim.SetBars("AAA", dailyBars(start, 10, 11, 12))
	sim.SetBars("BBB", dailyBars(start, 20, 21))
	sim.SetPrice("NONE", 5)
	gw := broker.NewGateway(sim, nil, broker.GatewayOptions{ReadAttempts: 1}, util.Discard())

	hist := store.NewParquetStore(t.TempDir())
	c := NewCollector(gw, hist, 4, util.Discard())

	sum, err := c.Run(context.Background(), []domain.Symbol{"AAA", "BBB", "NONE"}, start, end)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Symbols)
	assert.Equal(t, int64(2), sum.Hits)
	assert.Equal(t, int64(1), sum.Empty)
	assert.Equal(t, int64(5), sum.Bars)

	got, err := hist.ReadBars(context.Background(), "AAA", start, end)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 12.0, got[2].Close)
	assert.Equal(t, domain.Symbol("AAA"), got[0].Symbol)

	syms, err := hist.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Symbol{"AAA", "BBB"}, syms)
}

func TestCollectorCountsFailures(t *testing.T) {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	sim := broker.NewSimulatorBroker()
	sim.SetBars("AAA", dailyBars(start, 10))
	sim.FailNext("GetBars", errors.New("bad request"))
	gw := broker.NewGateway(sim, nil, broker.GatewayOptions{ReadAttempts: 1}, util.Discard())

	c := NewCollector(gw, store.NewParquetStore(t.TempDir()), 1, util.Discard())
	sum, err := c.Run(context.Background(), []domain.Symbol{"AAA"}, start, start.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Failed)
	assert.Zero(t, sum.Hits)
}

func TestCollectorRejectsInvertedRange(t *testing.T) {
	c := NewCollector(nil, nil, 1, util.Discard())
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	_, err := c.Run(context.Background(), []domain.Symbol{"AAA"}, start, start.AddDate(0, 0, -1))
	assert.Error(t, err)
}

func TestCollectorCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sim := broker.NewSimulatorBroker()
	gw := broker.NewGateway(sim, nil, broker.GatewayOptions{ReadAttempts: 1}, util.Discard())
	c := NewCollector(gw, store.NewParquetStore(t.TempDir()), 2, util.Discard())
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	_, err := c.Run(ctx, []domain.Symbol{"AAA", "BBB"}, start, start.AddDate(0, 0, 5))
	assert.ErrorIs(t, err, context.Canceled)
}
