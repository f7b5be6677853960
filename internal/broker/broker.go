// Package broker adapts the brokerage behind the Broker interface and layers
// the trading discipline (rate limiting, read retries, market-hours gating,
// the liquidation protocol) on top of it in Gateway.
package broker

import (
	"context"
	"time"

	"breakout/internal/domain"
)

// Broker is the raw brokerage surface. Implementations translate one call
// into one brokerage request and classify failures with the package
// sentinels; they do not retry or gate on market hours.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// GetAccount returns buying power and total value.
	GetAccount(ctx context.Context) (domain.Portfolio, error)

	// GetClock returns the brokerage's market clock.
	GetClock(ctx context.Context) (domain.Clock, error)

	// IsTradingDay reports whether the exchange has a session on t's date.
	IsTradingDay(ctx context.Context, t time.Time) (bool, error)

	// GetAsset returns tradability metadata. Unknown symbols yield
	// ErrNotTradable.
	GetAsset(ctx context.Context, symbol domain.Symbol) (domain.Asset, error)

	// GetPositions returns every open position.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetBars returns bars of timeframe tf for symbol between start and
	// end, oldest first.
	GetBars(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, start, end time.Time) ([]domain.Bar, error)

	// GetLatestPrice returns the last trade price for symbol.
	GetLatestPrice(ctx context.Context, symbol domain.Symbol) (float64, error)

	// SubmitBracketOrder sends a market entry with attached stop-loss and
	// take-profit legs.
	SubmitBracketOrder(ctx context.Context, intent domain.OrderIntent, clientOrderID string) (*domain.Order, error)

	// CancelAllOrders cancels every open order.
	CancelAllOrders(ctx context.Context) error

	// CloseAllPositions submits closing market orders for every position.
	CloseAllPositions(ctx context.Context) error
}
