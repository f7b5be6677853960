package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"breakout/internal/domain"
	"breakout/internal/notify"
	"breakout/internal/util"
)

// GatewayOptions tunes the Gateway's waits and retries. Durations are used
// as given; DefaultGatewayOptions supplies production values.
type GatewayOptions struct {
	MaxRetries        int           // liquidation retries after the first close
	CancelSettleDelay time.Duration // pause after cancelling orders
	LiquidationDelay  time.Duration // pause after submitting closes, before re-checking
	PollInterval      time.Duration // market clock poll period for the await loops
	ReadAttempts      int
	ReadRetryDelay    time.Duration
	ReadRetryMaxDelay time.Duration
	RateLimitPerMin   int // zero disables client-side limiting
}

// DefaultGatewayOptions returns the production discipline: 3 liquidation
// retries, a 5 minute clock poll and 200 requests per minute.
func DefaultGatewayOptions() GatewayOptions {
	return GatewayOptions{
		MaxRetries:        3,
		CancelSettleDelay: 2 * time.Second,
		LiquidationDelay:  5 * time.Second,
		PollInterval:      5 * time.Minute,
		ReadAttempts:      3,
		ReadRetryDelay:    time.Second,
		ReadRetryMaxDelay: 10 * time.Second,
		RateLimitPerMin:   200,
	}
}

// Gateway wraps a Broker with the trading discipline: rate-limited reads
// retried on transient failures, order placement gated on the market being
// open, bounded market waits and the liquidation protocol. It is safe for
// concurrent use: the limiter is locked and the other fields are read-only.
type Gateway struct {
	b        Broker
	notifier notify.Notifier
	opts     GatewayOptions
	limiter  *util.RateLimiter
	log      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
	now   func() time.Time
}

// NewGateway builds a Gateway over b. A nil notifier logs notifications.
func NewGateway(b Broker, notifier notify.Notifier, opts GatewayOptions, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLog(logger)
	}
	opts.MaxRetries = max(opts.MaxRetries, 1)
	opts.ReadAttempts = max(opts.ReadAttempts, 1)
	return &Gateway{
		b:        b,
		notifier: notifier,
		opts:     opts,
		limiter:  util.NewRateLimiter(opts.RateLimitPerMin),
		log:      logger.With("component", "gateway", "broker", b.Name()),
		sleep:    util.Sleep,
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
	}
}

// Name returns the underlying broker's name.
func (g *Gateway) Name() string { return g.b.Name() }

// read runs fn behind the rate limiter, retrying transient failures. Errors
// that survive the retries are wrapped with ErrUnavailable unless they are
// already classified.
func (g *Gateway) read(ctx context.Context, op string, fn func() error) error {
	b := util.Backoff{
		Attempts:  g.opts.ReadAttempts,
		BaseDelay: g.opts.ReadRetryDelay,
		MaxDelay:  g.opts.ReadRetryMaxDelay,
	}
	err := util.RetryBackoff(ctx, b, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return util.Permanent(err)
		}
		g.log.Warn("broker read failed, retrying", "op", op, "error", err)
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrNotTradable):
		return err
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
}

// Portfolio returns buying power and total account value.
func (g *Gateway) Portfolio(ctx context.Context) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := g.read(ctx, "portfolio", func() error {
		var err error
		p, err = g.b.GetAccount(ctx)
		return err
	})
	return p, err
}

// CurrentPrice returns the latest trade price for symbol.
func (g *Gateway) CurrentPrice(ctx context.Context, symbol domain.Symbol) (float64, error) {
	var price float64
	err := g.read(ctx, "current price", func() error {
		var err error
		price, err = g.b.GetLatestPrice(ctx, symbol)
		return err
	})
	return price, err
}

// Bars returns up to limit of the most recent tf bars for symbol, oldest
// first.
func (g *Gateway) Bars(ctx context.Context, symbol domain.Symbol, tf domain.Timeframe, limit int) ([]domain.Bar, error) {
	if tf.Duration() == 0 {
		return nil, fmt.Errorf("bars %s: unsupported timeframe %q", symbol, tf)
	}
	end := g.now()
	start := end.Add(-tf.Lookback(limit))
	var bars []domain.Bar
	err := g.read(ctx, "bars", func() error {
		var err error
		bars, err = g.b.GetBars(ctx, symbol, tf, start, end)
		return err
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// BarsBetween returns the daily bars for symbol dated within [start, end],
// oldest first.
func (g *Gateway) BarsBetween(ctx context.Context, symbol domain.Symbol, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	err := g.read(ctx, "bars", func() error {
		var err error
		bars, err = g.b.GetBars(ctx, symbol, domain.TimeframeDay, start, end)
		return err
	})
	return bars, err
}

// Positions returns every open position.
func (g *Gateway) Positions(ctx context.Context) ([]domain.Position, error) {
	var out []domain.Position
	err := g.read(ctx, "positions", func() error {
		var err error
		out, err = g.b.GetPositions(ctx)
		return err
	})
	return out, err
}

// Clock returns the brokerage market clock.
func (g *Gateway) Clock(ctx context.Context) (domain.Clock, error) {
	var c domain.Clock
	err := g.read(ctx, "clock", func() error {
		var err error
		c, err = g.b.GetClock(ctx)
		return err
	})
	return c, err
}

// IsMarketOpen reports whether the regular session is open now.
func (g *Gateway) IsMarketOpen(ctx context.Context) (bool, error) {
	c, err := g.Clock(ctx)
	if err != nil {
		return false, err
	}
	return c.IsOpen, nil
}

// IsTradingDay reports whether the exchange trades on t's date.
func (g *Gateway) IsTradingDay(ctx context.Context, t time.Time) (bool, error) {
	var ok bool
	err := g.read(ctx, "calendar", func() error {
		var err error
		ok, err = g.b.IsTradingDay(ctx, t)
		return err
	})
	return ok, err
}

// IsTradable reports whether symbol can be traded. Unknown symbols are not
// tradable; only transport failures are errors.
func (g *Gateway) IsTradable(ctx context.Context, symbol domain.Symbol) (bool, error) {
	var asset domain.Asset
	err := g.read(ctx, "asset", func() error {
		var err error
		asset, err = g.b.GetAsset(ctx, symbol)
		return err
	})
	if errors.Is(err, ErrNotTradable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return asset.Tradable, nil
}

// AwaitMarketOpen polls the clock until the market opens or ctx ends.
func (g *Gateway) AwaitMarketOpen(ctx context.Context) error {
	return g.await(ctx, true)
}

// AwaitMarketClose polls the clock until the market closes or ctx ends.
func (g *Gateway) AwaitMarketClose(ctx context.Context) error {
	return g.await(ctx, false)
}

func (g *Gateway) await(ctx context.Context, wantOpen bool) error {
	event := "open"
	if !wantOpen {
		event = "close"
	}
	for {
		c, err := g.Clock(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			g.log.Warn("clock unavailable while waiting", "event", event, "error", err)
		case c.IsOpen == wantOpen:
			return nil
		default:
			target := c.NextOpen
			if !wantOpen {
				target = c.NextClose
			}
			mins := math.Round(target.Sub(c.Timestamp).Minutes())
			g.log.Info("waiting for market", "event", event, "minutes_remaining", int(mins))
		}
		if err := g.sleep(ctx, g.opts.PollInterval); err != nil {
			return err
		}
	}
}

// PlaceBracketOrder submits intent as one bracket order. When the market is
// closed nothing is sent and the result reports Placed=false without an
// error. Submission failures are notified and returned; they are not
// retried, so a timeout never produces a duplicate order.
func (g *Gateway) PlaceBracketOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderResult, error) {
	open, err := g.IsMarketOpen(ctx)
	if err != nil {
		return domain.OrderResult{Reason: "clock unavailable"}, err
	}
	if !open {
		g.log.Warn("market closed, order not placed", "symbol", intent.Symbol, "side", intent.Side)
		return domain.OrderResult{Reason: "market closed"}, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.OrderResult{}, err
	}

	order, err := g.b.SubmitBracketOrder(ctx, intent, g.newID())
	if errors.Is(err, ErrMarketClosed) {
		g.log.Warn("market closed before submission, order not placed", "symbol", intent.Symbol, "side", intent.Side)
		return domain.OrderResult{Reason: "market closed"}, nil
	}
	if err != nil {
		g.log.Error("bracket order failed",
			"symbol", intent.Symbol,
			"side", intent.Side,
			"qty", intent.Qty,
			"error", err,
		)
		g.notifier.Notify(ctx, fmt.Sprintf("Order for %s failed: %v", intent.Symbol, err))
		return domain.OrderResult{Reason: err.Error()}, fmt.Errorf("placing bracket order for %s: %w", intent.Symbol, err)
	}

	g.log.Info("bracket order placed",
		"symbol", intent.Symbol,
		"side", intent.Side,
		"qty", intent.Qty,
		"stop_loss", intent.StopLoss,
		"take_profit", intent.TakeProfit,
		"order_id", order.ID,
	)
	g.notifier.Notify(ctx, fmt.Sprintf("Placed %s bracket for %d %s (stop %.2f, target %.2f)",
		intent.Side, intent.Qty, intent.Symbol, intent.StopLoss, intent.TakeProfit))
	return domain.OrderResult{Placed: true, Order: order}, nil
}

// CancelOpenOrders cancels every open order. It is a logged no-op while the
// market is closed.
func (g *Gateway) CancelOpenOrders(ctx context.Context) error {
	open, err := g.IsMarketOpen(ctx)
	if err != nil {
		return err
	}
	if !open {
		g.log.Warn("market closed, open orders not cancelled")
		return nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return g.b.CancelAllOrders(ctx)
}

// CloseAllPositions runs the liquidation protocol: each attempt cancels open
// orders, submits closes for every position, waits and re-checks. It stops as
// soon as no positions remain. After the first attempt and MaxRetries retries
// with positions still open it notifies and returns ErrLiquidationFailed. A
// closed market is a logged no-op.
func (g *Gateway) CloseAllPositions(ctx context.Context) error {
	open, err := g.IsMarketOpen(ctx)
	if err != nil {
		return err
	}
	if !open {
		g.log.Warn("market closed, positions not closed")
		return nil
	}

	remaining := -1
	for attempt := 0; attempt <= g.opts.MaxRetries; attempt++ {
		if err := g.b.CancelAllOrders(ctx); err != nil {
			g.log.Warn("cancel orders failed", "attempt", attempt, "error", err)
		}
		if err := g.sleep(ctx, g.opts.CancelSettleDelay); err != nil {
			return err
		}
		if err := g.b.CloseAllPositions(ctx); err != nil {
			g.log.Warn("close positions failed", "attempt", attempt, "error", err)
		}
		if err := g.sleep(ctx, g.opts.LiquidationDelay); err != nil {
			return err
		}

		positions, err := g.Positions(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.log.Warn("positions unavailable after close", "attempt", attempt, "error", err)
			continue
		}
		if len(positions) == 0 {
			g.log.Info("all positions closed", "retries", attempt)
			return nil
		}
		remaining = len(positions)
		g.log.Warn("positions remain after close", "attempt", attempt, "remaining", remaining)
	}

	g.log.Error("liquidation failed", "retries", g.opts.MaxRetries, "remaining", remaining)
	g.notifier.Notify(ctx, "Could not close all positions")
	return ErrLiquidationFailed
}
