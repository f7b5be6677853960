// Package app wires the breakout trader together and exposes the lifecycle
// operations the job clock invokes.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"breakout/internal/broker"
	"breakout/internal/config"
	"breakout/internal/domain"
	"breakout/internal/engine"
	"breakout/internal/history"
	"breakout/internal/notify"
	"breakout/internal/report"
	"breakout/internal/store"
	"breakout/internal/strategy"
	"breakout/internal/strategy/builtins"
	"breakout/internal/universe"
	"breakout/internal/util"
)

// Deps are the collaborators Build resolves from configuration. Tests pass
// them to New directly.
type Deps struct {
	Broker   broker.Broker
	Notifier notify.Notifier
	Cache    store.BarCache
	History  store.HistoryStore
	Universe universe.Provider
	Params   strategy.Params
	Today    func() string
	Out      io.Writer // holdings report destination
	Closers  []io.Closer
}

// App is the lifecycle facade over the engine and the gateway.
type App struct {
	Gateway  *broker.Gateway
	Engine   *engine.Engine
	Bars     *store.PriceBarStore
	Notifier notify.Notifier

	history  store.HistoryStore
	universe universe.Provider
	stake    float64
	out      io.Writer
	closers  []io.Closer
	log      *slog.Logger
}

// New assembles an App from already-built collaborators.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLog(logger)
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}

	gw := broker.NewGateway(deps.Broker, deps.Notifier, gatewayOptions(cfg.Broker), logger)
	bars := store.NewPriceBarStore(gw, deps.Cache, deps.Params.BarsetRecords, deps.Today, logger)
	risk := engine.NewRiskManager(cfg.Strategy.StakePerOrder, cfg.Strategy.MaxPositionPct)
	eng := engine.NewEngine(gw, bars, deps.Universe, deps.Params, risk, deps.Notifier, deps.Today, logger)

	return &App{
		Gateway:  gw,
		Engine:   eng,
		Bars:     bars,
		Notifier: deps.Notifier,
		history:  deps.History,
		universe: deps.Universe,
		stake:    cfg.Strategy.StakePerOrder,
		out:      deps.Out,
		closers:  deps.Closers,
		log:      logger.With("component", "app"),
	}
}

// Build resolves every collaborator from cfg: the brokerage by mode, the
// bar cache backend, the universe source, the notification sink and the
// strategy preset.
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cal, err := util.NewTradingCalendar()
	if err != nil {
		return nil, fmt.Errorf("loading trading calendar: %w", err)
	}

	params, err := cfg.Params(builtins.NewRegistry())
	if err != nil {
		return nil, err
	}

	var b broker.Broker
	switch cfg.Broker.Mode {
	case "sim":
		b = broker.NewSimulatorBroker()
	default:
		b, err = broker.NewAlpacaBroker(broker.AlpacaConfig{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			BaseURL:   cfg.Alpaca.BaseURL,
			DataURL:   cfg.Alpaca.DataURL,
			Feed:      cfg.Alpaca.Feed,
		})
		if err != nil {
			return nil, fmt.Errorf("creating alpaca broker: %w", err)
		}
	}

	deps := Deps{
		Broker:   b,
		Notifier: buildNotifier(cfg.Notify, logger),
		History:  store.NewParquetStore(cfg.Storage.DataDir),
		Universe: buildUniverse(cfg.Universe, logger),
		Params:   params,
		Today:    func() string { return cal.TradingDate(time.Now()) },
	}

	switch cfg.Storage.Cache {
	case "parquet":
		deps.Cache = store.NewParquetStore(cfg.Storage.DataDir)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
		s, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening bar cache: %w", err)
		}
		deps.Cache = s
		deps.Closers = append(deps.Closers, s)
	default:
		deps.Cache = store.NopCache{}
	}

	logger.Info("app configured",
		"broker", b.Name(),
		"strategy", params.Name,
		"cache", cfg.Storage.Cache,
		"universe", cfg.Universe.Source,
	)
	return New(cfg, deps, logger), nil
}

func gatewayOptions(c config.BrokerConfig) broker.GatewayOptions {
	opts := broker.DefaultGatewayOptions()
	opts.MaxRetries = c.MaxRetries
	opts.CancelSettleDelay = c.CancelSettleDelay
	opts.LiquidationDelay = c.LiquidationDelay
	opts.PollInterval = c.PollInterval
	opts.ReadAttempts = c.ReadAttempts
	opts.RateLimitPerMin = c.RateLimitPerMin
	return opts
}

func buildNotifier(c config.NotifyConfig, logger *slog.Logger) notify.Notifier {
	if c.PushoverUser == "" || c.PushoverToken == "" {
		logger.Warn("pushover keys not set, notifications are only logged")
		return notify.NewLog(logger)
	}
	return notify.Multi{
		notify.NewLog(logger),
		notify.NewPushover(notify.PushoverConfig{
			Token:      c.PushoverToken,
			User:       c.PushoverUser,
			Attempts:   c.Attempts,
			RetryDelay: c.RetryDelay,
		}, logger),
	}
}

func buildUniverse(c config.UniverseConfig, logger *slog.Logger) universe.Provider {
	if c.Source == "static" {
		return universe.Static(universe.Normalize(c.Symbols))
	}
	return universe.NewNasdaqScreener(universe.ScreenerConfig{
		URL:            c.URL,
		Limit:          c.Limit,
		MarketCaps:     c.MarketCaps,
		Recommendation: c.Recommendation,
		Retries:        c.Retries,
		MaxJitter:      c.MaxJitter,
	}, logger)
}

// Close releases the bar cache.
func (a *App) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ---------------------------------------------------------------------------
// Lifecycle operations
// ---------------------------------------------------------------------------

// RunInitialSteps reports the opening portfolio value and starts the day:
// select picks, wait for the open and flatten leftovers.
func (a *App) RunInitialSteps(ctx context.Context) error {
	a.log.Info("starting trading day")
	if p, err := a.Gateway.Portfolio(ctx); err != nil {
		a.log.Warn("initial portfolio unavailable", "error", err)
	} else {
		a.Notifier.Notify(ctx, fmt.Sprintf("Initial portfolio value: $%.2f", p.TotalValue))
	}
	return a.Engine.Initialize(ctx)
}

// RunStrategy makes one entry pass over the day's picks.
func (a *App) RunStrategy(ctx context.Context) error {
	return a.Engine.Run(ctx)
}

// ShowHoldings writes the holdings report and logs each position.
func (a *App) ShowHoldings(ctx context.Context) error {
	positions, err := a.Gateway.Positions(ctx)
	if err != nil {
		return fmt.Errorf("listing positions: %w", err)
	}
	for i, p := range positions {
		a.log.Info("holding",
			"index", i+1,
			"symbol", p.Symbol,
			"side", p.Side,
			"price", p.CurrentPrice,
			"unrealized_pl", p.UnrealizedPL,
			"unrealized_pl_pct", p.UnrealizedPLPct*100,
		)
	}
	_, err = io.WriteString(a.out, report.Holdings(positions))
	return err
}

// RunBeforeMarketClose flattens the book.
func (a *App) RunBeforeMarketClose(ctx context.Context) error {
	return a.Engine.Liquidate(ctx)
}

// RunAfterMarketClose reports the closing portfolio value and the day's
// trades.
func (a *App) RunAfterMarketClose(ctx context.Context) error {
	snap := a.Engine.Snapshot()
	p, err := a.Gateway.Portfolio(ctx)
	if err != nil {
		return fmt.Errorf("final portfolio: %w", err)
	}
	a.Notifier.Notify(ctx, fmt.Sprintf("Final portfolio value: $%.2f\n%s", p.TotalValue, tradeSummary(snap)))
	a.log.Info("run completed", "date", snap.Date, "trades", snap.TradeCount)
	return nil
}

func tradeSummary(s engine.Snapshot) string {
	if s.TradeCount == 0 {
		return "No trades placed today"
	}
	syms := make([]string, len(s.Traded))
	for i, sym := range s.Traded {
		syms[i] = sym.String()
	}
	return fmt.Sprintf("Trades placed today: %d (%s)", s.TradeCount, strings.Join(syms, ", "))
}

// ---------------------------------------------------------------------------
// On-demand operations used by the CLI
// ---------------------------------------------------------------------------

// Picks runs selection without touching the session state.
func (a *App) Picks(ctx context.Context) []strategy.Pick {
	return a.Engine.SelectPicks(ctx)
}

// Flatten cancels open orders and closes every position.
func (a *App) Flatten(ctx context.Context) error {
	return a.Gateway.CloseAllPositions(ctx)
}

// Backtest replays stored history through the selector. With no symbols it
// uses every symbol in the history store.
func (a *App) Backtest(ctx context.Context, symbols []domain.Symbol, start, end time.Time, capital float64) (*strategy.BacktestResult, error) {
	if a.history == nil {
		return nil, fmt.Errorf("no history store configured")
	}
	if len(symbols) == 0 {
		var err error
		if symbols, err = a.history.ListSymbols(ctx); err != nil {
			return nil, fmt.Errorf("listing history symbols: %w", err)
		}
	}
	bt := strategy.NewBacktester(a.history, a.Engine.Params(), a.stake)
	return bt.Run(ctx, symbols, start, end, capital)
}

// CollectHistory stores daily bars for [start, end] so backtests can replay
// them. With no symbols it uses the configured universe.
func (a *App) CollectHistory(ctx context.Context, symbols []domain.Symbol, start, end time.Time, workers int) (history.Summary, error) {
	if a.history == nil {
		return history.Summary{}, fmt.Errorf("no history store configured")
	}
	if len(symbols) == 0 {
		var err error
		if symbols, err = a.universe.Fetch(ctx); err != nil {
			return history.Summary{}, fmt.Errorf("fetching universe: %w", err)
		}
	}
	return history.NewCollector(a.Gateway, a.history, workers, a.log).Run(ctx, symbols, start, end)
}
