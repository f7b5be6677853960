package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"breakout/internal/app"
	"breakout/internal/config"
	"breakout/internal/domain"
	"breakout/internal/report"
	"breakout/internal/strategy"
	"breakout/internal/universe"
	"breakout/internal/util"
	"breakout/pkg/breakout"
)

const version = "0.1.0"

var (
	cfgPath  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "breakout-cli",
		Short: "Inspect and operate the breakout trader",
		Long: `breakout-cli runs one-off breakout operations against the configured
brokerage (picks, holdings, flatten, backtest) or queries a running
breakout-trader (status).`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.Path(), "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for one-off commands")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(picksCmd())
	rootCmd.AddCommand(holdingsCmd())
	rootCmd.AddCommand(flattenCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(backtestCmd())
	rootCmd.AddCommand(fetchHistoryCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadApp() (*app.App, *config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLoggerTo(os.Stderr, logLevel, "text")
	a, err := app.Build(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("breakout-cli %s\n", version)
		},
	}
}

func picksCmd() *cobra.Command {
	var symbols []string
	cmd := &cobra.Command{
		Use:   "picks",
		Short: "Select today's breakout candidates without trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			var picks []strategy.Pick
			if len(symbols) > 0 {
				picks = selectFrom(cmd.Context(), a, universe.Normalize(symbols))
			} else {
				picks = a.Picks(cmd.Context())
			}
			fmt.Print(report.Picks(time.Now().Format("2006-01-02"), picks))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "score these symbols instead of the configured universe")
	return cmd
}

// selectFrom scores an explicit symbol list through the cached bar store.
func selectFrom(ctx context.Context, a *app.App, symbols []domain.Symbol) []strategy.Pick {
	bars := make(map[domain.Symbol][]domain.Bar, len(symbols))
	for _, s := range symbols {
		if r := a.Bars.Get(ctx, s); r.Available {
			bars[s] = r.Bars
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s\n", s, r.Reason)
		}
	}
	return strategy.Select(symbols, bars, a.Engine.Params())
}

func holdingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "holdings",
		Short: "Show open positions with unrealized P&L",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.ShowHoldings(cmd.Context())
		},
	}
}

func flattenCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "flatten",
		Short: "Cancel open orders and close every position",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("flatten closes every position; pass --yes to confirm")
			}
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Flatten(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("all positions closed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm closing every position")
	return cmd
}

func statusCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running trader's session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				cfg, err := config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
				server = "http://" + net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port))
			}
			c := breakout.NewClient(server)
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("state:  %s\n", st.State)
			fmt.Printf("date:   %s\n", st.Date)
			fmt.Printf("trades: %d/%d %s\n", st.TradeCount, st.MaxTrades, strings.Join(st.Traded, " "))
			for i, p := range st.Picks {
				fmt.Printf("%3d. %-6s band [%.2f, %.2f] weightage %.3f\n", i+1, p.Symbol, p.LowerBound, p.UpperBound, p.Weightage)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "trader API base URL (default from config)")
	return cmd
}

func backtestCmd() *cobra.Command {
	var (
		start, end string
		capital    float64
		symbols    []string
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay stored daily history through the selector",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := time.Parse("2006-01-02", start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			to, err := time.Parse("2006-01-02", end)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Backtest(cmd.Context(), universe.Normalize(symbols), from, to, capital)
			if err != nil {
				return err
			}
			fmt.Print(report.Backtest(res))
			return nil
		},
	}
	now := time.Now()
	cmd.Flags().StringVar(&start, "start", now.AddDate(0, -3, 0).Format("2006-01-02"), "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", now.Format("2006-01-02"), "last day (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&capital, "capital", 100000, "starting capital")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to replay (default: every stored symbol)")
	return cmd
}

func fetchHistoryCmd() *cobra.Command {
	var (
		start, end string
		workers    int
		symbols    []string
	)
	cmd := &cobra.Command{
		Use:   "fetch-history",
		Short: "Store daily bars for backtesting",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := time.Parse("2006-01-02", start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			to, err := time.Parse("2006-01-02", end)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := a.CollectHistory(cmd.Context(), universe.Normalize(symbols), from, to, workers)
			if err != nil {
				return err
			}
			fmt.Printf("symbols: %d  stored: %d  empty: %d  failed: %d  bars: %d\n",
				sum.Symbols, sum.Hits, sum.Empty, sum.Failed, sum.Bars)
			return nil
		},
	}
	now := time.Now()
	cmd.Flags().StringVar(&start, "start", now.AddDate(-1, 0, 0).Format("2006-01-02"), "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", now.Format("2006-01-02"), "last day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent fetches")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to fetch (default: the configured universe)")
	return cmd
}
