package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"breakout/internal/api"
	"breakout/internal/app"
	"breakout/internal/config"
	"breakout/internal/scheduler"
	"breakout/internal/util"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	a, err := app.Build(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}
	defer a.Close()

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		log.Fatalf("failed to load schedule timezone: %v", err)
	}
	cal, err := util.NewTradingCalendar()
	if err != nil {
		log.Fatalf("failed to load trading calendar: %v", err)
	}

	sched := scheduler.New(a.Gateway.IsTradingDay, cal.IsTradingDay, scheduler.Options{
		Location:   loc,
		JobTimeout: cfg.Schedule.JobTimeout,
	}, logger)

	sc := cfg.Schedule
	jobs := []scheduler.Job{
		{Name: "run_initial_steps", Spec: sc.InitialSteps, Run: a.RunInitialSteps},
		{Name: "run_strategy", Spec: sc.Strategy, Run: a.RunStrategy},
		{Name: "show_holdings", Spec: sc.Holdings, Run: a.ShowHoldings, Until: sc.HoldingsUntil},
		{Name: "run_before_market_close", Spec: sc.BeforeMarketClose, Run: a.RunBeforeMarketClose},
		{Name: "run_after_market_close", Spec: sc.AfterMarketClose, Run: a.RunAfterMarketClose},
	}
	for _, j := range jobs {
		if err := sched.Add(j); err != nil {
			log.Fatalf("failed to schedule %s: %v", j.Name, err)
		}
	}

	srv := api.NewServer(cfg.Server, a.Engine, a.Gateway, logger)
	a.Engine.OnTransition(srv.SetEngineState)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("breakout-trader starting",
		"broker", a.Gateway.Name(),
		"strategy", a.Engine.Params().Name,
		"timezone", sc.Timezone,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("breakout-trader error: %v", err)
	}
	logger.Info("breakout-trader stopped")
}
