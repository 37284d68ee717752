// Command ffstrategy is the embedded single-process runtime of spec §4.9: it
// wires the subscription manager, indicator engine, matching engine, and the
// appropriate time-engine scheduler (backtest or live) into one process, and
// hands the resulting Strategy façade to the strategy program. Unlike
// ffserver, it does not speak the wire protocol — a strategy linked directly
// into this binary calls the façade in-process.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fundforge/ffcore/internal/clock"
	"github.com/fundforge/ffcore/internal/config"
	ffdecimal "github.com/fundforge/ffcore/internal/decimal"
	"github.com/fundforge/ffcore/internal/domain"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/fx"
	"github.com/fundforge/ffcore/internal/historicalstore"
	"github.com/fundforge/ffcore/internal/indicator"
	"github.com/fundforge/ffcore/internal/matching"
	"github.com/fundforge/ffcore/internal/strategy"
	"github.com/fundforge/ffcore/internal/subscription"
	"github.com/fundforge/ffcore/internal/timeengine"
	"github.com/fundforge/ffcore/internal/vendor"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("ffstrategy: failed to load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("ffstrategy: invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	simVendor := vendor.NewSimVendor(cfg.Vendor.Name)
	store := historicalstore.NewMemoryStore()

	var clk clock.Clock
	var backtestStart, backtestEnd time.Time
	if cfg.Mode == "backtest" {
		backtestStart, err = time.Parse(time.RFC3339, cfg.Runtime.BacktestStart)
		if err != nil {
			logger.Error("ffstrategy: invalid backtest_start", slog.String("error", err.Error()))
			os.Exit(1)
		}
		backtestEnd, err = time.Parse(time.RFC3339, cfg.Runtime.BacktestEnd)
		if err != nil {
			logger.Error("ffstrategy: invalid backtest_end", slog.String("error", err.Error()))
			os.Exit(1)
		}
		clk = clock.NewHistoricalClock(backtestStart)
	} else {
		clk = clock.NewRealClock()
	}

	manager := subscription.NewManager(simVendor, store, clk, cfg.Runtime.HistoryGrace.Duration)
	indicators := indicator.NewEngine()

	fxSource := fx.NewMemorySource()
	engine := matching.NewEngine(fxSource, logger)
	engine.SetAccount(domain.Account{
		Brokerage:     cfg.Brokerage.Name,
		ID:            cfg.Account.ID,
		Currency:      cfg.Account.Currency,
		CashStart:     ffdecimal.NewFromFloat(cfg.Account.CashStart),
		CashAvailable: ffdecimal.NewFromFloat(cfg.Account.CashStart),
	})

	bus := eventbus.NewBus(256, logger)
	timed := timeengine.NewTimedEventQueue()

	facade := strategy.New(manager, indicators, engine, store, bus, clk, timed)
	_ = facade // handed to strategy program code, which is out of this runtime's scope

	go drainEvents(ctx, bus, logger)

	if cfg.Mode == "backtest" {
		hc, ok := clk.(*clock.HistoricalClock)
		if !ok {
			logger.Error("ffstrategy: backtest mode requires a historical clock")
			os.Exit(1)
		}
		sched := timeengine.NewBacktestScheduler(hc, manager, engine, bus, timed, cfg.Runtime.BufferDuration.Duration, backtestEnd, logger)
		logger.Info("ffstrategy: running backtest", slog.Time("start", backtestStart), slog.Time("end", backtestEnd))
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("ffstrategy: backtest run failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		orderEvents := make(chan domain.OrderEvent)
		positionEvents := make(chan domain.PositionEvent)
		sched := timeengine.NewLiveScheduler(clk, manager, bus, timed, cfg.Runtime.BufferDuration.Duration, orderEvents, positionEvents, logger)
		logger.Info("ffstrategy: running live")
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("ffstrategy: live run failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	logger.Info("ffstrategy: stopped", slog.String("account", cfg.Account.ID))
}

// drainEvents logs every event off the bus. A linked-in strategy program
// would instead read bus.Events() itself and dispatch to its own callbacks;
// this loop stands in as the reference consumer for this entrypoint.
func drainEvents(ctx context.Context, bus *eventbus.Bus, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-bus.Events():
			if !ok {
				return
			}
			logger.Debug("ffstrategy: event", slog.String("kind", string(ev.Kind)), slog.Time("time", ev.Time))
		}
	}
}
