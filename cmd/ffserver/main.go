// Command ffserver is the data-server process of spec §5: it owns the vendor
// connections, the matching engine, and durable storage, and exposes them to
// one or more strategy processes over the wire protocol (internal/wire) plus
// a read-only HTTP/WebSocket monitoring surface (internal/server).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fundforge/ffcore/internal/cache/redis"
	"github.com/fundforge/ffcore/internal/clock"
	"github.com/fundforge/ffcore/internal/config"
	"github.com/fundforge/ffcore/internal/eventbus"
	"github.com/fundforge/ffcore/internal/fx"
	"github.com/fundforge/ffcore/internal/historicalstore"
	"github.com/fundforge/ffcore/internal/matching"
	"github.com/fundforge/ffcore/internal/notify"
	"github.com/fundforge/ffcore/internal/server"
	"github.com/fundforge/ffcore/internal/server/handler"
	"github.com/fundforge/ffcore/internal/server/liveproxy"
	"github.com/fundforge/ffcore/internal/store/postgres"
	"github.com/fundforge/ffcore/internal/subscription"
	"github.com/fundforge/ffcore/internal/vendor"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("ffserver: failed to load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("ffserver: invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		logger.Error("ffserver: postgres connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			logger.Error("ffserver: migrations failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	orderStore := postgres.NewOrderStore(pg.Pool())
	positionStore := postgres.NewPositionStore(pg.Pool())
	closedTradeStore := postgres.NewClosedTradeStore(pg.Pool())
	auditStore := postgres.NewAuditStore(pg.Pool())
	_, _ = orderStore, positionStore // durable recovery wiring point; engine below is the live source of truth

	rdb, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		logger.Error("ffserver: redis connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	limiter := redis.NewRateLimiter(rdb)

	fxSource := fx.NewMemorySource()
	engine := matching.NewEngine(fxSource, logger)

	simVendor := vendor.NewSimVendor(cfg.Vendor.Name)
	vendors := map[string]vendor.Vendor{simVendor.Name(): simVendor}

	histStore := historicalstore.NewMemoryStore()
	subMgr := subscription.NewManager(simVendor, histStore, clock.NewRealClock(), cfg.Runtime.HistoryGrace.Duration)

	bus := eventbus.NewBus(256, logger)
	dispatcher := server.NewDispatcher(vendors, subMgr, engine, bus, logger)

	// The wire listener runs without a tls.Config, so strategy connections
	// are plain TCP.
	wireListener := server.NewWireListener(dispatcher, bus, logger)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.WirePort)
		if err := wireListener.Listen(ctx, addr, nil); err != nil && err != context.Canceled {
			logger.Error("ffserver: wire listener stopped", slog.String("error", err.Error()))
		}
	}()

	hub := liveproxy.NewHub(bus, logger, liveproxy.Config{Mode: cfg.Mode, StartedAt: time.Now().UTC()})
	go func() {
		if err := hub.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("ffserver: liveproxy hub stopped", slog.String("error", err.Error()))
		}
	}()

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(),
		Orders:    handler.NewOrderHandler(orderStore, logger),
		Positions: handler.NewPositionHandler(struct {
			*postgres.PositionStore
			*postgres.ClosedTradeStore
		}{positionStore, closedTradeStore}, logger),
		Accounts: handler.NewAccountHandler(engine, logger),
		Audit:    handler.NewAuditHandler(auditStore, logger),
	}

	srv := server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Vendor.APIKey,
		RateLimit:   20,
	}, handlers, hub, limiter, logger)

	var notifier *notify.Notifier
	if cfg.Notify.DiscordWebhookURL != "" || cfg.Notify.TelegramToken != "" {
		var senders []notify.Sender
		if cfg.Notify.DiscordWebhookURL != "" {
			senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
		}
		if cfg.Notify.TelegramToken != "" {
			senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
		}
		notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("ffserver: running", slog.Int("port", cfg.Server.Port), slog.String("mode", cfg.Mode))

	select {
	case <-ctx.Done():
		logger.Info("ffserver: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("ffserver: server exited", slog.String("error", err.Error()))
		}
	}

	if notifier != nil {
		notifier.Notify(context.Background(), "shutdown", "ffserver shutting down", "received termination signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ffserver: graceful shutdown failed", slog.String("error", err.Error()))
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
