package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/nidohq/nido/api"
	"github.com/nidohq/nido/audit"
	"github.com/nidohq/nido/billing"
	"github.com/nidohq/nido/config"
	"github.com/nidohq/nido/ratelimit"
	"github.com/nidohq/nido/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := store.NewPGStore(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()

	auditLog := audit.NewLogger(logger, pg.Audit())
	defer auditLog.Close()

	var counters ratelimit.CounterStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer func() { _ = rdb.Close() }()
		counters = ratelimit.NewRedisStore(rdb, "")
		logger.Info("rate limiting via redis", slog.String("addr", cfg.Redis.Addr))
	} else {
		counters = ratelimit.NewMemoryStore()
		logger.Info("rate limiting in process memory; limits are per-process")
	}

	provider := billing.NewStripeProvider(cfg.Stripe.APIKey, cfg.Stripe.ProductID)
	svc := billing.NewService(provider, pg.Organizations(), pg.SubscriptionEvents(), auditLog, cfg.Prices, cfg.URLs)

	handler := api.NewRouter(api.Stores{
		Users:         pg.Users(),
		Organizations: pg.Organizations(),
		Events:        pg.SubscriptionEvents(),
	}, svc, auditLog, counters, api.Config{
		JWTSecret: cfg.JWTSecret,
		Prices:    cfg.Prices,
		Presets:   cfg.Presets(),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
