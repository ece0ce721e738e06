package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"pharmatrace/internal/app"
	"pharmatrace/internal/platform/config"
	"pharmatrace/internal/platform/httpserver"
	"pharmatrace/internal/platform/logger"
	"pharmatrace/internal/platform/metrics"
	httptransport "pharmatrace/internal/transport/http"
)

// main wires configuration, backends and the HTTP router, then runs the
// server alongside the background workers until a signal arrives.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.Close()

	handler := httptransport.New(a.Custody, a.Provenance, log)
	var rateLimit func(http.Handler) http.Handler
	if a.Limiter != nil {
		rateLimit = a.Limiter.Middleware
	}
	router := httptransport.NewRouter(httptransport.RouterConfig{
		Handler:        handler,
		Logger:         log,
		AdminToken:     cfg.Server.AdminToken,
		RequestTimeout: cfg.Server.RequestTimeout,
		HealthChecks:   map[string]httptransport.HealthCheck{"backends": a.Ping},
		HTTPMetrics:    metrics.New(prometheus.DefaultRegisterer),
		RateLimit:      rateLimit,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	if a.Relay != nil {
		g.Go(func() error { return a.Relay.Run(gctx) })
	}
	if cfg.Server.SettleInterval > 0 {
		g.Go(func() error { return settleLoop(gctx, a, cfg.Server.SettleInterval, log) })
	}
	return g.Wait()
}

// settleLoop retries the ledger step of transfers left pending by an
// unavailable ledger.
func settleLoop(ctx context.Context, a *app.App, every time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := a.Custody.SettlePending(ctx)
		if err != nil {
			log.WarnContext(ctx, "pending settlement sweep failed", "error", err)
			continue
		}
		if n > 0 {
			log.InfoContext(ctx, "pending transfers settled", "count", n)
		}
	}
}
