// Command server starts the text-generation broker HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/fairyhunter13/ai-text-broker/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-text-broker/internal/adapter/registry"
	"github.com/fairyhunter13/ai-text-broker/internal/adapter/repo/jsonfile"
	"github.com/fairyhunter13/ai-text-broker/internal/app"
	"github.com/fairyhunter13/ai-text-broker/internal/config"
	"github.com/fairyhunter13/ai-text-broker/internal/observability"
	"github.com/fairyhunter13/ai-text-broker/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP and broker instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Persistence: load users first so worker owner links resolve, then
	// workers, then stats. A malformed snapshot file is fatal.
	store := jsonfile.New(cfg.DBDir)
	users, workers, stats, err := store.Load()
	if err != nil {
		slog.Error("snapshot load failed", slog.Any("error", err))
		os.Exit(1)
	}

	reg := registry.New(cfg.RegistryBaseURL, cfg.RegistryTimeout)

	broker := usecase.NewBroker(reg, usecase.Options{
		AllowAnonymous:        cfg.AllowAnonymous,
		PromptStaleAfter:      cfg.PromptStaleAfter,
		WorkerStaleAfter:      cfg.WorkerStaleAfter,
		UptimeRewardThreshold: cfg.UptimeRewardThreshold,
	})
	broker.LoadState(users, workers, stats)
	slog.Info("ledger loaded",
		slog.Int("users", len(users)),
		slog.Int("workers", len(workers)))

	// Janitors: stale prompt eviction and the periodic snapshot.
	janitorCtx, stopJanitors := context.WithCancel(context.Background())
	sweeper := app.NewPromptSweeper(broker, cfg.SweepInterval)
	writer := app.NewSnapshotWriter(broker, store, cfg.SnapshotInterval)
	janitorsDone := make(chan struct{}, 2)
	go func() { sweeper.Run(janitorCtx); janitorsDone <- struct{}{} }()
	go func() { writer.Run(janitorCtx); janitorsDone <- struct{}{} }()

	srv := httpserver.NewServer(cfg, broker)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)

	// Stop janitors; the snapshot writer flushes once more on its way out.
	stopJanitors()
	for i := 0; i < 2; i++ {
		select {
		case <-janitorsDone:
		case <-time.After(cfg.ServerShutdownTimeout):
		}
	}
}
