package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/bootstrap"
	"github.com/kirillkom/proposal-compliance/internal/config"
	"github.com/kirillkom/proposal-compliance/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel, cfg.Environment)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker_failed", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("worker_stopped")
}

// run blocks until ctx is done or the request subscription fails. A failed
// subscription is returned so the process exits non-zero.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := bootstrap.New(ctx, cfg, bootstrap.RoleWorker, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	if err := app.StartPool(); err != nil {
		return fmt.Errorf("start processing pool: %w", err)
	}
	defer app.StopPool(30 * time.Second)

	listener, err := net.Listen("tcp", ":"+cfg.WorkerMetricsPort)
	if err != nil {
		return fmt.Errorf("listen for worker metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.WorkerMetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed",
		"subject", cfg.NATSRequestsSubject,
		"max_workers", cfg.MaxConcurrentAnalyses,
		"metrics_addr", listener.Addr().String(),
	)
	if err := app.ConsumeRequests(ctx); err != nil {
		return fmt.Errorf("consume analysis requests: %w", err)
	}
	return nil
}
