package main

import (
	"context"
	"errors"
	"log/slog"
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
	logger := logging.NewJSONLogger("api", cfg.LogLevel, cfg.Environment)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.RoleAPI, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.StartPool(); err != nil {
		logger.Error("processing_pool_start_failed", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := app.RelayRemoteProgress(ctx); err != nil {
			logger.Error("progress_relay_failed", "error", err)
		}
	}()

	handler, err := app.HTTPHandler()
	if err != nil {
		logger.Error("http_handler_init_failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("api_listening",
			"port", cfg.APIPort,
			"analysis_mode", cfg.AnalysisMode,
			"dispatch_mode", cfg.DispatchMode,
			"storage_backend", cfg.StorageBackend,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
	app.StopPool(30 * time.Second)
	logger.Info("api_stopped")
}
