package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bq2pg/internal/api"
	"bq2pg/internal/app"
	"bq2pg/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daily scheduled job and the HTTP status/trigger surface",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer func() {
		if closeErr := pipeline.Close(); closeErr != nil {
			log.Error("Error closing pipeline", zap.Error(closeErr))
		}
	}()

	coordinator := pipeline.Coordinator()
	if err := coordinator.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched, err = scheduler.New(scheduler.Config{
			Hour:     cfg.Schedule.Hour,
			Minute:   cfg.Schedule.Minute,
			Timezone: cfg.Schedule.Timezone,
			Cron:     cfg.Schedule.Cron,
		}, coordinator, log)
		if err != nil {
			return err
		}
		sched.Start()
	} else {
		log.Info("Scheduler disabled; runs start only through POST /trigger")
	}

	handler := api.NewHandler(coordinator, log).
		WithHealthChecker(pipeline).
		WithVersion(version)
	if cfg.Server.MetricsEnabled {
		handler.WithMetrics(pipeline.Metrics().Handler())
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal, gracefully stopping...")
	case err = <-serverErr:
		log.Error("HTTP server failed", zap.Error(err))
	}

	if sched != nil {
		<-sched.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn("HTTP server shutdown", zap.Error(shutdownErr))
	}

	if coordinator.Status().State != app.StateIdle {
		log.Info("Waiting for the active run to finish")
	}
	coordinator.Wait()

	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info("Stopped")
	return nil
}
