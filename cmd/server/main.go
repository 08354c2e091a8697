package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dandantas/studyrunner/internal/config"
	"github.com/dandantas/studyrunner/internal/handler"
	"github.com/dandantas/studyrunner/internal/metrics"
	"github.com/dandantas/studyrunner/internal/scheduler"
	"github.com/dandantas/studyrunner/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "studyrunner",
		Short:         "Runs course automation jobs against the learning platform",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the worker pool (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	})

	var dryRun bool
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Recover jobs left pending or running by a stopped server, then run them to completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), dryRun)
		},
	}
	sweepCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be recovered without changing anything")
	root.AddCommand(sweepCmd)

	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		return nil, err
	}
	config.InitLogger(cfg)
	return cfg, nil
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("Starting studyrunner", "version", version, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return err
	}
	defer a.close()

	if err := metrics.RegisterPool(prometheus.DefaultRegisterer, a.pool); err != nil {
		slog.Warn("Failed to register worker pool metrics", "error", err)
	}
	a.pool.Start()

	if cfg.RecoverOnStart {
		if _, err := a.sweep.Run(ctx, false); err != nil {
			slog.Error("Startup recovery sweep failed", "error", err)
		}
	}

	sched, err := scheduler.NewScheduler(scheduler.Config{
		Enabled:      cfg.SchedulerEnabled,
		LockCleanup:  cfg.SchedulerLockCleanup,
		MetricsSweep: cfg.SchedulerMetricsSweep,
	}, a.store, a.store, a.instanceID)
	if err != nil {
		a.pool.Stop()
		return err
	}
	sched.Start()

	auth := handler.Authenticator{AdminToken: cfg.AdminToken}
	router := handler.NewRouter(
		handler.NewJobHandler(a.jobs, a.hub, auth),
		handler.NewUserHandler(a.users, auth),
		handler.NewAdminHandler(a.sweep, auth),
		handler.NewHealthHandler(a.store, string(cfg.StoreDriver), version),
		middleware.CORSConfig{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   cfg.CORSAllowedMethods,
			AllowedHeaders:   cfg.CORSAllowedHeaders,
			AllowCredentials: cfg.CORSAllowCredentials,
			MaxAge:           cfg.CORSMaxAge,
		},
	)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.bus != nil {
		if err := a.bus.StartForwarder(gctx, a.hub); err != nil {
			slog.Warn("Progress bus forwarder unavailable", "error", err)
		}
	}

	g.Go(func() error {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Received shutdown signal, initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		slog.Info("Shutting down HTTP server...")
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}

		slog.Info("Stopping scheduler...")
		sched.Stop(shutdownCtx)

		slog.Info("Stopping worker pool...")
		a.pool.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		return err
	}

	slog.Info("studyrunner stopped")
	return nil
}

func runSweep(parent context.Context, dryRun bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		return err
	}
	defer a.close()

	if !dryRun {
		a.pool.Start()
		defer a.pool.Stop()
	}

	report, err := a.sweep.Run(ctx, dryRun)
	if err != nil {
		return err
	}

	if !dryRun && report.Recovered > 0 {
		slog.Info("Waiting for recovered jobs to finish", "jobs", report.Recovered)
		waitIdle(ctx, a.pool)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
	return nil
}

// waitIdle blocks until the pool has no queued or running tasks, or ctx is done
func waitIdle(ctx context.Context, pool metrics.PoolStats) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if pool.QueueLength() == 0 && pool.Running() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
