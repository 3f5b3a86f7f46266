package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Conductor daemon, pumping every recovered run's Scheduler until signaled",
		Long: `Load the configuration, recover every persisted run, and block.

Each run's Scheduler goroutine (started by Runtime.Recover, CreateRun or
StartNodeProcess) keeps
driving turns for as long as this process is alive. serve itself never
opens a network listener for the orchestration surface — that stays a
Go API — except for a /metrics endpoint on
server.port, the one ambient concern that genuinely needs one.

Shuts down gracefully on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	return cmd
}

func runServe(ctx context.Context, path string) error {
	a, err := newApp(path)
	if err != nil {
		return err
	}

	runs, err := a.runtime.ListRuns(ctx)
	if err != nil {
		slog.Warn("conductord: listing recovered runs", "error", err)
	}
	for _, run := range runs {
		if _, err := a.runtime.OnEvent(run.ID, a.notify); err != nil {
			slog.Warn("conductord: subscribing notifications to run", "run", run.ID, "error", err)
		}
	}

	registry := prometheus.NewRegistry()
	for _, c := range a.metrics.Collectors() {
		registry.MustRegister(c)
	}
	for _, c := range a.notify.Metrics().Collectors() {
		registry.MustRegister(c)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", a.cfg.Server.Port), Handler: mux}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("conductord: started", "dataDir", a.cfg.DataDir, "metricsAddr", metricsServer.Addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.Error("conductord: metrics server failed", "error", err)
		}
	}

	slog.Info("conductord: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	if err := a.close(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down runtime: %w", err)
	}
	slog.Info("conductord: stopped")
	return nil
}

