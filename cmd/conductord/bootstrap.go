package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conductorhq/conductor/internal/config"
	"github.com/conductorhq/conductor/internal/notify"
	"github.com/conductorhq/conductor/internal/runstore"
	"github.com/conductorhq/conductor/internal/runtime"
	"github.com/conductorhq/conductor/internal/telemetry"
)

// app bundles everything one command invocation needs, built once from
// the loaded config and torn down by Close before the process exits.
type app struct {
	cfg      *config.Config
	runtime  *runtime.Runtime
	notify   *notify.Manager
	tracer   *telemetry.Tracer
	metrics  *telemetry.Metrics
	shutdown func(context.Context) error
}

// newApp loads configPath, builds a runtime.Runtime over its data
// directory, and recovers any persisted runs (the crash-recovery
// pass). Every subcommand handler calls this first.
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := slog.Default().With("component", "conductord")
	tracer, traceShutdown := cfg.BuildTracer()
	metrics := cfg.BuildMetrics()

	snapshots, err := runstore.NewFileSnapshotStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening data directory %s: %w", cfg.DataDir, err)
	}

	providerFactory := cfg.BuildProviderFactory()
	rt, err := runtime.New(cfg.ToRuntimeConfig(log, tracer, metrics), snapshots, providerFactory)
	if err != nil {
		return nil, fmt.Errorf("constructing runtime: %w", err)
	}

	if _, err := rt.Recover(context.Background()); err != nil {
		return nil, fmt.Errorf("recovering persisted runs: %w", err)
	}

	mgr, err := cfg.BuildNotifyManager(log)
	if err != nil {
		return nil, fmt.Errorf("building notification manager: %w", err)
	}

	return &app{cfg: cfg, runtime: rt, notify: mgr, tracer: tracer, metrics: metrics, shutdown: traceShutdown}, nil
}

// close flushes snapshots, stops every run's scheduler, and shuts down
// the OTLP exporter (a no-op when tracing is disabled).
func (a *app) close(ctx context.Context) error {
	if err := a.runtime.Close(ctx); err != nil {
		return err
	}
	return a.shutdown(ctx)
}

// closeLogged is close for defer sites that can't propagate an error
// (the command already returned its own result) — logs instead of
// silently dropping a flush/shutdown failure.
func (a *app) closeLogged(ctx context.Context) {
	if err := a.close(ctx); err != nil {
		slog.Error("conductord: closing runtime", "error", err)
	}
}
