// Package main is the CLI entry point for the Conductor runtime daemon.
//
// conductord loads a YAML configuration file, builds a runtime.Runtime
// over a file-backed data directory, and either serves it as a
// long-running daemon (driving every run's Scheduler goroutine until
// signaled) or drives a single operation against it one-shot: run
// create/list/show/delete/stop/events, node create/delete/reset/
// start/stop/interrupt, edge create/delete, chat, approve, and
// template list/show.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "conductord",
		Short:        "Conductor multi-agent orchestration daemon",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "conductor.yaml", "Path to YAML configuration file")

	root.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildNodeCmd(),
		buildEdgeCmd(),
		buildChatCmd(),
		buildApproveCmd(),
		buildTemplateCmd(),
	)
	return root
}
