package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conductorhq/conductor/internal/domain"
	"github.com/conductorhq/conductor/internal/runstore"
)

func buildRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect and drive runs",
	}
	cmd.AddCommand(buildRunCreateCmd(), buildRunListCmd(), buildRunShowCmd(), buildRunDeleteCmd(), buildRunEventsCmd(), buildRunStopCmd())
	return cmd
}

func buildRunCreateCmd() *cobra.Command {
	var (
		workingDir        string
		orchestrationMode string
		globalMode        string
		maxIterations     int
		nodeLabel         string
		nodeProvider      string
		nodeRole          string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a run with a single starting node",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			run, err := a.runtime.CreateRun(cmd.Context(), runstore.CreateRunOptions{
				OrchestrationMode: domain.OrchestrationMode(orchestrationMode),
				GlobalMode:        domain.GlobalMode(globalMode),
				WorkingDir:        workingDir,
				MaxIterations:     maxIterations,
			})
			if err != nil {
				return fmt.Errorf("creating run: %w", err)
			}

			node, err := a.runtime.CreateNode(cmd.Context(), run.ID, runstore.CreateNodeOptions{
				Label:        nodeLabel,
				RoleTemplate: nodeRole,
				Provider:     nodeProvider,
				WorkingDir:   workingDir,
			})
			if err != nil {
				return fmt.Errorf("creating starting node: %w", err)
			}

			return printJSON(cmd, struct {
				Run  domain.Run  `json:"run"`
				Node domain.Node `json:"node"`
			}{run, node})
		},
	}
	cmd.Flags().StringVar(&workingDir, "working-dir", ".", "Working directory for the run and its starting node")
	cmd.Flags().StringVar(&orchestrationMode, "mode", string(domain.OrchestrationInteractive), "Orchestration mode (auto|interactive)")
	cmd.Flags().StringVar(&globalMode, "global-mode", string(domain.GlobalModeImplementation), "Global mode (planning|implementation)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 500, "Iteration budget for auto-mode synthesis")
	cmd.Flags().StringVar(&nodeLabel, "node-label", "main", "Label for the starting node")
	cmd.Flags().StringVar(&nodeProvider, "node-provider", "", "providers.<name> entry the starting node uses")
	cmd.Flags().StringVar(&nodeRole, "node-role", "default", "Role template name for the starting node")
	return cmd
}

func buildRunListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			runs, err := a.runtime.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, runs)
		},
	}
}

func buildRunShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <runId>",
		Short: "Show a run and its nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			run, err := a.runtime.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, run)
		},
	}
}

func buildRunDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <runId>",
		Short: "Delete a run and its in-memory state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			return a.runtime.DeleteRun(cmd.Context(), args[0])
		},
	}
}

func buildRunStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <runId>",
		Short: "Interrupt every node and mark the run stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			return a.runtime.StopRun(cmd.Context(), args[0])
		},
	}
}

func buildRunEventsCmd() *cobra.Command {
	var (
		before   int
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "events <runId>",
		Short: "Page through a run's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			page, err := a.runtime.GetEvents(args[0], before, pageSize)
			if err != nil {
				return err
			}
			return printJSON(cmd, page)
		},
	}
	cmd.Flags().IntVar(&before, "before", 0, "Return events at log positions strictly before this cursor (0 means the most recent page)")
	cmd.Flags().IntVar(&pageSize, "page-size", 100, "Maximum events to return")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
