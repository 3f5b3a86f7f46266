package main

import (
	"github.com/spf13/cobra"

	"github.com/conductorhq/conductor/internal/runstore"
)

func buildNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Create, update, and drive nodes within a run",
	}
	cmd.AddCommand(
		buildNodeCreateCmd(),
		buildNodeDeleteCmd(),
		buildNodeResetCmd(),
		buildNodeStartCmd(),
		buildNodeStopCmd(),
		buildNodeInterruptCmd(),
	)
	return cmd
}

func buildNodeCreateCmd() *cobra.Command {
	var (
		label      string
		alias      string
		role       string
		provider   string
		workingDir string
	)
	cmd := &cobra.Command{
		Use:   "create <runId>",
		Short: "Add a node to a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			node, err := a.runtime.CreateNode(cmd.Context(), args[0], runstore.CreateNodeOptions{
				Label:        label,
				Alias:        alias,
				RoleTemplate: role,
				Provider:     provider,
				WorkingDir:   workingDir,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, node)
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Display label for the node")
	cmd.Flags().StringVar(&alias, "alias", "", "Optional short alias other nodes can address this node by")
	cmd.Flags().StringVar(&role, "role", "default", "Role template name")
	cmd.Flags().StringVar(&provider, "provider", "", "providers.<name> entry the node uses")
	cmd.Flags().StringVar(&workingDir, "working-dir", ".", "Working directory for the node")
	return cmd
}

func buildNodeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <runId> <nodeId>",
		Short: "Delete a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			return a.runtime.DeleteNode(cmd.Context(), args[0], args[1])
		},
	}
}

func buildNodeResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <runId> <nodeId>",
		Short: "Reset a node to idle, clearing its session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			node, err := a.runtime.ResetNode(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, node)
		},
	}
}

func buildNodeStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <runId> <nodeId>",
		Short: "Ensure the run's scheduler is driving this node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			return a.runtime.StartNodeProcess(cmd.Context(), args[0], args[1])
		},
	}
}

func buildNodeStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <runId> <nodeId>",
		Short: "Terminate a node's adapter session unconditionally",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			return a.runtime.StopNodeProcess(cmd.Context(), args[0], args[1])
		},
	}
}

func buildNodeInterruptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt <runId> <nodeId>",
		Short: "Cooperatively abort a node's in-flight turn",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			return a.runtime.InterruptNodeProcess(cmd.Context(), args[0], args[1])
		},
	}
}
