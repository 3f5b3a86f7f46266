package main

import (
	"github.com/spf13/cobra"
)

func buildEdgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edge",
		Short: "Create and delete handoff edges between nodes",
	}
	cmd.AddCommand(buildEdgeCreateCmd(), buildEdgeDeleteCmd())
	return cmd
}

func buildEdgeCreateCmd() *cobra.Command {
	var (
		bidirectional bool
		label         string
	)
	cmd := &cobra.Command{
		Use:   "create <runId> <fromNodeId> <toNodeId>",
		Short: "Authorize a handoff from one node to another",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			edge, err := a.runtime.CreateEdge(cmd.Context(), args[0], args[1], args[2], bidirectional, label)
			if err != nil {
				return err
			}
			return printJSON(cmd, edge)
		},
	}
	cmd.Flags().BoolVar(&bidirectional, "bidirectional", false, "Also authorize the reverse direction")
	cmd.Flags().StringVar(&label, "label", "", "Metadata label for the edge")
	return cmd
}

func buildEdgeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <runId> <edgeId>",
		Short: "Remove a handoff edge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			return a.runtime.DeleteEdge(cmd.Context(), args[0], args[1])
		},
	}
}
