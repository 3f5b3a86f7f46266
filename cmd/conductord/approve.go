package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conductorhq/conductor/internal/domain"
)

func buildApproveCmd() *cobra.Command {
	var (
		runID        string
		nodeID       string
		deny         bool
		feedback     string
		modifiedArgs string
	)
	cmd := &cobra.Command{
		Use:   "approve <approvalId>",
		Short: "List pending approvals (no args) or resolve one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			if len(args) == 0 {
				if runID == "" {
					return fmt.Errorf("--run is required to list approvals")
				}
				approvals, err := a.runtime.ListApprovals(cmd.Context(), runID)
				if err != nil {
					return err
				}
				return printJSON(cmd, approvals)
			}

			if runID == "" || nodeID == "" {
				return fmt.Errorf("--run and --node are required to resolve an approval")
			}

			status := domain.ApprovalApproved
			var args2 map[string]any
			if deny {
				status = domain.ApprovalDenied
			} else if modifiedArgs != "" {
				status = domain.ApprovalModified
				if err := json.Unmarshal([]byte(modifiedArgs), &args2); err != nil {
					return fmt.Errorf("parsing --modified-args as JSON: %w", err)
				}
			}

			result, err := a.runtime.ResolveApproval(cmd.Context(), runID, nodeID, args[0], status, feedback, args2)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Run ID the approval belongs to")
	cmd.Flags().StringVar(&nodeID, "node", "", "Node ID the approval belongs to")
	cmd.Flags().BoolVar(&deny, "deny", false, "Deny rather than approve")
	cmd.Flags().StringVar(&feedback, "feedback", "", "Feedback recorded alongside the resolution")
	cmd.Flags().StringVar(&modifiedArgs, "modified-args", "", "JSON object of modified tool args (implies modified status)")
	return cmd
}
