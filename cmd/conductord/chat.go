package main

import (
	"github.com/spf13/cobra"
)

func buildChatCmd() *cobra.Command {
	var interrupt bool
	cmd := &cobra.Command{
		Use:   "chat <runId> <nodeId> <message>",
		Short: "Post a user message into a node's inbox",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			return a.runtime.PostMessage(cmd.Context(), args[0], args[1], args[2], interrupt)
		},
	}
	cmd.Flags().BoolVar(&interrupt, "interrupt", false, "Interrupt the node's current turn before delivering")
	return cmd
}
