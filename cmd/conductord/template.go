package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func buildTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "List, inspect, and edit role templates",
	}
	cmd.AddCommand(
		buildTemplateListCmd(),
		buildTemplateShowCmd(),
		buildTemplatePutCmd(),
		buildTemplateDeleteCmd(),
	)
	return cmd
}

func buildTemplateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List role templates, layered user over system",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			return printJSON(cmd, a.runtime.Templates().ListRoleTemplates())
		},
	}
}

func buildTemplateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a role template's resolved content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			content, err := a.runtime.Templates().Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), content)
			return nil
		},
	}
}

// buildTemplatePutCmd writes or overwrites a user-directory role
// template, reading its content from stdin so the caller can pipe a
// file in (`conductord template put reviewer < reviewer.md`).
func buildTemplatePutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <name>",
		Short: "Create or update a user role template from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			content, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading template content from stdin: %w", err)
			}
			return a.runtime.Templates().PutRoleTemplate(args[0], string(content))
		},
	}
}

func buildTemplateDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a user role template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.closeLogged(cmd.Context())

			return a.runtime.Templates().DeleteRoleTemplate(args[0])
		},
	}
}
