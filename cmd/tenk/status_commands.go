package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tenk/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, session and progress status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				lines := daemonStatusLines(*status, shouldColorize(out))
				fmt.Fprintln(out, strings.Join(lines, "\n"))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newProgressCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show hours invested against the goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				progress, err := client.Progress(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, progress)
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(progressLines(*progress), "\n"))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
