package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var serverFlag string
	var tokenFlag string
	var configFlag string

	ctx := newCommandContext(&serverFlag, &tokenFlag, &configFlag)

	rootCmd := &cobra.Command{
		Use:           "tenk",
		Short:         "Proyecto 10K: photo-driven tidying tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Daemon address (defaults to server.bind)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "API bearer token (defaults to server.api_token)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newProgressCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newSessionsCommand(ctx))
	rootCmd.AddCommand(newPhotoCommand(ctx))
	rootCmd.AddCommand(newOrderCommand(ctx))
	rootCmd.AddCommand(newStartCommand(ctx))
	rootCmd.AddCommand(newFinishCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newAbandonCommand(ctx))
	rootCmd.AddCommand(newDetectCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
