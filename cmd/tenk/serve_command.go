package main

import (
	"github.com/spf13/cobra"

	"tenk/internal/daemonrun"
)

var version = "dev"

func newServeCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tenk daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
				Version:     version,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in logs")
	return cmd
}
