package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tenk/internal/config"
	"tenk/internal/daemonrun"
	"tenk/internal/imaging"
	"tenk/internal/vision"
)

func newDetectCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "detect <image>",
		Short: "Run object detection on a local photo and print the list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireVision(); err != nil {
				return err
			}
			detector := daemonrun.NewDetector(cfg)

			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open image: %w", err)
			}
			defer file.Close()

			photo, err := imaging.Prepare(file, daemonrun.PhotoOptions(cfg))
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			detection, err := detector.Detect(cmd.Context(), photo.DataURL())
			if errors.Is(err, vision.ErrNoObjects) {
				fmt.Fprintln(cmd.OutOrStdout(), "No objects detected")
				return nil
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, detection)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%dx%d, sent %s) via %s, %d tokens\n",
				path, photo.Width, photo.Height, humanize.Bytes(uint64(len(photo.JPEG))),
				detection.Model, detection.TokensUsed)
			for i, object := range detection.Objects {
				fmt.Fprintf(out, "%3d. %s\n", i+1, object)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
