package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tenk/internal/api"
	"tenk/internal/config"
)

// cliSource tags sessions created from the command line.
const cliSource = "cli"

func newPhotoCommand(ctx *commandContext) *cobra.Command {
	var sessionID string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "photo <image>",
		Short: "Upload a photo to a session and list the detected objects",
		Long: "Upload a photo to the daemon for detection. Without --session a new\n" +
			"session is created first and its ID is printed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open image: %w", err)
			}
			defer file.Close()

			return ctx.withUploadClient(func(client *api.Client) error {
				id := strings.TrimSpace(sessionID)
				if id == "" {
					created, err := client.CreateSession(cmd.Context(), cliSource)
					if err != nil {
						return err
					}
					id = created.ID
				}
				session, err := client.UploadPhoto(cmd.Context(), id, path, file)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, session)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s: %d objects detected (%d tokens)\n",
					session.ID, len(session.Detected), session.TokensUsed)
				writeNumbered(out, session.Detected)
				fmt.Fprintf(out, "Next: tenk order %s <objects...>\n", session.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Existing session awaiting a photo")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newOrderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "order <session-id> <object>...",
		Short: "Confirm which detected objects to place, in order",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *api.Client) error {
				session, err := client.ConfirmOrder(cmd.Context(), id, args[1:])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s: %d objects to place\n", session.ID, len(session.Order))
				writeNumbered(out, session.Order)
				return nil
			})
		},
	}
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <session-id> [object]",
		Short: "Start timing an object (the next pending one by default)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			object := ""
			if len(args) == 2 {
				object = args[1]
			}
			return ctx.withClient(func(client *api.Client) error {
				session, err := client.Start(cmd.Context(), id, object)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Timing %s (started %s)\n",
					session.Current, api.LocalTimestamp(session.StartedAt, ctx.location()))
				return nil
			})
		},
	}
}

func newFinishCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "finish <session-id> <location>...",
		Short: "Record where the current object went",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			location := strings.Join(args[1:], " ")
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Finish(cmd.Context(), id, location)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Placement != nil {
					fmt.Fprintf(out, "%s -> %s in %s\n", resp.Placement.Object, resp.Placement.Location,
						formatSeconds(resp.Placement.DurationSeconds))
				}
				session := resp.Session
				fmt.Fprintf(out, "Session %s: %d of %d placed (%s)\n",
					session.ID, len(session.Placed), len(session.Order), session.Phase)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session and its detection history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.GetSession(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, resp)
				}
				renderSession(cmd.OutOrStdout(), resp, ctx)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderSession(out io.Writer, resp *api.SessionResponse, ctx *commandContext) {
	loc := ctx.location()
	session := resp.Session
	fmt.Fprintf(out, "Session %s (%s, source %s)\n", session.ID, session.Phase, session.Source)
	fmt.Fprintf(out, "Created: %s\n", api.LocalTimestamp(session.CreatedAt, loc))
	if session.Current != "" {
		fmt.Fprintf(out, "Current: %s (%s)\n", session.Current, formatSeconds(session.ElapsedSeconds))
	}
	if len(session.Order) > 0 {
		fmt.Fprintf(out, "Placed: %d/%d\n", len(session.Placed), len(session.Order))
	}
	if len(resp.Detections) == 0 {
		fmt.Fprintln(out, "No detections yet")
		return
	}
	rows := make([][]string, 0, len(resp.Detections))
	for _, detection := range resp.Detections {
		rows = append(rows, []string{
			api.LocalTimestamp(detection.CreatedAt, loc),
			detection.Model,
			fmt.Sprintf("%d", detection.TokensUsed),
			strings.Join(detection.Objects, ", "),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Detected", "Model", "Tokens", "Objects"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func writeNumbered(out io.Writer, items []string) {
	for i, item := range items {
		fmt.Fprintf(out, "%3d. %s\n", i+1, item)
	}
}
