package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tenk/internal/api"
	"tenk/internal/tracker"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent placements, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be non-negative")
			}
			return ctx.withClient(func(client *api.Client) error {
				placements, err := client.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, placements)
				}
				out := cmd.OutOrStdout()
				if len(placements) == 0 {
					fmt.Fprintln(out, "No placements recorded yet")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Started", "Object", "Location", "Duration"},
					historyRows(placements, ctx.location()),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of placements to show (default history_limit)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func historyRows(placements []api.PlacementView, loc *time.Location) [][]string {
	rows := make([][]string, 0, len(placements))
	for _, placement := range placements {
		rows = append(rows, []string{
			api.LocalTimestamp(placement.StartedAt, loc),
			placement.Object,
			placement.Location,
			formatSeconds(placement.DurationSeconds),
		})
	}
	return rows
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var phases []string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List wizard sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, phase := range phases {
				if _, ok := tracker.ParsePhase(phase); !ok {
					return fmt.Errorf("unknown phase %q (valid: %s)", phase, phaseNames())
				}
			}
			return ctx.withClient(func(client *api.Client) error {
				sessions, err := client.Sessions(cmd.Context(), phases...)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, sessions)
				}
				out := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No sessions found")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Phase", "Placed", "Current", "Updated", "Source"},
					sessionRows(sessions),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&phases, "phase", "p", nil, "Filter by phase (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func sessionRows(sessions []api.SessionView) [][]string {
	rows := make([][]string, 0, len(sessions))
	for _, session := range sessions {
		placed := strconv.Itoa(len(session.Placed))
		if len(session.Order) > 0 {
			placed += "/" + strconv.Itoa(len(session.Order))
		}
		current := session.Current
		if current != "" {
			current += " (" + formatSeconds(session.ElapsedSeconds) + ")"
		}
		rows = append(rows, []string{
			session.ID,
			session.Phase,
			placed,
			current,
			relativeTime(session.UpdatedAt),
			session.Source,
		})
	}
	return rows
}

func newAbandonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <session-id>",
		Short: "Abandon an active session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *api.Client) error {
				session, err := client.Abandon(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s abandoned (%d of %d objects placed)\n",
					session.ID, len(session.Placed), len(session.Order))
				return nil
			})
		},
	}
}

func relativeTime(value string) string {
	parsed, ok := api.ParseTime(value)
	if !ok {
		return "-"
	}
	return humanize.Time(parsed)
}

func phaseNames() string {
	names := make([]string, 0, len(tracker.AllPhases()))
	for _, phase := range tracker.AllPhases() {
		names = append(names, string(phase))
	}
	return strings.Join(names, ", ")
}
