package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tonearm/internal/config"
	"tonearm/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect finished jobs",
	}
	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryClearCommand(ctx))
	return historyCmd
}

type historyJSON struct {
	JobID      string    `json:"job_id"`
	Kind       string    `json:"kind"`
	Reference  string    `json:"reference"`
	Title      string    `json:"title,omitempty"`
	Artist     string    `json:"artist,omitempty"`
	Format     string    `json:"format,omitempty"`
	State      string    `json:"state"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at"`
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently finished jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(_ *config.Config, store *history.Store) error {
				entries, err := store.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					items := make([]historyJSON, 0, len(entries))
					for _, entry := range entries {
						items = append(items, historyJSON{
							JobID:      entry.JobID,
							Kind:       entry.Kind,
							Reference:  entry.Reference,
							Title:      entry.Title,
							Artist:     entry.Artist,
							Format:     entry.Format,
							State:      entry.State,
							ErrorKind:  entry.ErrorKind,
							Error:      entry.ErrorMessage,
							OutputPath: entry.OutputPath,
							StartedAt:  entry.StartedAt,
							FinishedAt: entry.FinishedAt,
						})
					}
					return writeJSON(cmd, items)
				}

				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No finished jobs recorded")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						humanize.Time(entry.FinishedAt),
						entry.Kind,
						historyLabel(entry),
						entry.State,
						formatRunTime(entry.Duration()),
						historyOutcome(entry),
					})
				}
				fmt.Fprint(out, renderTable([]column{
					{Header: "Finished"},
					{Header: "Kind"},
					{Header: "Job", MaxWidth: 40},
					{Header: "State"},
					{Header: "Took", Align: alignRight},
					{Header: "Result", MaxWidth: 60},
				}, rows))
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every history entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(_ *config.Config, store *history.Store) error {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d history %s\n", removed, pluralize(removed, "entry", "entries"))
				return nil
			})
		},
	}
}

// historyLabel names a job by its tags, falling back to the reference.
func historyLabel(entry history.Entry) string {
	title := strings.TrimSpace(entry.Title)
	artist := strings.TrimSpace(entry.Artist)
	switch {
	case title != "" && artist != "":
		return artist + " - " + title
	case title != "":
		return title
	case entry.Kind == "reencode":
		return filepath.Base(entry.Reference)
	default:
		return entry.Reference
	}
}

func historyOutcome(entry history.Entry) string {
	if entry.OutputPath != "" {
		return entry.OutputPath
	}
	if entry.ErrorMessage != "" {
		return entry.ErrorMessage
	}
	return valueOrDash(entry.ErrorKind)
}

func formatRunTime(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func pluralize(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
