package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tonearm/internal/staging"
)

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var (
		list     bool
		all      bool
		olderArg time.Duration
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove temp files left in the work directory by interrupted jobs",
		Long: "Remove temp files left in the work directory by interrupted jobs.\n\n" +
			"Only files older than cleanup.orphan_max_age are removed unless --older-than or --all is given. " +
			"Do not use --all while another tonearm process is running jobs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if list {
				artifacts, err := staging.ListArtifacts(cfg.Paths.WorkDir, "")
				if err != nil {
					return fmt.Errorf("list artifacts: %w", err)
				}
				if len(artifacts) == 0 {
					fmt.Fprintln(out, "No temp files")
					return nil
				}
				rows := make([][]string, 0, len(artifacts))
				for _, artifact := range artifacts {
					rows = append(rows, []string{
						artifact.Name,
						humanize.IBytes(uint64(artifact.Size)), //nolint:gosec
						humanize.Time(artifact.ModTime),
					})
				}
				fmt.Fprint(out, renderTable([]column{
					{Header: "File", MaxWidth: 70},
					{Header: "Size", Align: alignRight},
					{Header: "Modified"},
				}, rows))
				fmt.Fprintln(out)
				return nil
			}

			maxAge := time.Duration(cfg.Cleanup.OrphanMaxAge) * time.Second
			switch {
			case all:
				maxAge = 0
			case cmd.Flags().Changed("older-than"):
				maxAge = olderArg
			}
			result := staging.CleanStale(cmd.Context(), cfg.Paths.WorkDir, maxAge, ctx.commandLogger())
			fmt.Fprintf(out, "Removed %d temp %s from %s\n", len(result.Removed),
				pluralize(int64(len(result.Removed)), "file", "files"), cfg.Paths.WorkDir)
			for _, failure := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %v\n", failure.Path, failure.Error)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d files could not be removed", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&list, "list", "l", false, "List temp files instead of removing them")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every temp file regardless of age")
	cmd.Flags().DurationVar(&olderArg, "older-than", 0, "Remove temp files older than this duration (for example 30m)")
	return cmd
}
