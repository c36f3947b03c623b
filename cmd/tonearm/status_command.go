package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tonearm/internal/config"
	"tonearm/internal/deps"
	"tonearm/internal/history"
	"tonearm/internal/library"
	"tonearm/internal/logging"
	"tonearm/internal/notifications"
	"tonearm/internal/preflight"
	"tonearm/internal/staging"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine availability, directories and cached state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var lines []string
			lines = append(lines, renderSectionHeader("Configuration", colorize)...)
			source := ctx.configPath
			if !ctx.configExists {
				source = fmt.Sprintf("%s (not found, using defaults)", ctx.configPath)
			}
			lines = append(lines,
				renderValueLine("Config file", source),
				renderValueLine("Work dir", cfg.Paths.WorkDir),
				renderValueLine("Output dir", cfg.Paths.OutputDir),
				renderValueLine("Library dir", cfg.Paths.LibraryDir),
				renderValueLine("Max concurrent jobs", fmt.Sprintf("%d", cfg.Jobs.MaxConcurrent)),
				renderValueLine("Default format", fmt.Sprintf("%s (%s art)", cfg.Jobs.DefaultFormat, cfg.Jobs.DefaultAspect)),
				renderValueLine("Notifications", notificationTarget(cfg)),
			)

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Engines", colorize)...)
			lines = append(lines, engineLines(deps.Evaluate(cfg), colorize)...)

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Preflight", colorize)...)
			lines = append(lines, preflightLines(preflight.RunAll(cmd.Context(), cfg), colorize)...)

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("State", colorize)...)
			lines = append(lines, stateLines(cmd, cfg, ctx, colorize)...)

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}

func notificationTarget(cfg *config.Config) string {
	if !notifications.Enabled(cfg) {
		return "disabled"
	}
	return cfg.Notifications.NtfyTopic
}

func stateLines(cmd *cobra.Command, cfg *config.Config, ctx *commandContext, colorize bool) []string {
	logger := ctx.commandLogger()
	var lines []string

	cache := library.NewStore(cfg.LibraryCachePath(), logger)
	lines = append(lines, renderValueLine("Library cache", fmt.Sprintf("%d tracks (%s)", cache.Len(), cfg.LibraryCachePath())))

	artifacts, err := staging.ListArtifacts(cfg.Paths.WorkDir, "")
	switch {
	case err != nil:
		lines = append(lines, renderStatusLine("Temp artifacts", statusWarn, err.Error(), colorize))
	case len(artifacts) == 0:
		lines = append(lines, renderStatusLine("Temp artifacts", statusOK, "none", colorize))
	default:
		var total int64
		for _, artifact := range artifacts {
			total += artifact.Size
		}
		lines = append(lines, renderStatusLine("Temp artifacts", statusWarn,
			fmt.Sprintf("%d files, %s (run `tonearm cleanup`)", len(artifacts), humanize.IBytes(uint64(total))), colorize)) //nolint:gosec
	}

	hist, err := history.Open(cfg)
	if err != nil {
		logger.Debug("history unavailable", logging.Error(err))
		lines = append(lines, renderStatusLine("History", statusWarn, "unavailable", colorize))
		return lines
	}
	defer hist.Close()
	recent, err := hist.Recent(cmd.Context(), 1)
	switch {
	case err != nil:
		lines = append(lines, renderStatusLine("Last job", statusWarn, err.Error(), colorize))
	case len(recent) == 0:
		lines = append(lines, renderValueLine("Last job", "none"))
	default:
		last := recent[0]
		lines = append(lines, renderValueLine("Last job",
			fmt.Sprintf("%s %s %s", historyLabel(last), last.State, humanize.Time(last.FinishedAt))))
	}
	return lines
}
