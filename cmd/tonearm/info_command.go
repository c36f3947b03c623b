package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"tonearm/internal/coverart"
	"tonearm/internal/deps"
	"tonearm/internal/pipeline"
	"tonearm/internal/services"
)

type infoJSON struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Artist     string   `json:"artist,omitempty"`
	Duration   float64  `json:"duration_seconds,omitempty"`
	URL        string   `json:"url,omitempty"`
	CoverTiers []string `json:"cover_candidates,omitempty"`
}

func newInfoCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "info <url>",
		Short: "Show the metadata a download would use, without downloading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if report := deps.Evaluate(cfg); !report.CanFetch {
				return services.Wrap(services.ErrDependencyMissing, "info", "check engines",
					fmt.Sprintf("%s not found", cfg.Engines.Fetch), nil)
			}
			client, err := pipeline.NewFetcher(cfg, ctx.commandLogger())
			if err != nil {
				return err
			}
			infos, err := client.Info(cmd.Context(), args[0])
			if err != nil {
				return errors.New(services.UserMessage(err))
			}

			items := make([]infoJSON, 0, len(infos))
			for _, info := range infos {
				item := infoJSON{
					ID:       info.ID,
					Title:    info.Title,
					Artist:   info.Artist(),
					Duration: info.Duration,
					URL:      info.WebpageURL,
				}
				for _, candidate := range coverart.Candidates(info.Thumbnail) {
					item.CoverTiers = append(item.CoverTiers, candidate.URL)
				}
				items = append(items, item)
			}
			if asJSON {
				return writeJSON(cmd, items)
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				cover := "-"
				if len(item.CoverTiers) > 0 {
					cover = fmt.Sprintf("%d candidates", len(item.CoverTiers))
				}
				rows = append(rows, []string{
					valueOrDash(item.Title),
					valueOrDash(item.Artist),
					formatClock(item.Duration),
					cover,
					valueOrDash(item.URL),
				})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]column{
				{Header: "Title", MaxWidth: 50},
				{Header: "Artist", MaxWidth: 30},
				{Header: "Length", Align: alignRight},
				{Header: "Cover"},
				{Header: "URL"},
			}, rows))
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
