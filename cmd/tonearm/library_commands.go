package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tonearm/internal/config"
	"tonearm/internal/deps"
	"tonearm/internal/fileutil"
	"tonearm/internal/library"
	"tonearm/internal/media/ffprobe"
	"tonearm/internal/services"
	"tonearm/internal/transcode"
)

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	libraryCmd := &cobra.Command{
		Use:   "library",
		Short: "Scan local music and extract embedded cover art",
	}
	libraryCmd.AddCommand(newLibraryScanCommand(ctx))
	libraryCmd.AddCommand(newLibraryArtCommand(ctx))
	return libraryCmd
}

type trackJSON struct {
	Path       string  `json:"path"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album,omitempty"`
	Duration   float64 `json:"duration_seconds"`
	HasPicture bool    `json:"has_picture"`
}

func newLibraryScanCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan [dir]",
		Short: "List the audio files in a directory, probing only new or changed files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.commandLogger()

			dir := cfg.Paths.LibraryDir
			if len(args) == 1 {
				if dir, err = config.ExpandPath(args[0]); err != nil {
					return err
				}
			}
			if !deps.Evaluate(cfg).CanProbe {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s not found; new files will be listed by name only\n", cfg.Engines.FFprobe)
			}

			store := library.NewStore(cfg.LibraryCachePath(), logger)
			scanner := library.NewScannerFromConfig(cfg, store, ffprobe.NewProber(cfg.Engines.FFprobe), logger)
			tracks, err := scanner.Scan(cmd.Context(), dir)
			if err != nil {
				return err
			}

			if asJSON {
				items := make([]trackJSON, 0, len(tracks))
				for _, track := range tracks {
					items = append(items, trackJSON{
						Path:       track.Path,
						Title:      track.Title,
						Artist:     track.Artist,
						Album:      track.Album,
						Duration:   track.DurationSeconds,
						HasPicture: track.HasPicture,
					})
				}
				return writeJSON(cmd, items)
			}

			out := cmd.OutOrStdout()
			stats := scanner.LastStats()
			if len(tracks) == 0 {
				fmt.Fprintf(out, "No audio files in %s\n", dir)
				return nil
			}
			rows := make([][]string, 0, len(tracks))
			for _, track := range tracks {
				rows = append(rows, []string{
					valueOrDash(track.Artist),
					valueOrDash(track.Title),
					valueOrDash(track.Album),
					formatClock(track.DurationSeconds),
					yesNo(track.HasPicture),
				})
			}
			fmt.Fprint(out, renderTable([]column{
				{Header: "Artist", MaxWidth: 30},
				{Header: "Title", MaxWidth: 50},
				{Header: "Album", MaxWidth: 30},
				{Header: "Length", Align: alignRight},
				{Header: "Art"},
			}, rows))
			fmt.Fprintln(out)
			fmt.Fprintf(out, "%d tracks (%d cached, %d probed, %d unreadable)\n",
				stats.Files, stats.Hits, stats.Probed, stats.Failures)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newLibraryArtCommand(ctx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "art <track>",
		Short: "Write a track's embedded cover art to a JPEG file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.commandLogger()

			track, err := resolveInput(args[0])
			if err != nil {
				return err
			}
			if !deps.Evaluate(cfg).CanTranscode {
				return services.Wrap(services.ErrDependencyMissing, "library", "check engines",
					fmt.Sprintf("%s not found", cfg.Engines.FFmpeg), nil)
			}
			extractor, err := transcode.New(cfg.Engines.FFmpeg, cfg.Jobs.TranscodeTimeout,
				transcode.EncodingFromConfig(cfg), transcode.WithLogger(logger))
			if err != nil {
				return err
			}

			cache := library.NewArtCache(cfg.CoverArtCacheDir(), extractor, logger)
			data, err := cache.CoverArt(cmd.Context(), track)
			if err != nil {
				return err
			}
			if data == nil {
				return errors.New("track has no embedded cover art")
			}

			target := strings.TrimSpace(outPath)
			if target == "" {
				target = strings.TrimSuffix(filepath.Base(track), filepath.Ext(track)) + ".jpg"
			}
			if target, err = config.ExpandPath(target); err != nil {
				return err
			}
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s already exists", target)
			}
			if err := fileutil.WriteFileAtomic(target, data, 0o644); err != nil {
				return fmt.Errorf("write cover art: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s)\n", target, humanize.IBytes(uint64(len(data))))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Destination file (defaults to <track name>.jpg in the current directory)")
	return cmd
}
