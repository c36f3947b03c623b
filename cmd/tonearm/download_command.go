package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tonearm/internal/config"
	"tonearm/internal/coverart"
	"tonearm/internal/deps"
	"tonearm/internal/fetcher"
	"tonearm/internal/logging"
	"tonearm/internal/media"
	"tonearm/internal/pipeline"
	"tonearm/internal/services"
	"tonearm/internal/workflow"
)

// jobFlags are the options shared by download and convert.
type jobFlags struct {
	id     string
	format string
	aspect string
	title  string
	artist string
	album  string
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "id", "", "Job id (defaults to a random UUID)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "Output format: mp3 or m4a (defaults to jobs.default_format)")
	cmd.Flags().StringVar(&f.title, "title", "", "Title tag")
	cmd.Flags().StringVar(&f.artist, "artist", "", "Artist tag")
	cmd.Flags().StringVar(&f.album, "album", "", "Album tag")
}

// apply validates the flags and copies them onto job.
func (f *jobFlags) apply(job *workflow.Job, references int) error {
	if references > 1 && (f.id != "" || f.title != "") {
		return errors.New("--id and --title apply to a single reference")
	}
	if f.format != "" {
		format, err := media.ParseFormat(f.format)
		if err != nil {
			return err
		}
		job.Format = format
	}
	if f.aspect != "" {
		aspect, err := media.ParseAspect(f.aspect)
		if err != nil {
			return err
		}
		job.Aspect = aspect
	}
	job.ID = strings.TrimSpace(f.id)
	job.Metadata = media.Metadata{
		Title:  strings.TrimSpace(f.title),
		Artist: strings.TrimSpace(f.artist),
		Album:  strings.TrimSpace(f.album),
	}
	return nil
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var (
		flags    jobFlags
		coverURL string
		start    float64
		end      float64
		raw      bool
		noInfo   bool
	)

	cmd := &cobra.Command{
		Use:   "download <url>...",
		Short: "Download audio and convert it into a tagged track",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.commandLogger()

			report := deps.Evaluate(cfg)
			if !report.CanFetch {
				return services.Wrap(services.ErrDependencyMissing, "download", "check engines",
					fmt.Sprintf("%s not found; install yt-dlp or set engines.fetch", cfg.Engines.Fetch), nil)
			}
			rawOnly := raw
			if !rawOnly && !report.CanTranscode {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s not found; saving downloads without conversion\n", cfg.Engines.FFmpeg)
				rawOnly = true
			}

			var trim *media.Trim
			if start > 0 || end > 0 {
				trim = &media.Trim{Start: start, End: end}
				if err := trim.Validate(); err != nil {
					return err
				}
			}

			client, err := pipeline.NewFetcher(cfg, logger)
			if err != nil {
				return err
			}
			jobs := make([]workflow.Job, 0, len(args))
			for _, reference := range args {
				job := workflow.Job{
					Kind:      workflow.KindDownload,
					Reference: reference,
					CoverArt:  coverart.Source{URL: strings.TrimSpace(coverURL)},
					Trim:      trim,
					RawOnly:   rawOnly,
				}
				if err := flags.apply(&job, len(args)); err != nil {
					return err
				}
				if !noInfo && (job.Metadata.Title == "" || job.Metadata.Artist == "" || job.CoverArt.Empty()) {
					fillFromInfo(cmd.Context(), client, &job, logger)
				}
				jobs = append(jobs, job)
			}

			p, err := pipeline.NewFromConfig(cfg, logger)
			if err != nil {
				return err
			}
			return runJobs(cmd, cfg, logger, p, jobs)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&flags.aspect, "aspect", "", "Cover art canvas: square or widescreen (defaults to jobs.default_aspect)")
	cmd.Flags().StringVar(&coverURL, "cover", "", "Cover art URL or data URI (defaults to the source thumbnail)")
	cmd.Flags().Float64Var(&start, "start", 0, "Trim start in seconds")
	cmd.Flags().Float64Var(&end, "end", 0, "Trim end in seconds (0 keeps the rest)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Keep the downloaded file without converting it")
	cmd.Flags().BoolVar(&noInfo, "no-info", false, "Skip the metadata lookup used to fill missing tags and cover art")
	return cmd
}

// fillFromInfo completes missing tags and cover art from the source's
// metadata. A failed lookup leaves job unchanged; the download reports its
// own error if the reference is bad.
func fillFromInfo(ctx context.Context, client *fetcher.Client, job *workflow.Job, logger *slog.Logger) {
	infos, err := client.Info(ctx, job.Reference)
	if err != nil {
		logger.Debug("metadata lookup failed",
			logging.String("reference", job.Reference),
			logging.Error(err),
		)
		return
	}
	info := infos[0]
	if job.Metadata.Title == "" {
		job.Metadata.Title = strings.TrimSpace(info.Title)
	}
	if job.Metadata.Artist == "" {
		job.Metadata.Artist = info.Artist()
	}
	if job.CoverArt.Empty() {
		switch {
		case strings.TrimSpace(info.Thumbnail) != "":
			job.CoverArt.URL = info.Thumbnail
		case len(info.Thumbnails) > 0:
			job.CoverArt.URL = info.Thumbnails[len(info.Thumbnails)-1].URL
		}
	}
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var flags jobFlags

	cmd := &cobra.Command{
		Use:   "convert <file>...",
		Short: "Re-encode local audio files into tagged tracks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.commandLogger()

			if report := deps.Evaluate(cfg); !report.CanTranscode {
				return services.Wrap(services.ErrDependencyMissing, "convert", "check engines",
					fmt.Sprintf("%s not found; install ffmpeg or set engines.ffmpeg", cfg.Engines.FFmpeg), nil)
			}

			jobs := make([]workflow.Job, 0, len(args))
			for _, arg := range args {
				path, err := resolveInput(arg)
				if err != nil {
					return err
				}
				job := workflow.Job{Kind: workflow.KindReencode, Reference: path}
				if err := flags.apply(&job, len(args)); err != nil {
					return err
				}
				jobs = append(jobs, job)
			}

			p, err := pipeline.NewFromConfig(cfg, logger)
			if err != nil {
				return err
			}
			return runJobs(cmd, cfg, logger, p, jobs)
		},
	}

	flags.register(cmd)
	return cmd
}

// resolveInput expands arg to an absolute path of an existing regular file.
func resolveInput(arg string) (string, error) {
	path, err := config.ExpandPath(strings.TrimSpace(arg))
	if err != nil {
		return "", err
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file does not exist: %s", path)
		}
		return "", fmt.Errorf("inspect file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}
