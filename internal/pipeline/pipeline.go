package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"tonearm/internal/config"
	"tonearm/internal/coverart"
	"tonearm/internal/deps"
	"tonearm/internal/fetcher"
	"tonearm/internal/logging"
	"tonearm/internal/media/ffprobe"
	"tonearm/internal/progress"
	"tonearm/internal/services"
	"tonearm/internal/transcode"
	"tonearm/internal/workflow"
)

// ArtResolver finds cover art for a job. It never fails the job.
type ArtResolver interface {
	Resolve(ctx context.Context, src coverart.Source, workDir, prefix string) (*coverart.Art, bool)
}

// Transcoder converts audio with ffmpeg.
type Transcoder interface {
	Transcode(ctx context.Context, req transcode.Request, onProgress progress.Func) (string, error)
	Reencode(ctx context.Context, req transcode.ReencodeRequest, onProgress progress.Func) (string, error)
}

// Prober reads the duration of an input so transcode progress can be
// expressed as a percentage.
type Prober interface {
	Inspect(ctx context.Context, path string) (ffprobe.Result, error)
}

// Pipeline runs jobs for a workflow.Manager.
type Pipeline struct {
	fetch      fetcher.Downloader
	art        ArtResolver
	transcoder Transcoder
	prober     Prober
	workDir    string
	outputDir  string
	logger     *slog.Logger
}

var _ workflow.Runner = (*Pipeline)(nil)

// New assembles a Pipeline from explicit collaborators. prober may be nil, in
// which case transcode progress is reported without percentages.
func New(cfg *config.Config, fetch fetcher.Downloader, art ArtResolver, transcoder Transcoder, prober Prober, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		fetch:      fetch,
		art:        art,
		transcoder: transcoder,
		prober:     prober,
		workDir:    cfg.Paths.WorkDir,
		outputDir:  cfg.Paths.OutputDir,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
	}
}

// NewFromConfig builds the engine clients described by cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	fetch, err := NewFetcher(cfg, logger)
	if err != nil {
		return nil, err
	}
	transcoder, err := transcode.New(cfg.Engines.FFmpeg, cfg.Jobs.TranscodeTimeout,
		transcode.EncodingFromConfig(cfg), transcode.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("transcoder: %w", err)
	}
	resolver := coverart.NewResolverFromConfig(cfg, logger)
	prober := ffprobe.NewProber(cfg.Engines.FFprobe)
	return New(cfg, fetch, resolver, transcoder, prober, logger), nil
}

// NewFetcher builds the yt-dlp client, pointing it at the ffmpeg that
// deps.ResolveFFmpegLocation finds.
func NewFetcher(cfg *config.Config, logger *slog.Logger) (*fetcher.Client, error) {
	opts := []fetcher.Option{fetcher.WithLogger(logger)}
	if location := deps.ResolveFFmpegLocation(cfg.Engines.Fetch, cfg.Engines.FFmpegLocation); location != "" {
		opts = append(opts, fetcher.WithFFmpegLocation(location))
	}
	client, err := fetcher.New(cfg.Engines.Fetch, cfg.Jobs.AcquireTimeout, opts...)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	return client, nil
}

// Run executes job and returns the staged output path.
func (p *Pipeline) Run(ctx context.Context, job workflow.Job, reporter workflow.Reporter) (string, error) {
	logger := logging.WithContext(ctx, p.logger)
	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrCacheIO, "pipeline", "prepare work dir", "", err)
	}
	switch job.Kind {
	case workflow.KindReencode:
		return p.reencode(ctx, job, reporter, logger)
	default:
		return p.download(ctx, job, reporter, logger)
	}
}

func (p *Pipeline) download(ctx context.Context, job workflow.Job, reporter workflow.Reporter, logger *slog.Logger) (string, error) {
	prefix := job.Prefix()

	// Art resolution overlaps the download; its result is only needed once
	// transcoding starts.
	artCtx, cancelArt := context.WithCancel(ctx)
	defer cancelArt()
	artResult := make(chan *coverart.Art, 1)
	if job.RawOnly || job.CoverArt.Empty() || p.art == nil {
		artResult <- nil
	} else {
		go func() {
			art, _ := p.art.Resolve(artCtx, job.CoverArt, p.workDir, prefix)
			artResult <- art
		}()
	}

	reporter.SetState(workflow.StateDownloading)
	raw, err := p.fetch.Download(services.WithStage(ctx, "download"), job.Reference, p.workDir, prefix, reporter.Progress)
	if err != nil {
		cancelArt()
		<-artResult
		return "", err
	}
	art := <-artResult
	if err := cancelled(ctx); err != nil {
		return "", err
	}
	if job.RawOnly {
		logger.Info("raw-only download staged", logging.String("raw", filepath.Base(raw)))
		return raw, nil
	}

	reporter.SetState(workflow.StateConverting)
	req := transcode.Request{
		Input:    raw,
		Output:   filepath.Join(p.workDir, prefix+".out."+job.Format.Extension()),
		Format:   job.Format,
		Metadata: job.Metadata,
		Trim:     job.Trim,
		Aspect:   job.Aspect,
		Duration: p.duration(ctx, raw, logger),
	}
	if art != nil {
		req.Art = &transcode.Art{Path: art.Path, NeedsCropCorrection: art.NeedsCropCorrection}
		logger.Debug("attaching cover art",
			logging.String("tier", art.Tier),
			logging.Bool("crop_correction", art.NeedsCropCorrection))
	}
	return p.transcoder.Transcode(services.WithStage(ctx, "transcode"), req, reporter.Progress)
}

func (p *Pipeline) reencode(ctx context.Context, job workflow.Job, reporter workflow.Reporter, logger *slog.Logger) (string, error) {
	info, err := os.Stat(job.Reference)
	if err != nil || info.IsDir() {
		return "", services.Wrap(services.ErrValidation, "reencode", "open input", "input file not found", err)
	}
	reporter.SetState(workflow.StateConverting)
	probe, ok := p.inspect(ctx, job.Reference, logger)
	req := transcode.ReencodeRequest{
		Input:    job.Reference,
		Output:   filepath.Join(p.workDir, job.Prefix()+".out."+job.Format.Extension()),
		Format:   job.Format,
		Metadata: job.Metadata,
	}
	if ok {
		req.Duration = probe.DurationSeconds()
		req.PictureIndex, req.KeepPicture = probe.AttachedPictureIndex()
	}
	return p.transcoder.Reencode(services.WithStage(ctx, "reencode"), req, reporter.Progress)
}

// duration returns 0 when the input cannot be probed; progress then only
// reports completion.
func (p *Pipeline) duration(ctx context.Context, path string, logger *slog.Logger) float64 {
	result, ok := p.inspect(ctx, path, logger)
	if !ok {
		return 0
	}
	return result.DurationSeconds()
}

func (p *Pipeline) inspect(ctx context.Context, path string, logger *slog.Logger) (ffprobe.Result, bool) {
	if p.prober == nil {
		return ffprobe.Result{}, false
	}
	result, err := p.prober.Inspect(ctx, path)
	if err != nil {
		logger.Debug("probe failed", logging.String("path", filepath.Base(path)), logging.Error(err))
		return ffprobe.Result{}, false
	}
	return result, true
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrCancelled, "pipeline", "await cover art", "", err)
	}
	return nil
}

// errNoStaged is returned by Publish when Run produced nothing.
var errNoStaged = errors.New("no staged output")

func stagedMissing(staged string) error {
	if strings.TrimSpace(staged) == "" {
		return services.Wrap(services.ErrMissingOutput, "publish", "locate staged file", "", errNoStaged)
	}
	if _, err := os.Stat(staged); err != nil {
		return services.Wrap(services.ErrMissingOutput, "publish", "locate staged file", "", err)
	}
	return nil
}
