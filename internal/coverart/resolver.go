package coverart

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tonearm/internal/config"
	"tonearm/internal/logging"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultMaxBytes       = 20 << 20
)

// Source is the cover art supplied with a job: an inline image (data URI or
// bare base64), a remote URL, or neither.
type Source struct {
	Inline string
	URL    string
}

// Empty reports whether no cover art was supplied.
func (s Source) Empty() bool {
	return strings.TrimSpace(s.Inline) == "" && strings.TrimSpace(s.URL) == ""
}

// Art is a resolved image written into the work directory.
type Art struct {
	Path                string
	Tier                string
	NeedsCropCorrection bool
}

// HTTPDoer describes the HTTP client used for image fetches.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient overrides the HTTP client (primarily for tests).
func WithHTTPClient(client HTTPDoer) Option {
	return func(r *Resolver) {
		if client != nil {
			r.client = client
		}
	}
}

// WithRateLimit caps outgoing image requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(r *Resolver) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRequestTimeout bounds each individual tier fetch.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(r *Resolver) {
		if timeout > 0 {
			r.requestTimeout = timeout
		}
	}
}

// WithMaxBytes rejects images larger than limit.
func WithMaxBytes(limit int64) Option {
	return func(r *Resolver) {
		if limit > 0 {
			r.maxBytes = limit
		}
	}
}

// WithUserAgent sets the User-Agent header sent with image requests.
func WithUserAgent(agent string) Option {
	return func(r *Resolver) {
		r.userAgent = strings.TrimSpace(agent)
	}
}

// Resolver walks the cover-art fallback chain.
type Resolver struct {
	client         HTTPDoer
	limiter        *rate.Limiter
	logger         *slog.Logger
	requestTimeout time.Duration
	maxBytes       int64
	userAgent      string
}

// NewResolver constructs a Resolver with default limits.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		client:         http.DefaultClient,
		logger:         logging.NewNop(),
		requestTimeout: defaultRequestTimeout,
		maxBytes:       defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewResolverFromConfig applies the cover_art section of cfg.
func NewResolverFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) *Resolver {
	base := []Option{WithLogger(logger)}
	if cfg != nil {
		base = append(base,
			WithRequestTimeout(time.Duration(cfg.CoverArt.RequestTimeout)*time.Second),
			WithRateLimit(cfg.CoverArt.RequestsPerSecond),
			WithMaxBytes(cfg.CoverArt.MaxBytes),
			WithUserAgent(cfg.CoverArt.UserAgent),
		)
	}
	return NewResolver(append(base, opts...)...)
}

// Resolve produces a cover image for src inside workDir. An inline image is
// used directly; otherwise the URL's tiers are fetched in order and the first
// success wins. Failures are logged and reported as (nil, false); they never
// fail the job.
func (r *Resolver) Resolve(ctx context.Context, src Source, workDir, prefix string) (*Art, bool) {
	if inline := strings.TrimSpace(src.Inline); inline != "" {
		art, err := r.writeInline(inline, workDir, prefix)
		if err == nil {
			return art, true
		}
		logging.WarnWithContext(r.logger, "inline cover art unusable", "cover_inline_invalid",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "supply a base64 image or data URI"),
			logging.String(logging.FieldImpact, "falling back to cover URL"),
		)
	}

	for _, candidate := range Candidates(src.URL) {
		if ctx.Err() != nil {
			return nil, false
		}
		path, err := r.fetch(ctx, candidate.URL, workDir, prefix)
		if err != nil {
			r.logger.Debug("cover art tier failed",
				logging.String("tier", candidate.Tier),
				logging.String("url", candidate.URL),
				logging.Error(err),
			)
			continue
		}
		r.logger.Info("cover art resolved",
			logging.String("tier", candidate.Tier),
			logging.Bool("crop_correction", candidate.NeedsCropCorrection),
			logging.String(logging.FieldEventType, "cover_resolved"),
		)
		return &Art{Path: path, Tier: candidate.Tier, NeedsCropCorrection: candidate.NeedsCropCorrection}, true
	}

	if strings.TrimSpace(src.URL) != "" {
		logging.WarnWithContext(r.logger, "no cover art tier succeeded", "cover_unresolved",
			logging.String("url", src.URL),
			logging.String(logging.FieldErrorHint, "check the cover URL or network access"),
			logging.String(logging.FieldImpact, "track will have no embedded cover"),
		)
	}
	return nil, false
}

func (r *Resolver) fetch(ctx context.Context, target, workDir, prefix string) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build cover request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch cover: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("cover request returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read cover body: %w", err)
	}
	switch {
	case len(data) == 0:
		return "", errors.New("cover body empty")
	case int64(len(data)) > r.maxBytes:
		return "", fmt.Errorf("cover exceeds %d bytes", r.maxBytes)
	}
	ext, ok := imageExtension(resp.Header.Get("Content-Type"), data)
	if !ok {
		return "", errors.New("cover response is not an image")
	}
	return writeArt(workDir, prefix, ext, data)
}

func (r *Resolver) writeInline(inline, workDir, prefix string) (*Art, error) {
	declared := ""
	payload := inline
	if strings.HasPrefix(inline, "data:") {
		header, body, found := strings.Cut(inline, ",")
		if !found || !strings.Contains(header, ";base64") {
			return nil, errors.New("data URI must be base64 encoded")
		}
		declared = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		payload = body
	}
	data, err := decodeBase64(payload)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("inline image empty")
	}
	ext, ok := imageExtension(declared, data)
	if !ok {
		return nil, errors.New("inline data is not an image")
	}
	path, err := writeArt(workDir, prefix, ext, data)
	if err != nil {
		return nil, err
	}
	return &Art{Path: path, Tier: "inline"}, nil
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.Join(strings.Fields(payload), "")
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(payload); err == nil {
			return data, nil
		}
	}
	return nil, errors.New("inline image is not valid base64")
}

// imageExtension picks a file extension from the declared media type, falling
// back to content sniffing when the server sent something generic.
func imageExtension(declared string, data []byte) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}
	switch mediaType {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "jpg", true
	case "image/png":
		return "png", true
	case "image/webp":
		return "webp", true
	case "image/gif":
		return "gif", true
	case "image/bmp":
		return "bmp", true
	}
	return "", false
}

func writeArt(workDir, prefix, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	path := filepath.Join(workDir, prefix+".cover."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write cover: %w", err)
	}
	return path, nil
}
