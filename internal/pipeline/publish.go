package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"tonearm/internal/fileutil"
	"tonearm/internal/logging"
	"tonearm/internal/services"
	"tonearm/internal/textutil"
	"tonearm/internal/workflow"
)

const maxCollisionSuffix = 999

// Publish moves the staged file into the output directory as
// "Artist - Title.ext" and returns the final path. An existing file is never
// overwritten; the name gets " (2)", " (3)" and so on instead.
func (p *Pipeline) Publish(job workflow.Job, staged string) (string, error) {
	if err := stagedMissing(staged); err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrCacheIO, "publish", "create output dir", "", err)
	}

	ext := job.Format.Extension()
	if job.RawOnly {
		ext = strings.TrimPrefix(filepath.Ext(staged), ".")
	}
	title := job.Metadata.Title
	if title == "" && job.Kind == workflow.KindReencode {
		title = textutil.TitleFromPath(job.Reference)
	}
	name := textutil.OutputName(job.Metadata.Artist, title, ext)

	target, err := reserve(p.outputDir, name)
	if err != nil {
		return "", services.Wrap(services.ErrCacheIO, "publish", "reserve output name", "", err)
	}
	if err := fileutil.MoveFile(staged, target); err != nil {
		_ = os.Remove(target)
		return "", services.Wrap(services.ErrCacheIO, "publish", "move output", "", err)
	}
	p.logger.Info("track published",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("output", target),
		logging.String(logging.FieldEventType, "track_published"))
	return target, nil
}

// reserve claims the first free name in dir by creating an empty placeholder,
// so two jobs finishing together never pick the same path.
func reserve(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; n <= maxCollisionSuffix; n++ {
		candidate := name
		if n > 1 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", name, maxCollisionSuffix)
}
