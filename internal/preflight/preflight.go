package preflight

import (
	"context"

	"tonearm/internal/config"
	"tonearm/internal/deps"
)

// MinWorkDirFree is the free space below which the work directory check fails.
const MinWorkDirFree uint64 = 512 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string

	// Advisory failures are reported but do not block jobs.
	Advisory bool
}

// RunAll checks the directories jobs write to and the free space in the work
// directory.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Cache directory", cfg.Paths.CacheDir),
	}
	if ctx.Err() != nil {
		return results
	}
	space := CheckFreeSpace("Work directory space", cfg.Paths.WorkDir, MinWorkDirFree)
	space.Advisory = true
	return append(results, space)
}

// CheckEngines converts the dependency report into preflight results. A
// missing ffmpeg is reported as a failure with a note that downloads degrade
// to raw-only.
func CheckEngines(report deps.Report) []Result {
	results := make([]Result, 0, len(report.Statuses))
	for _, status := range report.Statuses {
		result := Result{Name: status.Name, Passed: status.Available}
		if status.Available {
			result.Detail = status.Command
		} else {
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	if !report.CanTranscode && report.CanFetch {
		results = append(results, Result{Name: "Conversion", Detail: "unavailable; downloads will be saved raw", Advisory: true})
	}
	return results
}

// Ready reports whether every non-advisory result passed.
func Ready(results []Result) bool {
	return len(Blocking(results)) == 0
}

// Blocking returns the failed results that are not advisory.
func Blocking(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if !result.Passed && !result.Advisory {
			failed = append(failed, result)
		}
	}
	return failed
}
