package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"tonearm/internal/config"
)

// Requirement defines an external engine tonearm relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Report summarizes which job kinds the current environment can run.
//
// A missing transcoder degrades downloads to raw-only; a missing fetcher
// leaves re-encode jobs available.
type Report struct {
	Statuses       []Status
	FFmpegLocation string
	CanFetch       bool
	CanTranscode   bool
	CanProbe       bool
}

// Missing returns the names of required dependencies that are unavailable.
func (r Report) Missing() []string {
	var names []string
	for _, status := range r.Statuses {
		if !status.Available && !status.Optional {
			names = append(names, status.Name)
		}
	}
	return names
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if resolved, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Command = resolved
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// ResolveFFmpegLocation returns the directory yt-dlp should be pointed at for
// ffmpeg. An explicit hint wins (a directory, or a binary whose directory is
// used). Otherwise an ffmpeg sitting next to the resolved yt-dlp binary is
// preferred, which is how bundled installs ship. An empty result means yt-dlp
// should search PATH itself.
func ResolveFFmpegLocation(fetchBinary, hint string) string {
	if hint = strings.TrimSpace(hint); hint != "" {
		if info, err := os.Stat(hint); err == nil && !info.IsDir() {
			return filepath.Dir(hint)
		}
		return hint
	}
	fetchBinary = strings.TrimSpace(fetchBinary)
	if fetchBinary == "" {
		return ""
	}
	resolved, err := exec.LookPath(fetchBinary)
	if err != nil {
		return ""
	}
	dir := filepath.Dir(resolved)
	if info, err := os.Stat(filepath.Join(dir, "ffmpeg")); err == nil && isExecutable(info) {
		return dir
	}
	return ""
}

// Evaluate checks the engines named in cfg.
func Evaluate(cfg *config.Config) Report {
	if cfg == nil {
		return Report{}
	}
	statuses := CheckBinaries([]Requirement{
		{Name: "yt-dlp", Command: cfg.Engines.Fetch, Description: "Fetches remote audio and metadata"},
		{Name: "FFmpeg", Command: cfg.Engines.FFmpeg, Description: "Transcodes, tags and embeds cover art"},
		{Name: "FFprobe", Command: cfg.Engines.FFprobe, Description: "Reads durations and tags for the library scan"},
	})
	report := Report{
		Statuses:       statuses,
		FFmpegLocation: ResolveFFmpegLocation(cfg.Engines.Fetch, cfg.Engines.FFmpegLocation),
		CanFetch:       statuses[0].Available,
		CanTranscode:   statuses[1].Available,
		CanProbe:       statuses[2].Available,
	}
	return report
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
