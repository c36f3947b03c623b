package coverart

import (
	"net/url"
	"regexp"
	"strings"
)

// Candidate is one tier of the cover-art fallback chain.
type Candidate struct {
	URL                 string
	Tier                string
	NeedsCropCorrection bool
}

// youtubeTiers lists thumbnail variants from best to worst. Everything below
// maxresdefault is a 4:3 frame with the 16:9 picture letterboxed inside.
var youtubeTiers = []string{"maxresdefault", "sddefault", "hqdefault", "default"}

var (
	videoIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)
	soundcloudSize    = regexp.MustCompile(`-(large|original|crop|t\d+x\d+)\.(jpg|jpeg|png)$`)
	bandcampSize      = regexp.MustCompile(`_(\d+)\.(jpg|jpeg|png)$`)
	squareSizePattern = regexp.MustCompile(`(\d{2,4})x(\d{2,4})`)
)

// Candidates classifies rawURL by source family and returns the tiers to try
// in order. Unrecognized URLs yield a single tier holding the URL itself.
func Candidates(rawURL string) []Candidate {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return []Candidate{{URL: rawURL, Tier: "given"}}
	}
	host := strings.ToLower(parsed.Hostname())

	if id := youtubeVideoID(host, parsed); id != "" {
		out := make([]Candidate, 0, len(youtubeTiers))
		for i, tier := range youtubeTiers {
			out = append(out, Candidate{
				URL:                 "https://i.ytimg.com/vi/" + id + "/" + tier + ".jpg",
				Tier:                tier,
				NeedsCropCorrection: i > 0,
			})
		}
		return out
	}

	switch {
	case strings.HasSuffix(host, "sndcdn.com") && soundcloudSize.MatchString(parsed.Path):
		return substituted(rawURL, parsed, soundcloudSize, []tierRewrite{
			{"original", "-original.$2"},
			{"t500x500", "-t500x500.$2"},
		})
	case strings.HasSuffix(host, "bcbits.com") && bandcampSize.MatchString(parsed.Path):
		return substituted(rawURL, parsed, bandcampSize, []tierRewrite{
			{"_0", "_0.$2"},
			{"_10", "_10.$2"},
		})
	case (strings.HasSuffix(host, "dzcdn.net") || strings.HasSuffix(host, "mzstatic.com")) && squareSizePattern.MatchString(parsed.Path):
		return substitutedLast(rawURL, parsed, squareSizePattern, []tierRewrite{
			{"1400x1400", "1400x1400"},
			{"1000x1000", "1000x1000"},
		})
	}
	return []Candidate{{URL: rawURL, Tier: "given"}}
}

type tierRewrite struct {
	tier        string
	replacement string
}

func substituted(rawURL string, parsed *url.URL, pattern *regexp.Regexp, rewrites []tierRewrite) []Candidate {
	out := make([]Candidate, 0, len(rewrites)+1)
	seen := map[string]struct{}{}
	for _, rw := range rewrites {
		clone := *parsed
		clone.Path = pattern.ReplaceAllString(parsed.Path, rw.replacement)
		clone.RawPath = ""
		out = appendUnique(out, seen, Candidate{URL: clone.String(), Tier: rw.tier})
	}
	return appendUnique(out, seen, Candidate{URL: rawURL, Tier: "given"})
}

// substitutedLast rewrites only the final size token in the path; Apple paths
// carry the asset name before the size segment and may contain digits.
func substitutedLast(rawURL string, parsed *url.URL, pattern *regexp.Regexp, rewrites []tierRewrite) []Candidate {
	locs := pattern.FindAllStringIndex(parsed.Path, -1)
	last := locs[len(locs)-1]
	out := make([]Candidate, 0, len(rewrites)+1)
	seen := map[string]struct{}{}
	for _, rw := range rewrites {
		clone := *parsed
		clone.Path = parsed.Path[:last[0]] + rw.replacement + parsed.Path[last[1]:]
		clone.RawPath = ""
		out = appendUnique(out, seen, Candidate{URL: clone.String(), Tier: rw.tier})
	}
	return appendUnique(out, seen, Candidate{URL: rawURL, Tier: "given"})
}

func appendUnique(out []Candidate, seen map[string]struct{}, c Candidate) []Candidate {
	if _, ok := seen[c.URL]; ok {
		return out
	}
	seen[c.URL] = struct{}{}
	return append(out, c)
}

func youtubeVideoID(host string, parsed *url.URL) string {
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	var id string
	switch host {
	case "youtu.be":
		id = segments[0]
	case "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtube-nocookie.com", "www.youtube-nocookie.com":
		if v := parsed.Query().Get("v"); v != "" {
			id = v
			break
		}
		if len(segments) >= 2 {
			switch segments[0] {
			case "shorts", "embed", "live", "v":
				id = segments[1]
			}
		}
	case "i.ytimg.com", "img.youtube.com", "i9.ytimg.com":
		if len(segments) >= 2 && (segments[0] == "vi" || segments[0] == "vi_webp") {
			id = segments[1]
		}
	}
	if !videoIDPattern.MatchString(id) {
		return ""
	}
	return id
}
