package textutil

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// maxFileNameBytes keeps generated names under common filesystem limits
// with room for a collision suffix and extension.
const maxFileNameBytes = 200

// SanitizeFileName replaces filesystem-unsafe characters in a filename.
// The input is NFC-normalized and control characters are dropped, so names
// typed on different platforms compare equal on disk. Slashes, backslashes,
// colons, and asterisks become dashes; other unsafe characters are removed.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	t := transform.Chain(norm.NFC, runes.Remove(runes.In(unicode.Cc)))
	normalized, _, err := transform.String(t, name)
	if err != nil {
		normalized = name
	}
	cleaned := strings.TrimSpace(fileNameReplacer.Replace(normalized))
	cleaned = strings.Trim(cleaned, ". ")
	return truncateBytes(strings.Join(strings.Fields(cleaned), " "), maxFileNameBytes)
}

// TitleFromPath derives a display title from a file name: the base name
// without its extension.
func TitleFromPath(path string) string {
	base := filepath.Base(strings.TrimSpace(path))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputName builds "Artist - Title.ext" for a finished track. Missing parts
// are dropped, and "track" is used when nothing usable remains.
func OutputName(artist, title, ext string) string {
	artist = SanitizeFileName(artist)
	title = SanitizeFileName(title)
	var stem string
	switch {
	case artist != "" && title != "":
		stem = artist + " - " + title
	case title != "":
		stem = title
	case artist != "":
		stem = artist
	default:
		stem = "track"
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return stem
	}
	return stem + "." + strings.ToLower(ext)
}

func truncateBytes(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := 0
	for i := range value {
		if i > limit {
			break
		}
		cut = i
	}
	return strings.TrimSpace(value[:cut])
}
