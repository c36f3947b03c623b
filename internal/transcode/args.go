package transcode

import (
	"fmt"
	"strconv"
	"strings"

	"tonearm/internal/config"
	"tonearm/internal/media"
)

const (
	widescreenWidth  = 1920
	widescreenHeight = 1080
)

// Encoding holds the codec settings shared by every invocation.
type Encoding struct {
	MP3Quality int
	AACBitrate string
	SquareSize int
}

// DefaultEncoding mirrors the configuration defaults.
func DefaultEncoding() Encoding {
	return Encoding{MP3Quality: 0, AACBitrate: "256k", SquareSize: 1000}
}

// EncodingFromConfig reads the transcode section of cfg.
func EncodingFromConfig(cfg *config.Config) Encoding {
	if cfg == nil {
		return DefaultEncoding()
	}
	return Encoding{
		MP3Quality: cfg.Transcode.MP3Quality,
		AACBitrate: cfg.Transcode.AACBitrate,
		SquareSize: cfg.Transcode.SquareSize,
	}
}

// Art is the cover image muxed in as an attached picture.
type Art struct {
	Path                string
	NeedsCropCorrection bool
}

// Request describes one download-path transcode.
type Request struct {
	Input    string
	Output   string
	Format   media.Format
	Metadata media.Metadata
	Trim     *media.Trim
	Art      *Art
	Aspect   media.Aspect
	// Duration of the input in seconds, used to turn ffmpeg's out_time into a
	// percentage. Zero disables percentage progress.
	Duration float64
}

// ReencodeRequest describes a re-encode of an existing local file. Metadata
// fields that are set override the tags carried over from the input.
type ReencodeRequest struct {
	Input    string
	Output   string
	Format   media.Format
	Metadata media.Metadata
	Duration float64

	// KeepPicture copies the input stream at PictureIndex, an embedded cover
	// image, into the output. Other video streams are never mapped.
	KeepPicture  bool
	PictureIndex int
}

func baseArgs() []string {
	return []string{"-hide_banner", "-nostdin", "-y", "-progress", "pipe:1", "-nostats"}
}

// BuildArgs returns the ffmpeg argument list for req. Trim options precede the
// first input so seeking happens at decode time.
func BuildArgs(req Request, enc Encoding) []string {
	args := baseArgs()
	if !req.Trim.IsZero() {
		if req.Trim.Start > 0 {
			args = append(args, "-ss", formatSeconds(req.Trim.Start))
		}
		if req.Trim.End > 0 {
			args = append(args, "-to", formatSeconds(req.Trim.End))
		}
	}
	args = append(args, "-i", req.Input)
	hasArt := req.Art != nil && strings.TrimSpace(req.Art.Path) != ""
	if hasArt {
		args = append(args, "-i", req.Art.Path)
	}
	args = append(args, "-map", "0:a:0")
	if hasArt {
		args = append(args,
			"-map", "1:0",
			"-vf", CoverFilter(req.Aspect, req.Art.NeedsCropCorrection, enc.SquareSize),
			"-c:v", "mjpeg",
			"-disposition:v:0", "attached_pic",
		)
	}
	args = append(args, codecArgs(req.Format, enc)...)
	args = append(args, metadataArgs(req.Metadata)...)
	return append(args, req.Output)
}

// BuildReencodeArgs returns the ffmpeg argument list for a re-encode. Existing
// tags, and the embedded picture when req names one, are carried over
// unchanged.
func BuildReencodeArgs(req ReencodeRequest, enc Encoding) []string {
	args := baseArgs()
	args = append(args, "-i", req.Input, "-map", "0:a:0")
	if req.KeepPicture {
		args = append(args,
			"-map", "0:"+strconv.Itoa(req.PictureIndex),
			"-c:v", "copy",
		)
	}
	args = append(args, "-map_metadata", "0")
	args = append(args, codecArgs(req.Format, enc)...)
	args = append(args, metadataArgs(req.Metadata)...)
	return append(args, req.Output)
}

// CoverFilter builds the geometry filter chain for the cover image. Letterboxed
// thumbnails are first cropped back to their 16:9 picture.
func CoverFilter(aspect media.Aspect, needsCropCorrection bool, squareSize int) string {
	if aspect == media.AspectWidescreen {
		return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d",
			widescreenWidth, widescreenHeight, widescreenWidth, widescreenHeight)
	}
	if squareSize <= 0 {
		squareSize = DefaultEncoding().SquareSize
	}
	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d",
		squareSize, squareSize, squareSize, squareSize)
	if needsCropCorrection {
		filter = "crop=iw:iw*9/16," + filter
	}
	return filter
}

func codecArgs(format media.Format, enc Encoding) []string {
	if format == media.FormatM4A {
		bitrate := strings.TrimSpace(enc.AACBitrate)
		if bitrate == "" {
			bitrate = DefaultEncoding().AACBitrate
		}
		return []string{"-c:a", "aac", "-b:a", bitrate, "-movflags", "+faststart", "-f", "ipod"}
	}
	return []string{"-c:a", "libmp3lame", "-q:a", strconv.Itoa(enc.MP3Quality), "-id3v2_version", "3"}
}

func metadataArgs(meta media.Metadata) []string {
	var args []string
	for _, tag := range []struct{ key, value string }{
		{"title", meta.Title},
		{"artist", meta.Artist},
		{"album", meta.Album},
	} {
		if value := strings.TrimSpace(tag.value); value != "" {
			args = append(args, "-metadata", tag.key+"="+value)
		}
	}
	return args
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
