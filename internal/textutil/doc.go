// Package textutil provides filename helpers for published tracks.
//
// SanitizeFileName NFC-normalizes names and strips control characters and
// filesystem-unsafe punctuation. OutputName composes the "Artist - Title.ext"
// form used when a finished track is moved into the output directory.
package textutil
