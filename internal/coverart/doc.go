// Package coverart resolves the image embedded into finished tracks.
//
// Candidates classifies a cover URL into a source family and expands it into
// an ordered tier list: YouTube thumbnail variants (all but the top tier need
// letterbox crop correction) or higher-resolution size-token rewrites for
// SoundCloud, Bandcamp, Deezer and Apple artwork. Resolver tries an inline
// image first and then each tier in order, stopping at the first success.
// Every failure is recovered locally; a job without art still completes.
package coverart
