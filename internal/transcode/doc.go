// Package transcode builds and supervises ffmpeg invocations.
//
// BuildArgs produces the download-path command: trim at the input, audio plus
// optional cover image, the cover geometry filter for the chosen aspect, the
// codec branch for mp3 or m4a, and metadata tags. BuildReencodeArgs is the
// narrower variant for converting an existing file while keeping its tags.
//
// Client runs those commands through procexec with a wall-clock timeout,
// turns -progress output into converting updates and maps failures onto the
// services error taxonomy.
package transcode
