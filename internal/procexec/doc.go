// Package procexec runs external engines (yt-dlp, ffmpeg, ffprobe) as
// supervised subprocesses.
//
// Each process is started in its own process group so cancellation and
// timeouts can hard-kill the engine together with any helpers it spawned.
// Output is streamed line by line to a callback and the last stderr line is
// retained for error reporting.
package procexec
