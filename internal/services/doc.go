// Package services defines shared utilities consumed by the pipeline stages and
// the engine clients.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - The failure taxonomy (acquisition, transcode, cancellation, missing
//     output, cache, dependency) plus the Wrap helper that tags errors with a
//     marker so the coordinator can classify terminal job states.
//   - ToolError, which carries an engine's last diagnostic line so user-facing
//     messages stay short.
package services
