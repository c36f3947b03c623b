// Package pipeline implements workflow.Runner on top of the engine clients.
//
// A download job resolves cover art concurrently with acquisition, then
// transcodes the raw file with the art attached. Re-encode jobs skip
// acquisition and art. Raw-only jobs stop after acquisition. Every file a job
// writes lives in the work directory under the job's prefix until Publish
// moves the finished track into the output directory.
package pipeline
