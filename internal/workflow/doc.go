// Package workflow coordinates acquisition and conversion jobs.
//
// The Manager owns a FIFO of submitted jobs and a fixed pool of workers that
// hand each job to a Runner. It also owns the cancellation registry: a mark
// placed by Cancel is checked, never cleared, until the job with that id is
// finalized, so a late result from a killed engine is always discarded.
//
// Job state only moves forward (Queued, Downloading, Converting, then one of
// Complete, Error or Cancelled). Every path through a worker ends in a
// terminal state, removes the job's prefixed temp files from the work
// directory and, when a history recorder is attached, writes an audit record.
package workflow
