package workflow

import (
	"context"
	"sync"
	"time"

	"tonearm/internal/progress"
	"tonearm/internal/services"
)

const eventBuffer = 64

// Event is published on a Handle whenever the job changes state or reports
// progress. Delivery is best-effort: a consumer that falls behind misses
// intermediate events, while Snapshot and Wait always reflect the latest state.
type Event struct {
	JobID    string
	State    State
	Progress progress.Update
	// Message is the user-facing error text on a terminal Error event.
	Message string
}

// Snapshot is a point-in-time copy of a job's status.
type Snapshot struct {
	ID          string
	Kind        Kind
	Reference   string
	State       State
	Progress    progress.Update
	OutputPath  string
	ErrorKind   services.Kind
	Message     string
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Result is the terminal outcome of a job.
type Result struct {
	ID         string
	State      State
	OutputPath string
	ErrorKind  services.Kind
	Message    string
	Err        error
}

// Handle lets a submitter follow one job.
type Handle struct {
	id     string
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	snap   Snapshot
	result Result
	closed bool
}

func newHandle(job Job, now time.Time) *Handle {
	return &Handle{
		id:     job.ID,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		snap: Snapshot{
			ID:          job.ID,
			Kind:        job.Kind,
			Reference:   job.Reference,
			State:       StateQueued,
			SubmittedAt: now,
		},
	}
}

// ID returns the job id.
func (h *Handle) ID() string { return h.id }

// Events returns the progress channel. It is closed after the terminal event.
func (h *Handle) Events() <-chan Event { return h.events }

// Done is closed once the job is terminal.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Snapshot returns the current status.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// Wait blocks until the job is terminal or ctx ends. The returned error is
// the job's failure (nil on Complete) or ctx.Err() when waiting was abandoned.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.result.Err
	case <-ctx.Done():
		return Result{ID: h.id, State: h.Snapshot().State}, ctx.Err()
	}
}

// advance moves the job forward; backwards or repeated moves are ignored.
func (h *Handle) advance(state State, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || !canAdvance(h.snap.State, state) {
		return false
	}
	if h.snap.State == StateQueued && !state.Terminal() {
		h.snap.StartedAt = now
	}
	h.snap.State = state
	h.snap.Progress = progress.Update{}
	h.publishLocked(Event{JobID: h.id, State: state})
	return true
}

func (h *Handle) report(update progress.Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.snap.State.Terminal() {
		return
	}
	h.snap.Progress = update
	h.publishLocked(Event{JobID: h.id, State: h.snap.State, Progress: update})
}

// finish records the terminal result and closes the event stream. It returns
// false when the handle was already closed.
func (h *Handle) finish(result Result, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if canAdvance(h.snap.State, result.State) {
		h.snap.State = result.State
	}
	h.snap.OutputPath = result.OutputPath
	h.snap.ErrorKind = result.ErrorKind
	h.snap.Message = result.Message
	h.snap.FinishedAt = now
	if result.State == StateComplete {
		h.snap.Progress = progress.Update{Stage: progress.StageComplete, Percent: 100}
	}
	h.result = result
	h.publishLocked(Event{JobID: h.id, State: h.snap.State, Progress: h.snap.Progress, Message: result.Message})
	h.closed = true
	close(h.events)
	close(h.done)
	return true
}

// publishLocked never blocks; events are dropped when the consumer lags.
// Callers hold h.mu, which orders every send before the close in finish.
func (h *Handle) publishLocked(event Event) {
	select {
	case h.events <- event:
	default:
	}
}
