package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tonearm/internal/config"
	"tonearm/internal/history"
	"tonearm/internal/logging"
	"tonearm/internal/media"
	"tonearm/internal/progress"
)

// Runner executes a job's pipeline. Run returns the path of the staged
// output inside the work directory; Publish moves it to its final location.
type Runner interface {
	Run(ctx context.Context, job Job, reporter Reporter) (string, error)
	Publish(job Job, staged string) (string, error)
}

// Reporter is how a Runner reports state changes and progress.
type Reporter interface {
	SetState(state State)
	Progress(update progress.Update)
}

// Recorder receives an audit record for every terminal job.
type Recorder interface {
	Record(ctx context.Context, entry history.Entry) error
}

// ErrDuplicateJob is returned by Submit for an id that is already active.
var ErrDuplicateJob = errors.New("job id already active")

// ErrStopped is returned by Submit and Start after Stop.
var ErrStopped = errors.New("workflow manager stopped")

// Option configures a Manager.
type Option func(*Manager)

// WithHistory records terminal jobs.
func WithHistory(recorder Recorder) Option {
	return func(m *Manager) {
		m.history = recorder
	}
}

// WithWorkers overrides jobs.max_concurrent.
func WithWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.workers = n
		}
	}
}

type jobRecord struct {
	job    Job
	handle *Handle
	// claimed is set when a worker dequeues the job; cancel is set once its
	// context exists.
	claimed    bool
	finalizing bool
	cancel     context.CancelFunc
	exited     chan struct{}
}

// Manager runs submitted jobs on a bounded worker pool.
type Manager struct {
	runner         Runner
	logger         *slog.Logger
	history        Recorder
	workers        int
	workDir        string
	cleanupTimeout time.Duration
	orphanMaxAge   time.Duration
	defaultFormat  media.Format
	defaultAspect  media.Aspect
	now            func() time.Time

	// mu guards the cancellation registry, the active map and the FIFO.
	mu      sync.Mutex
	marks   map[string]struct{}
	active  map[string]*jobRecord
	pending []*jobRecord
	closed  bool
	wake    chan struct{}

	runMu     sync.Mutex
	running   bool
	stopped   bool
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
	bg        sync.WaitGroup
}

// NewManager constructs a manager from cfg. Workers start on Start.
func NewManager(cfg *config.Config, runner Runner, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		runner:         runner,
		logger:         logging.NewComponentLogger(logger, "workflow"),
		workers:        cfg.Jobs.MaxConcurrent,
		workDir:        cfg.Paths.WorkDir,
		cleanupTimeout: time.Duration(cfg.Jobs.CancelCleanupTimeoutMs) * time.Millisecond,
		orphanMaxAge:   time.Duration(cfg.Cleanup.OrphanMaxAge) * time.Second,
		defaultFormat:  media.Format(cfg.Jobs.DefaultFormat),
		defaultAspect:  media.Aspect(cfg.Jobs.DefaultAspect),
		now:            time.Now,
		marks:          make(map[string]struct{}),
		active:         make(map[string]*jobRecord),
		wake:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.workers <= 0 {
		m.workers = 1
	}
	if m.cleanupTimeout <= 0 {
		m.cleanupTimeout = 2 * time.Second
	}
	return m
}

// Submit validates job, assigns an id when none was given and queues it.
func (m *Manager) Submit(job Job) (*Handle, error) {
	if err := job.normalize(m.defaultFormat, m.defaultAspect); err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	rec := &jobRecord{job: job, handle: newHandle(job, m.now()), exited: make(chan struct{})}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrStopped
	}
	if _, exists := m.active[job.ID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	m.active[job.ID] = rec
	m.pending = append(m.pending, rec)
	queued := len(m.pending)
	m.mu.Unlock()
	m.signal()

	m.logger.Info("job queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("kind", string(job.Kind)),
		logging.String("format", string(job.Format)),
		logging.Int("queue_depth", queued),
		logging.String(logging.FieldEventType, "job_queued"),
	)
	return rec.handle, nil
}

// Cancel marks id as cancelled and stops the job if it is queued or running.
// The mark is kept even when Cancel returns false, so a job submitted later
// with the same id is cancelled the moment a worker picks it up.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	m.marks[id] = struct{}{}
	rec, ok := m.active[id]
	if !ok || rec.finalizing {
		m.mu.Unlock()
		m.logger.Debug("cancel recorded for inactive job", logging.String(logging.FieldJobID, id))
		return false
	}
	if !rec.claimed {
		m.removePendingLocked(rec)
		rec.finalizing = true
		m.mu.Unlock()
		m.logger.Info("queued job cancelled",
			logging.String(logging.FieldJobID, id),
			logging.String(logging.FieldEventType, "job_cancel_requested"))
		m.bg.Add(1)
		go func() {
			defer m.bg.Done()
			m.finalize(context.Background(), rec, "", cancelledError("cancelled while queued"))
		}()
		return true
	}
	cancel := rec.cancel
	m.mu.Unlock()

	m.logger.Info("cancelling running job",
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldEventType, "job_cancel_requested"))
	if cancel != nil {
		cancel()
		m.scheduleCleanup(rec)
	}
	return true
}

// Active lists queued and running jobs in submission order.
func (m *Manager) Active() []Snapshot {
	m.mu.Lock()
	snaps := make([]Snapshot, 0, len(m.active))
	for _, rec := range m.active {
		snaps = append(snaps, rec.handle.Snapshot())
	}
	m.mu.Unlock()
	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].SubmittedAt.Equal(snaps[j].SubmittedAt) {
			return snaps[i].SubmittedAt.Before(snaps[j].SubmittedAt)
		}
		return snaps[i].ID < snaps[j].ID
	})
	return snaps
}

// IsMarked reports whether a cancellation mark is held for id.
func (m *Manager) IsMarked(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.marks[id]
	return ok
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// dequeue pops the oldest pending job and claims it for the caller.
func (m *Manager) dequeue() *jobRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	rec := m.pending[0]
	m.pending[0] = nil
	m.pending = m.pending[1:]
	rec.claimed = true
	if len(m.pending) > 0 {
		m.signal()
	}
	return rec
}

func (m *Manager) removePendingLocked(target *jobRecord) {
	for i, rec := range m.pending {
		if rec == target {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}
