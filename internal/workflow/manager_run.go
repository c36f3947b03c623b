package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"tonearm/internal/history"
	"tonearm/internal/logging"
	"tonearm/internal/progress"
	"tonearm/internal/services"
	"tonearm/internal/staging"
)

// Start sweeps orphaned artifacts from previous runs and launches the workers.
func (m *Manager) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if m.running {
		return fmt.Errorf("workflow already running")
	}

	swept := staging.CleanStale(ctx, m.workDir, m.orphanMaxAge, m.logger)
	if len(swept.Removed) > 0 {
		m.logger.Info("startup sweep removed orphaned artifacts",
			logging.Int("count", len(swept.Removed)),
			logging.String(logging.FieldEventType, "orphan_sweep"))
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancelRun = cancel
	m.running = true
	m.wg.Add(m.workers)
	for i := 0; i < m.workers; i++ {
		go m.worker(runCtx, i)
	}
	m.logger.Info("workflow started",
		logging.Int("workers", m.workers),
		logging.String("work_dir", m.workDir),
		logging.String(logging.FieldEventType, "workflow_started"))
	m.signal()
	return nil
}

// Stop cancels running jobs, waits for the workers and finalizes anything
// still queued as Cancelled.
func (m *Manager) Stop() {
	m.runMu.Lock()
	if m.stopped {
		m.runMu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancelRun
	m.running = false
	m.cancelRun = nil
	m.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.closed = true
	leftover := m.pending
	m.pending = nil
	for _, rec := range leftover {
		rec.finalizing = true
	}
	m.mu.Unlock()
	for _, rec := range leftover {
		m.finalize(context.Background(), rec, "", cancelledError("manager stopped"))
	}
	m.bg.Wait()
}

func (m *Manager) worker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", index))
	for {
		if ctx.Err() != nil {
			return
		}
		rec := m.dequeue()
		if rec == nil {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
			}
			continue
		}
		m.execute(ctx, rec, logger)
	}
}

func (m *Manager) execute(parent context.Context, rec *jobRecord, logger *slog.Logger) {
	id := rec.job.ID
	m.mu.Lock()
	if _, marked := m.marks[id]; marked {
		rec.finalizing = true
		m.mu.Unlock()
		close(rec.exited)
		m.finalize(parent, rec, "", cancelledError("cancelled before start"))
		return
	}
	ctx, cancel := context.WithCancel(services.WithJobID(parent, id))
	rec.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	jobLogger := logging.WithContext(ctx, logger)
	jobLogger.Info("job started",
		logging.String("kind", string(rec.job.Kind)),
		logging.String("reference", rec.job.Reference),
		logging.String(logging.FieldEventType, "job_started"))

	reporter := &jobReporter{m: m, rec: rec, logger: jobLogger, sampler: logging.NewProgressSampler(10)}
	staged, err := m.runSafely(ctx, rec, reporter, jobLogger)
	close(rec.exited)
	m.finalize(parent, rec, staged, err)
}

// runSafely turns a runner panic into an ordinary job failure.
func (m *Manager) runSafely(ctx context.Context, rec *jobRecord, reporter Reporter, logger *slog.Logger) (staged string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("runner panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "job_panic"))
			staged = ""
			err = fmt.Errorf("runner panic: %v", r)
		}
	}()
	return m.runner.Run(ctx, rec.job, reporter)
}

func (m *Manager) publishSafely(rec *jobRecord, staged string) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish panic: %v", r)
		}
	}()
	return m.runner.Publish(rec.job, staged)
}

// finalize settles the job's terminal state. A cancellation mark observed here
// overrides whatever the runner returned.
func (m *Manager) finalize(ctx context.Context, rec *jobRecord, staged string, runErr error) {
	id := rec.job.ID
	m.mu.Lock()
	_, cancelled := m.marks[id]
	rec.finalizing = true
	m.mu.Unlock()

	result := Result{ID: id}
	switch {
	case cancelled || services.KindOf(runErr) == services.KindCancelled:
		if services.KindOf(runErr) != services.KindCancelled {
			runErr = cancelledError("result discarded")
		}
		result.State = StateCancelled
		result.Err = runErr
	case runErr != nil:
		result.State = StateError
		result.Err = runErr
	default:
		output, err := m.publishSafely(rec, staged)
		if err != nil {
			result.State = StateError
			result.Err = err
		} else {
			result.State = StateComplete
			result.OutputPath = output
		}
	}
	if result.Err != nil {
		result.ErrorKind = services.KindOf(result.Err)
		result.Message = services.UserMessage(result.Err)
	}

	logger := m.logger.With(logging.String(logging.FieldJobID, id))
	staging.CleanPrefix(m.workDir, rec.job.Prefix(), logger)

	finished := m.now()
	m.record(ctx, rec, result, finished, logger)

	m.mu.Lock()
	delete(m.marks, id)
	delete(m.active, id)
	m.mu.Unlock()
	rec.handle.finish(result, finished)

	switch result.State {
	case StateComplete:
		logger.Info("job complete",
			logging.String("output", result.OutputPath),
			logging.String(logging.FieldEventType, "job_completed"))
	case StateCancelled:
		logger.Info("job cancelled", logging.String(logging.FieldEventType, "job_cancelled"))
	default:
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.String(logging.FieldErrorKind, string(result.ErrorKind)),
			logging.String("message", result.Message),
			logging.Error(result.Err),
			logging.String(logging.FieldErrorHint, hintFor(result.ErrorKind)),
		)
	}
}

// scheduleCleanup removes a cancelled job's artifacts once its engine process
// has exited, or after cleanupTimeout if it has not.
func (m *Manager) scheduleCleanup(rec *jobRecord) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		timer := time.NewTimer(m.cleanupTimeout)
		defer timer.Stop()
		select {
		case <-rec.exited:
		case <-timer.C:
			m.logger.Warn("job did not exit before cleanup deadline",
				logging.String(logging.FieldJobID, rec.job.ID),
				logging.Duration("timeout", m.cleanupTimeout),
				logging.String(logging.FieldEventType, "cancel_cleanup_timeout"),
				logging.String(logging.FieldErrorHint, "engine may ignore SIGKILL while in uninterruptible IO"),
				logging.String(logging.FieldImpact, "artifacts written after this point are removed by finalization or the next startup sweep"),
			)
		}
		staging.CleanPrefix(m.workDir, rec.job.Prefix(), m.logger)
	}()
}

func (m *Manager) record(ctx context.Context, rec *jobRecord, result Result, finished time.Time, logger *slog.Logger) {
	if m.history == nil {
		return
	}
	snap := rec.handle.Snapshot()
	started := snap.StartedAt
	if started.IsZero() {
		started = snap.SubmittedAt
	}
	entry := history.Entry{
		JobID:        rec.job.ID,
		Kind:         string(rec.job.Kind),
		Reference:    rec.job.Reference,
		Title:        rec.job.Metadata.Title,
		Artist:       rec.job.Metadata.Artist,
		Album:        rec.job.Metadata.Album,
		Format:       string(rec.job.Format),
		State:        string(result.State),
		ErrorKind:    string(result.ErrorKind),
		ErrorMessage: result.Message,
		OutputPath:   result.OutputPath,
		StartedAt:    started,
		FinishedAt:   finished,
	}
	recordCtx := context.WithoutCancel(ctx)
	if err := m.history.Record(recordCtx, entry); err != nil {
		logging.WarnWithContext(logger, "history record failed", "history_record_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check cache_dir permissions"),
			logging.String(logging.FieldImpact, "job missing from history"),
		)
	}
}

func cancelledError(detail string) error {
	return services.Wrap(services.ErrCancelled, "workflow", "cancel", detail, nil)
}

func hintFor(kind services.Kind) string {
	switch kind {
	case services.KindDependencyMissing:
		return "run tonearm status to see which engine is missing"
	case services.KindAcquisitionTimeout, services.KindTranscodeTimeout:
		return "raise the timeout in the jobs config section"
	case services.KindValidation:
		return "check the job parameters"
	default:
		return "see the engine diagnostic in the job message"
	}
}

type jobReporter struct {
	m      *Manager
	rec    *jobRecord
	logger *slog.Logger

	mu      sync.Mutex
	sampler *logging.ProgressSampler
}

func (r *jobReporter) SetState(state State) {
	if r.rec.handle.advance(state, r.m.now()) {
		r.logger.Debug("job state changed",
			logging.String("state", string(state)),
			logging.String(logging.FieldEventType, "job_state"))
	}
}

func (r *jobReporter) Progress(update progress.Update) {
	r.rec.handle.report(update)
	r.mu.Lock()
	emit := r.sampler.ShouldLog(update.Percent, string(update.Stage))
	r.mu.Unlock()
	if emit {
		r.logger.Info("job progress",
			logging.String(logging.FieldStage, string(update.Stage)),
			logging.Float64("percent", update.Percent),
			logging.String("rate", update.Rate),
			logging.String("eta", update.ETA),
			logging.String(logging.FieldEventType, "job_progress"))
	}
}
