package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"tonearm/internal/progress"
	"tonearm/internal/workflow"
)

// Acquisition owns the first 70% of a full download's bar and conversion the
// rest. Jobs that skip a phase give the whole bar to the phase they run.
const downloadShare = 70.0

const barScale = 1000

func aggregatePercent(job workflow.Job, u progress.Update) float64 {
	switch u.Stage {
	case progress.StageComplete:
		return 100
	case progress.StageDownloading:
		if job.RawOnly {
			return u.Percent
		}
		return u.Percent * downloadShare / 100
	case progress.StageConverting:
		if job.Kind == workflow.KindReencode {
			return u.Percent
		}
		return downloadShare + u.Percent*(100-downloadShare)/100
	default:
		return 0
	}
}

type jobProgress struct {
	job     workflow.Job
	state   workflow.State
	percent float64
	rate    string
}

// progressView folds the event streams of several jobs into one bar on a
// terminal, or into state-change lines otherwise.
type progressView struct {
	out io.Writer
	bar *progressbar.ProgressBar

	mu    sync.Mutex
	order []string
	jobs  map[string]*jobProgress
	wg    sync.WaitGroup
}

func newProgressView(out io.Writer, interactive bool) *progressView {
	v := &progressView{out: out, jobs: make(map[string]*jobProgress)}
	if interactive {
		v.bar = progressbar.NewOptions(barScale,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("starting"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionClearOnFinish(),
		)
	}
	return v
}

// follow consumes h's events until the handle closes them.
func (v *progressView) follow(h *workflow.Handle, job workflow.Job) {
	v.mu.Lock()
	v.order = append(v.order, h.ID())
	v.jobs[h.ID()] = &jobProgress{job: job, state: workflow.StateQueued}
	v.mu.Unlock()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		for event := range h.Events() {
			v.observe(event)
		}
	}()
}

func (v *progressView) observe(event workflow.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	jp, ok := v.jobs[event.JobID]
	if !ok {
		return
	}
	changed := event.State != jp.state
	jp.state = event.State
	if event.Progress.Stage != "" {
		jp.percent = aggregatePercent(jp.job, event.Progress)
		jp.rate = event.Progress.Rate
	}
	if event.State == workflow.StateComplete {
		jp.percent = 100
	}

	if v.bar == nil {
		if changed && !event.State.Terminal() {
			fmt.Fprintf(v.out, "%s: %s\n", shortID(event.JobID), event.State)
		}
		return
	}
	_ = v.bar.Set(int(v.overallLocked() * barScale / 100))
	v.bar.Describe(v.describeLocked())
}

func (v *progressView) overallLocked() float64 {
	if len(v.order) == 0 {
		return 0
	}
	var sum float64
	for _, id := range v.order {
		jp := v.jobs[id]
		if jp.state.Terminal() {
			sum += 100
			continue
		}
		sum += jp.percent
	}
	return sum / float64(len(v.order))
}

func (v *progressView) describeLocked() string {
	done := 0
	var current *jobProgress
	for _, id := range v.order {
		jp := v.jobs[id]
		if jp.state.Terminal() {
			done++
			continue
		}
		if current == nil && jp.state != workflow.StateQueued {
			current = jp
		}
	}
	desc := fmt.Sprintf("%d/%d done", done, len(v.order))
	if current != nil {
		desc += " | " + string(current.state)
		if current.rate != "" {
			desc += " " + current.rate
		}
	}
	return desc
}

// wait blocks until every followed handle has closed its events.
func (v *progressView) wait() {
	v.wg.Wait()
	if v.bar != nil {
		_ = v.bar.Finish()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
