package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tonearm/internal/config"
	"tonearm/internal/history"
	"tonearm/internal/logging"
	"tonearm/internal/notifications"
	"tonearm/internal/preflight"
	"tonearm/internal/workflow"
)

// runJobs submits jobs to an in-process manager, renders their progress and
// prints one outcome line per job. SIGINT and SIGTERM cancel every job; the
// manager's cleanup finishes before runJobs returns.
func runJobs(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, runner workflow.Runner, jobs []workflow.Job) error {
	errOut := cmd.ErrOrStderr()

	checks := preflight.RunAll(cmd.Context(), cfg)
	for _, check := range checks {
		if !check.Passed && check.Advisory {
			fmt.Fprintf(errOut, "warning: %s: %s\n", check.Name, check.Detail)
		}
	}
	if blocking := preflight.Blocking(checks); len(blocking) > 0 {
		details := make([]string, 0, len(blocking))
		for _, check := range blocking {
			details = append(details, fmt.Sprintf("%s: %s", check.Name, check.Detail))
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(details, "; "))
	}

	var opts []workflow.Option
	store, err := history.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "job history unavailable", "history_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check cache_dir permissions"),
			logging.String(logging.FieldImpact, "finished jobs will not be recorded"),
		)
	} else {
		defer store.Close()
		opts = append(opts, workflow.WithHistory(store))
	}

	mgr := workflow.NewManager(cfg, runner, logger, opts...)
	if err := mgr.Start(context.Background()); err != nil {
		return err
	}
	defer mgr.Stop()

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	view := newProgressView(errOut, shouldColorize(errOut))
	handles := make([]*workflow.Handle, 0, len(jobs))
	for _, job := range jobs {
		handle, err := mgr.Submit(job)
		if err != nil {
			for _, submitted := range handles {
				mgr.Cancel(submitted.ID())
			}
			view.wait()
			return err
		}
		view.follow(handle, job)
		handles = append(handles, handle)
	}

	allDone := make(chan struct{})
	go func() {
		for _, handle := range handles {
			<-handle.Done()
		}
		close(allDone)
	}()

	interrupted := false
	select {
	case <-allDone:
	case <-sigCtx.Done():
		interrupted = true
		fmt.Fprintln(errOut, "Cancelling...")
		for _, handle := range handles {
			mgr.Cancel(handle.ID())
		}
		<-allDone
	}
	view.wait()

	results := collectResults(handles)
	failed := reportResults(cmd, jobs, handles, results)
	notifyResults(cfg, logger, jobs, results, time.Since(started))
	switch {
	case interrupted:
		return context.Canceled
	case failed == 0:
		return nil
	case len(handles) == 1:
		return errors.New("job failed")
	default:
		return fmt.Errorf("%d of %d jobs failed", failed, len(handles))
	}
}

func collectResults(handles []*workflow.Handle) []workflow.Result {
	results := make([]workflow.Result, 0, len(handles))
	for _, handle := range handles {
		result, _ := handle.Wait(context.Background())
		results = append(results, result)
	}
	return results
}

// reportResults prints each job's outcome and returns how many did not
// complete.
func reportResults(cmd *cobra.Command, jobs []workflow.Job, handles []*workflow.Handle, results []workflow.Result) int {
	out := cmd.OutOrStdout()
	failed := 0
	rows := make([][]string, 0, len(handles))
	for i, handle := range handles {
		result := results[i]
		outcome := result.OutputPath
		if result.State != workflow.StateComplete {
			failed++
			outcome = result.Message
			if result.ErrorKind != "" {
				outcome = fmt.Sprintf("%s (%s)", valueOrDash(result.Message), result.ErrorKind)
			}
		}
		rows = append(rows, []string{shortID(handle.ID()), jobLabel(jobs[i]), string(result.State), outcome})
	}

	if len(rows) == 1 {
		row := rows[0]
		if row[2] == string(workflow.StateComplete) {
			fmt.Fprintf(out, "Saved %s\n", row[3])
		} else {
			fmt.Fprintf(out, "%s %s: %s\n", row[1], row[2], row[3])
		}
		return failed
	}
	fmt.Fprint(out, renderTable([]column{
		{Header: "Job"},
		{Header: "Track", MaxWidth: 40},
		{Header: "State"},
		{Header: "Result", MaxWidth: 70},
	}, rows))
	fmt.Fprintln(out)
	return failed
}

// notifyResults pushes saved and failed jobs plus a batch summary to ntfy.
// Cancelled jobs are not reported. Delivery errors are only logged.
func notifyResults(cfg *config.Config, logger *slog.Logger, jobs []workflow.Job, results []workflow.Result, took time.Duration) {
	if !notifications.Enabled(cfg) {
		return
	}
	notifier := notifications.New(cfg)
	ctx := context.Background()
	warn := func(err error) {
		if err != nil {
			logging.WarnWithContext(logger, "notification not sent", "notification_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			)
		}
	}

	saved, failed := 0, 0
	for i, result := range results {
		switch result.State {
		case workflow.StateComplete:
			saved++
			warn(notifier.TrackSaved(ctx, jobLabel(jobs[i]), result.OutputPath))
		case workflow.StateError:
			failed++
			warn(notifier.JobFailed(ctx, jobLabel(jobs[i]), result.Message))
		}
	}
	warn(notifier.BatchFinished(ctx, saved, failed, took))
}

func jobLabel(job workflow.Job) string {
	switch {
	case job.Metadata.Artist != "" && job.Metadata.Title != "":
		return job.Metadata.Artist + " - " + job.Metadata.Title
	case job.Metadata.Title != "":
		return job.Metadata.Title
	default:
		return job.Reference
	}
}
