// Package scheduler drives periodic refreshes of the tool process
// manager. The core never retries; re-running reconciliation on a
// schedule is this package's whole job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/amadeuslabs/toolproxyd/internal/manager"
)

// Refresher is the manager surface the scheduler depends on.
type Refresher interface {
	Refresh(ctx context.Context) (*manager.RefreshResult, error)
}

// Schedule defines when refreshes run.
type Schedule struct {
	Kind     string        // "interval" or "cron"
	Interval time.Duration // for "interval"
	Expr     string        // standard cron expression, for "cron"
}

// Validate checks the schedule configuration.
func (s Schedule) Validate() error {
	switch s.Kind {
	case "interval":
		if s.Interval <= 0 {
			return fmt.Errorf("scheduler: interval must be positive")
		}
	case "cron":
		if _, err := cron.ParseStandard(s.Expr); err != nil {
			return fmt.Errorf("scheduler: bad cron expression %q: %w", s.Expr, err)
		}
	default:
		return fmt.Errorf("scheduler: unknown schedule kind %q", s.Kind)
	}
	return nil
}

// NextRun computes the next execution time after now.
func (s Schedule) NextRun(now time.Time) (time.Time, error) {
	switch s.Kind {
	case "interval":
		return now.Add(s.Interval), nil
	case "cron":
		spec, err := cron.ParseStandard(s.Expr)
		if err != nil {
			return time.Time{}, err
		}
		return spec.Next(now), nil
	default:
		return time.Time{}, fmt.Errorf("scheduler: unknown schedule kind %q", s.Kind)
	}
}

// State tracks runner execution history.
type State struct {
	LastRunAt  time.Time
	NextRunAt  time.Time
	RunCount   int64
	ErrorCount int64
	LastError  string
}

// Runner executes refreshes on schedule until stopped.
type Runner struct {
	schedule  Schedule
	refresher Refresher
	logger    *slog.Logger

	mu    sync.Mutex
	state State

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRunner creates a refresh runner.
func NewRunner(schedule Schedule, refresher Refresher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		schedule:  schedule,
		refresher: refresher,
		logger:    logger.With("component", "scheduler"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the schedule loop until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	defer close(r.doneCh)

	next, err := r.schedule.NextRun(time.Now())
	if err != nil {
		r.logger.Error("cannot compute next run", "error", err)
		return
	}
	r.setNextRun(next)
	r.logger.Info("refresh runner started", "next_run", next.Format(time.RFC3339))

	// Interval schedules tick at their own period; cron schedules are
	// checked against NextRunAt on a coarse tick.
	tick := r.schedule.Interval
	if r.schedule.Kind == "cron" {
		tick = 30 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresh runner stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Info("refresh runner stopped")
			return
		case now := <-ticker.C:
			if r.schedule.Kind == "cron" && now.Before(r.State().NextRunAt) {
				continue
			}
			r.runOnce(ctx)
			if next, err := r.schedule.NextRun(time.Now()); err == nil {
				r.setNextRun(next)
			}
		}
	}
}

// Stop halts the runner and waits for the loop to exit.
func (r *Runner) Stop() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	<-r.doneCh
}

// State returns a copy of the execution state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setNextRun(t time.Time) {
	r.mu.Lock()
	r.state.NextRunAt = t
	r.mu.Unlock()
}

func (r *Runner) runOnce(ctx context.Context) {
	start := time.Now()
	res, err := r.refresher.Refresh(ctx)

	r.mu.Lock()
	r.state.LastRunAt = start
	r.state.RunCount++
	if err != nil {
		r.state.ErrorCount++
		r.state.LastError = err.Error()
	} else {
		r.state.LastError = ""
	}
	r.mu.Unlock()

	if err != nil {
		// Never fatal; the next tick retries.
		r.logger.Warn("scheduled refresh failed", "error", err)
		return
	}
	r.logger.Info("scheduled refresh complete",
		"refresh_id", res.ID,
		"started", len(res.Started), "stopped", len(res.Stopped),
		"restarted", len(res.Restarted), "failed", len(res.Failed),
		"duration", time.Since(start),
	)
}
