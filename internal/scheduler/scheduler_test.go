package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amadeuslabs/toolproxyd/internal/manager"
)

type countingRefresher struct {
	calls atomic.Int64
	err   error
}

func (c *countingRefresher) Refresh(ctx context.Context) (*manager.RefreshResult, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &manager.RefreshResult{ID: "test"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduleValidate(t *testing.T) {
	cases := []struct {
		name    string
		s       Schedule
		wantErr bool
	}{
		{"interval ok", Schedule{Kind: "interval", Interval: time.Minute}, false},
		{"interval zero", Schedule{Kind: "interval"}, true},
		{"cron ok", Schedule{Kind: "cron", Expr: "*/5 * * * *"}, false},
		{"cron bad", Schedule{Kind: "cron", Expr: "not a cron"}, true},
		{"unknown kind", Schedule{Kind: "hourly"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.s.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestScheduleNextRun(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

	interval := Schedule{Kind: "interval", Interval: 10 * time.Minute}
	next, err := interval.NextRun(now)
	if err != nil {
		t.Fatal(err)
	}
	if !next.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("interval next run wrong: %v", next)
	}

	cronSched := Schedule{Kind: "cron", Expr: "*/5 * * * *"}
	next, err = cronSched.NextRun(now)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("cron next run: got %v, want %v", next, want)
	}
}

func TestRunnerRunsOnInterval(t *testing.T) {
	ref := &countingRefresher{}
	r := NewRunner(Schedule{Kind: "interval", Interval: 20 * time.Millisecond}, ref, testLogger())

	go r.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	r.Stop()

	if got := ref.calls.Load(); got < 2 {
		t.Errorf("expected at least 2 refreshes, got %d", got)
	}
	st := r.State()
	if st.RunCount != ref.calls.Load() {
		t.Errorf("state run count %d != refresher calls %d", st.RunCount, ref.calls.Load())
	}
	if st.ErrorCount != 0 {
		t.Errorf("unexpected errors: %d", st.ErrorCount)
	}
}

func TestRunnerSurvivesRefreshErrors(t *testing.T) {
	ref := &countingRefresher{err: errors.New("store down")}
	r := NewRunner(Schedule{Kind: "interval", Interval: 20 * time.Millisecond}, ref, testLogger())

	go r.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	r.Stop()

	st := r.State()
	if st.RunCount < 2 {
		t.Errorf("errors stopped the loop: only %d runs", st.RunCount)
	}
	if st.ErrorCount != st.RunCount {
		t.Errorf("expected every run to fail: %d errors of %d runs", st.ErrorCount, st.RunCount)
	}
	if st.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestRunnerStopsOnContextCancel(t *testing.T) {
	ref := &countingRefresher{}
	r := NewRunner(Schedule{Kind: "interval", Interval: 10 * time.Millisecond}, ref, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after context cancel")
	}
}

func TestRunnerStopIdempotent(t *testing.T) {
	r := NewRunner(Schedule{Kind: "interval", Interval: time.Hour}, &countingRefresher{}, testLogger())
	go r.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	r.Stop()
	r.Stop() // second stop must not panic or block
}
