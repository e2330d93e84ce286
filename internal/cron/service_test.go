package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/angelmondragon/storyline-backend/pkg/logger"
	"github.com/angelmondragon/storyline-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	f.acquired++
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.released++
	return nil
}

type testJob struct {
	name  string
	err   error
	runs  int
	onRun func(ctx context.Context)
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	t.runs++
	if t.onRun != nil {
		t.onRun(ctx)
	}
	return t.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "refund-retry"}
	failing := &testJob{name: "checkout-sweep", err: errors.New("boom")}
	lock := &fakeLock{}
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(failing, ok),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if ok.runs != 1 || failing.runs != 1 {
		t.Fatalf("expected both jobs to run once, got %d and %d", ok.runs, failing.runs)
	}
	if lock.acquired != 1 || lock.released != 1 {
		t.Fatalf("expected lock acquired and released once, got %d/%d", lock.acquired, lock.released)
	}
	count, err := testutil.GatherAndCount(reg, "storyline_cron_job_runs_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected a failed and a succeeded series, got %d", count)
	}
	cycles, err := testutil.GatherAndCount(reg, "storyline_cron_cycles_total")
	if err != nil {
		t.Fatalf("gather cycles: %v", err)
	}
	if cycles != 1 {
		t.Fatalf("expected one cycle series, got %d", cycles)
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "refund-retry"}
	lock := &fakeLock{held: true}
	service, err := NewService(ServiceParams{Logger: testLogger(), Registry: NewRegistry(job), Lock: lock})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job to be skipped, ran %d", job.runs)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &testJob{name: "checkout-sweep", onRun: func(context.Context) { cancel() }}
	second := &testJob{name: "refund-retry"}
	lock := &fakeLock{}
	service, err := NewService(ServiceParams{Logger: testLogger(), Registry: NewRegistry(first, second), Lock: lock})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if first.runs != 1 || second.runs != 0 {
		t.Fatalf("expected cancel to stop the cycle, runs %d/%d", first.runs, second.runs)
	}
	if lock.released != 1 {
		t.Fatalf("expected lock released after cancel, got %d", lock.released)
	}
}

func TestRunOnceRecoversPanickingJob(t *testing.T) {
	panicky := &testJob{name: "checkout-sweep", onRun: func(context.Context) { panic("nil checkout") }}
	after := &testJob{name: "refund-retry"}
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(panicky, after),
		Lock:     &fakeLock{},
		Metrics:  metrics.NewJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if after.runs != 1 {
		t.Fatal("expected job after the panic to run")
	}
}

func TestJobTimeoutCappedByInterval(t *testing.T) {
	var deadline time.Time
	job := &testJob{name: "refund-retry", onRun: func(ctx context.Context) { deadline, _ = ctx.Deadline() }}
	service, err := NewService(ServiceParams{
		Logger:     testLogger(),
		Registry:   NewRegistry(job),
		Lock:       &fakeLock{},
		Interval:   time.Minute,
		JobTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if service.jobTimeout != time.Minute {
		t.Fatalf("expected timeout capped at interval, got %v", service.jobTimeout)
	}
	start := time.Now()
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if deadline.IsZero() || deadline.Sub(start) > time.Minute+time.Second {
		t.Fatalf("unexpected job deadline %v", deadline)
	}
}

func TestNewServiceRequiresLoggerAndLock(t *testing.T) {
	if _, err := NewService(ServiceParams{Lock: &fakeLock{}}); err == nil {
		t.Fatal("expected missing logger to fail")
	}
	if _, err := NewService(ServiceParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected missing lock to fail")
	}
}
