package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Workers:                 2,
		QueueSize:               8,
		MaxRetries:              2,
		RetryDelay:              time.Millisecond,
		GracefulShutdownTimeout: time.Second,
	}
}

func TestSubmitWaitReturnsAfterProcessing(t *testing.T) {
	var processed int64
	pool, err := New(testConfig(), func(ctx context.Context, job *Job) *Outcome {
		atomic.AddInt64(&processed, 1)
		return &Outcome{JobID: job.ID, Success: true}
	}, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Start()
	defer pool.Stop()

	outcome, err := pool.SubmitWait(context.Background(), &Job{ID: "exam-1"})
	if err != nil {
		t.Fatalf("submit wait: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("outcome not successful: %v", outcome.Error)
	}
	// The handler must have run before SubmitWait returned; the caller
	// commits its message offset on this guarantee.
	if got := atomic.LoadInt64(&processed); got != 1 {
		t.Errorf("processed = %d, want 1", got)
	}
	if stats := pool.Stats(); stats.JobsCompleted != 1 {
		t.Errorf("jobs completed = %d, want 1", stats.JobsCompleted)
	}
}

func TestSubmitWaitRetriesTransientFailure(t *testing.T) {
	var attempts int64
	pool, err := New(testConfig(), func(ctx context.Context, job *Job) *Outcome {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return &Outcome{JobID: job.ID, Error: errors.New("team endpoint flapping")}
		}
		return &Outcome{JobID: job.ID, Success: true}
	}, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Start()
	defer pool.Stop()

	outcome, err := pool.SubmitWait(context.Background(), &Job{ID: "exam-2"})
	if err != nil {
		t.Fatalf("submit wait: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success after retries, got %v", outcome.Error)
	}
	if stats := pool.Stats(); stats.JobsRetried != 2 {
		t.Errorf("jobs retried = %d, want 2", stats.JobsRetried)
	}
}

func TestSubmitWaitSurfacesExhaustedRetries(t *testing.T) {
	sentinel := errors.New("team endpoint down")
	pool, err := New(testConfig(), func(ctx context.Context, job *Job) *Outcome {
		return &Outcome{JobID: job.ID, Error: sentinel}
	}, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Start()
	defer pool.Stop()

	outcome, err := pool.SubmitWait(context.Background(), &Job{ID: "exam-3"})
	if err != nil {
		t.Fatalf("submit wait: %v", err)
	}
	if outcome.Success {
		t.Fatal("expected failed outcome")
	}
	// The caller sees the failure and leaves the offset uncommitted.
	if !errors.Is(outcome.Error, sentinel) {
		t.Errorf("outcome error = %v, want wrapped %v", outcome.Error, sentinel)
	}
	if stats := pool.Stats(); stats.JobsFailed != 1 {
		t.Errorf("jobs failed = %d, want 1", stats.JobsFailed)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	pool, err := New(testConfig(), func(ctx context.Context, job *Job) *Outcome {
		return &Outcome{JobID: job.ID, Success: true}
	}, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	pool.Start()
	pool.Stop()

	if err := pool.Submit(&Job{ID: "exam-4"}); err == nil {
		t.Error("expected submit to fail after stop")
	}
}
