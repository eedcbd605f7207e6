package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/models"
)

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	q := New("test", opts, common.NewSilentLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	return q
}

func waitTerminal(t *testing.T, q *Queue, id string) *models.Job {
	t.Helper()
	select {
	case job := <-q.Wait(id):
		require.NotNil(t, job)
		return job
	case <-time.After(10 * time.Second):
		t.Fatalf("job %s did not reach a terminal status", id)
		return nil
	}
}

func TestAddJobAndComplete(t *testing.T) {
	q := newTestQueue(t, Options{})
	q.RegisterProcessor("echo", func(ctx context.Context, h *Handle) (any, error) {
		return h.Payload(), nil
	})

	id, err := q.AddJob("echo", "hello", AddOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "hello", job.Result)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, 100, job.Progress)
	assert.Empty(t, job.Errors)

	// Terminal jobs stay findable through the archive.
	archived, err := q.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, archived.Status)
}

func TestAddJobUnregisteredType(t *testing.T) {
	q := newTestQueue(t, Options{})
	_, err := q.AddJob("nope", nil, AddOptions{})
	assert.ErrorIs(t, err, ErrNoProcessor)
}

func TestAddJobQueueFull(t *testing.T) {
	q := newTestQueue(t, Options{MaxJobs: 2, Concurrency: 1})
	gate := make(chan struct{})
	q.RegisterProcessor("slow", func(ctx context.Context, h *Handle) (any, error) {
		<-gate
		return nil, nil
	})

	_, err := q.AddJob("slow", nil, AddOptions{})
	require.NoError(t, err)
	_, err = q.AddJob("slow", nil, AddOptions{})
	require.NoError(t, err)

	_, err = q.AddJob("slow", nil, AddOptions{})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(gate)
}

func TestRetryableErrorRetriesUntilSuccess(t *testing.T) {
	q := newTestQueue(t, Options{})
	var calls int32
	q.RegisterProcessor("flaky", func(ctx context.Context, h *Handle) (any, error) {
		if atomic.AddInt32(&calls, 1) < 2 {
			return nil, common.NewRetryableError("connection reset", nil)
		}
		return "ok", nil
	})

	id, err := q.AddJob("flaky", nil, AddOptions{MaxAttempts: 3})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Attempts)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, 1, job.Errors[0].Attempt)
}

func TestPermanentErrorFailsWithoutRetry(t *testing.T) {
	q := newTestQueue(t, Options{})
	var calls int32
	q.RegisterProcessor("broken", func(ctx context.Context, h *Handle) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, common.NewPermanentError("Invalid file format", nil)
	})

	id, err := q.AddJob("broken", nil, AddOptions{MaxAttempts: 5})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	require.Len(t, job.Errors, 1)
	assert.Contains(t, job.Errors[0].Message, "Invalid file format")
}

func TestRetriesExhaustAtMaxAttempts(t *testing.T) {
	q := newTestQueue(t, Options{})
	var calls int32
	q.RegisterProcessor("down", func(ctx context.Context, h *Handle) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, common.NewRetryableError("service unavailable", nil)
	})

	id, err := q.AddJob("down", nil, AddOptions{MaxAttempts: 2})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.Len(t, job.Errors, 2)
}

func TestUnknownErrorIsRetried(t *testing.T) {
	q := newTestQueue(t, Options{})
	var calls int32
	q.RegisterProcessor("odd", func(ctx context.Context, h *Handle) (any, error) {
		if atomic.AddInt32(&calls, 1) < 2 {
			return nil, errors.New("some inscrutable condition")
		}
		return nil, nil
	})

	id, err := q.AddJob("odd", nil, AddOptions{MaxAttempts: 2})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestJobTimeoutRecordsRetryableError(t *testing.T) {
	q := newTestQueue(t, Options{})
	release := make(chan struct{})
	defer close(release)
	q.RegisterProcessor("hang", func(ctx context.Context, h *Handle) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "late", nil
	})

	id, err := q.AddJob("hang", nil, AddOptions{Timeout: 50 * time.Millisecond, MaxAttempts: 1})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.Len(t, job.Errors, 1)
	assert.Contains(t, job.Errors[0].Message, "Job timeout after 50ms")
	assert.Nil(t, job.Result, "a timed-out attempt's result is discarded")
}

func TestHandlerPanicIsPermanent(t *testing.T) {
	q := newTestQueue(t, Options{})
	q.RegisterProcessor("boom", func(ctx context.Context, h *Handle) (any, error) {
		panic("kaboom")
	})

	id, err := q.AddJob("boom", nil, AddOptions{MaxAttempts: 3})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts, "panics are not retried")
	require.Len(t, job.Errors, 1)
	assert.Contains(t, job.Errors[0].Message, "handler panic")
}

func TestConcurrencyCeiling(t *testing.T) {
	q := newTestQueue(t, Options{Concurrency: 2})

	var current, peak int32
	q.RegisterProcessor("work", func(ctx context.Context, h *Handle) (any, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return nil, nil
	})

	var ids []string
	for i := 0; i < 6; i++ {
		id, err := q.AddJob("work", i, AddOptions{})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitTerminal(t, q, id)
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPriorityOrdering(t *testing.T) {
	q := newTestQueue(t, Options{Concurrency: 1})

	var mu sync.Mutex
	var order []string
	blockerStarted := make(chan struct{})
	release := make(chan struct{})

	q.RegisterProcessor("tracked", func(ctx context.Context, h *Handle) (any, error) {
		mu.Lock()
		order = append(order, h.Payload().(string))
		mu.Unlock()
		if h.Payload().(string) == "blocker" {
			close(blockerStarted)
			<-release
		}
		return nil, nil
	})

	_, err := q.AddJob("tracked", "blocker", AddOptions{})
	require.NoError(t, err)
	<-blockerStarted

	// Queued while the single slot is busy; dispatch order is by priority.
	lowID, err := q.AddJob("tracked", "low", AddOptions{Priority: models.PriorityLow})
	require.NoError(t, err)
	highID, err := q.AddJob("tracked", "high", AddOptions{Priority: models.PriorityCritical})
	require.NoError(t, err)
	normalID, err := q.AddJob("tracked", "normal", AddOptions{Priority: models.PriorityNormal})
	require.NoError(t, err)

	close(release)
	waitTerminal(t, q, highID)
	waitTerminal(t, q, normalID)
	waitTerminal(t, q, lowID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"blocker", "high", "normal", "low"}, order)
}

func TestSamePriorityRunsFIFO(t *testing.T) {
	q := newTestQueue(t, Options{Concurrency: 1})

	var mu sync.Mutex
	var order []string
	blockerStarted := make(chan struct{})
	release := make(chan struct{})

	q.RegisterProcessor("tracked", func(ctx context.Context, h *Handle) (any, error) {
		mu.Lock()
		order = append(order, h.Payload().(string))
		mu.Unlock()
		if h.Payload().(string) == "blocker" {
			close(blockerStarted)
			<-release
		}
		return nil, nil
	})

	_, err := q.AddJob("tracked", "blocker", AddOptions{})
	require.NoError(t, err)
	<-blockerStarted

	// Quick succession: CreatedAt may collide, admission order breaks the tie.
	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		id, err := q.AddJob("tracked", name, AddOptions{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	close(release)
	for _, id := range ids {
		waitTerminal(t, q, id)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"blocker", "a", "b", "c"}, order)
}

func TestDelayedJobWaitsForEligibility(t *testing.T) {
	q := newTestQueue(t, Options{})
	q.RegisterProcessor("later", func(ctx context.Context, h *Handle) (any, error) {
		return nil, nil
	})

	start := time.Now()
	id, err := q.AddJob("later", nil, AddOptions{Delay: 150 * time.Millisecond})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestCancelQueuedJob(t *testing.T) {
	q := newTestQueue(t, Options{})
	q.RegisterProcessor("later", func(ctx context.Context, h *Handle) (any, error) {
		return nil, nil
	})

	id, err := q.AddJob("later", nil, AddOptions{Delay: time.Hour})
	require.NoError(t, err)

	require.NoError(t, q.CancelJob(id))

	job, err := q.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)

	// Cancelled jobs resolve waiters.
	resolved := waitTerminal(t, q, id)
	assert.Equal(t, models.JobStatusCancelled, resolved.Status)

	// A second cancel no longer finds an active job.
	assert.ErrorIs(t, q.CancelJob(id), ErrJobNotFound)
}

func TestCancelProcessingJobRefused(t *testing.T) {
	q := newTestQueue(t, Options{})
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	q.RegisterProcessor("busy", func(ctx context.Context, h *Handle) (any, error) {
		close(started)
		<-release
		return nil, nil
	})

	id, err := q.AddJob("busy", nil, AddOptions{})
	require.NoError(t, err)
	<-started

	assert.ErrorIs(t, q.CancelJob(id), ErrJobRunning)
}

func TestProgressMonotonicPerAttempt(t *testing.T) {
	q := newTestQueue(t, Options{})
	q.RegisterProcessor("steps", func(ctx context.Context, h *Handle) (any, error) {
		h.SetProgress(40)
		h.SetProgress(10) // ignored, below current
		h.SetProgress(90)
		return nil, nil
	})

	id, err := q.AddJob("steps", nil, AddOptions{})
	require.NoError(t, err)

	job := waitTerminal(t, q, id)
	assert.Equal(t, 100, job.Progress, "completion forces 100")
}

func TestStatsCounters(t *testing.T) {
	q := newTestQueue(t, Options{})
	var calls int32
	q.RegisterProcessor("flaky", func(ctx context.Context, h *Handle) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, common.NewRetryableError("transient", nil)
		}
		return nil, nil
	})
	q.RegisterProcessor("broken", func(ctx context.Context, h *Handle) (any, error) {
		return nil, common.NewPermanentError("bad", nil)
	})

	id1, err := q.AddJob("flaky", nil, AddOptions{MaxAttempts: 3})
	require.NoError(t, err)
	id2, err := q.AddJob("broken", nil, AddOptions{})
	require.NoError(t, err)

	waitTerminal(t, q, id1)
	waitTerminal(t, q, id2)

	stats := q.Stats()
	assert.Equal(t, "test", stats.Name)
	assert.EqualValues(t, 2, stats.TotalJobs)
	assert.EqualValues(t, 1, stats.CompletedJobs)
	assert.EqualValues(t, 1, stats.FailedJobs)
	assert.EqualValues(t, 1, stats.RetriedJobs)
	assert.Equal(t, 0, stats.ActiveJobs)
	assert.False(t, stats.LastProcessedAt.IsZero())
}

func TestCompletedRingBounded(t *testing.T) {
	q := newTestQueue(t, Options{CompletedCap: 3, Concurrency: 1})
	q.RegisterProcessor("quick", func(ctx context.Context, h *Handle) (any, error) {
		return nil, nil
	})

	// Register each completion channel before the next job is admitted:
	// a completed job can fall out of the ring once newer jobs finish,
	// and a late Wait on an evicted job delivers nil.
	var ids []string
	var waits []<-chan *models.Job
	for i := 0; i < 5; i++ {
		id, err := q.AddJob("quick", i, AddOptions{})
		require.NoError(t, err)
		ids = append(ids, id)
		waits = append(waits, q.Wait(id))
	}
	for i, ch := range waits {
		select {
		case job := <-ch:
			require.NotNil(t, job, "job %s evicted before delivery", ids[i])
		case <-time.After(10 * time.Second):
			t.Fatalf("job %s did not reach a terminal status", ids[i])
		}
	}

	// Only the newest 3 completions remain findable.
	_, err := q.GetJob(ids[0])
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = q.GetJob(ids[4])
	assert.NoError(t, err)
}

func TestGetJobsFilter(t *testing.T) {
	q := newTestQueue(t, Options{})
	gate := make(chan struct{})
	defer close(gate)
	q.RegisterProcessor("held", func(ctx context.Context, h *Handle) (any, error) {
		<-gate
		return nil, nil
	})

	_, err := q.AddJob("held", nil, AddOptions{UserID: "alice", Delay: time.Hour})
	require.NoError(t, err)
	_, err = q.AddJob("held", nil, AddOptions{UserID: "bob", Delay: time.Hour})
	require.NoError(t, err)

	all := q.GetJobs(models.JobFilter{})
	assert.Len(t, all, 2)

	alice := q.GetJobs(models.JobFilter{UserID: "alice"})
	require.Len(t, alice, 1)
	assert.Equal(t, "alice", alice[0].UserID)

	queued := q.GetJobs(models.JobFilter{Status: models.JobStatusQueued})
	assert.Len(t, queued, 2)
}

func TestEventsPublishedInOrder(t *testing.T) {
	q := newTestQueue(t, Options{})
	q.RegisterProcessor("echo", func(ctx context.Context, h *Handle) (any, error) {
		return nil, nil
	})

	events, cancel := q.Events().Subscribe()
	defer cancel()

	id, err := q.AddJob("echo", nil, AddOptions{})
	require.NoError(t, err)
	waitTerminal(t, q, id)

	var types []string
	deadline := time.After(5 * time.Second)
	for len(types) < 3 {
		select {
		case ev := <-events:
			if ev.Job != nil && ev.Job.ID == id {
				types = append(types, ev.Type)
			}
		case <-deadline:
			t.Fatalf("timed out collecting events, got %v", types)
		}
	}
	assert.Equal(t, []string{models.EventJobAdded, models.EventJobStarted, models.EventJobCompleted}, types)
}

func TestShutdownDrainsAndRejectsNewJobs(t *testing.T) {
	q := New("drain", Options{}, common.NewSilentLogger())
	done := make(chan struct{})
	q.RegisterProcessor("slow", func(ctx context.Context, h *Handle) (any, error) {
		time.Sleep(100 * time.Millisecond)
		close(done)
		return nil, nil
	})

	id, err := q.AddJob("slow", nil, AddOptions{})
	require.NoError(t, err)

	// Let the handler actually start before shutting down.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	select {
	case <-done:
	default:
		t.Fatal("shutdown returned before the in-flight handler finished")
	}

	job, err := q.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	_, err = q.AddJob("slow", nil, AddOptions{})
	assert.ErrorIs(t, err, ErrShuttingDown)

	// Shutdown is idempotent.
	require.NoError(t, q.Shutdown(ctx))
}

func TestRetryDelaySchedule(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(1))
	assert.Equal(t, 2*time.Second, retryDelay(2))
	assert.Equal(t, 4*time.Second, retryDelay(3))
	assert.Equal(t, 8*time.Second, retryDelay(4))
	assert.Equal(t, time.Minute, retryDelay(7), "delay caps at one minute")
	assert.Equal(t, time.Second, retryDelay(0))
}

func TestWaitUnknownJobResolvesNil(t *testing.T) {
	q := newTestQueue(t, Options{})
	select {
	case job := <-q.Wait("missing"):
		assert.Nil(t, job)
	case <-time.After(time.Second):
		t.Fatal("Wait on unknown job did not resolve")
	}
}
