// Package queue implements a named, in-memory priority job queue with bounded
// concurrency, per-job timeouts, and classified retry with exponential backoff.
package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/models"
)

// Admission errors.
var (
	ErrQueueFull    = common.NewAppError(http.StatusServiceUnavailable, "queue_full", "queue is full")
	ErrNoProcessor  = common.NewAppError(http.StatusBadRequest, "no_processor", "no processor registered for job type")
	ErrShuttingDown = common.NewAppError(http.StatusServiceUnavailable, "shutting_down", "queue is shutting down")
	ErrJobNotFound  = common.NewAppError(http.StatusNotFound, "job_not_found", "job not found")
	ErrJobRunning   = common.NewAppError(http.StatusConflict, "job_processing", "job is processing and cannot be cancelled")
	ErrJobTerminal  = common.NewAppError(http.StatusConflict, "job_terminal", "job already reached a terminal status")
)

// Handler executes one job. It receives the job's payload through the handle
// and must be resumable: the queue makes no effort to undo partial side
// effects before a retry.
type Handler func(ctx context.Context, h *Handle) (any, error)

// Handle is the job's view given to a handler. Progress updates flow back
// through the owning queue.
type Handle struct {
	jobID   string
	payload any
	userID  string
	meta    map[string]any
	q       *Queue
}

// ID returns the job id.
func (h *Handle) ID() string { return h.jobID }

// Payload returns the opaque handler input.
func (h *Handle) Payload() any { return h.payload }

// UserID returns the submitting user, if any.
func (h *Handle) UserID() string { return h.userID }

// Metadata returns the job's free-form metadata map.
func (h *Handle) Metadata() map[string]any { return h.meta }

// SetProgress records progress 0..100. Values below the current progress of
// the attempt are ignored so progress stays non-decreasing per attempt.
func (h *Handle) SetProgress(p int) { h.q.setProgress(h.jobID, p) }

// Options tunes a queue at creation.
type Options struct {
	Concurrency       int           // max simultaneous handlers, default 5
	MaxJobs           int           // admission cap on active jobs, default 1000
	DefaultTimeout    time.Duration // per-job timeout when the job sets none, default 5m
	RetrySweep        time.Duration // retry promotion interval, default 30s
	HousekeepInterval time.Duration // archive eviction interval, default 60s
	ArchiveTTL        time.Duration // archived job retention, default 24h
	CompletedCap      int           // completed ring capacity, default 100
	FailedCap         int           // failed ring capacity, default 50
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.MaxJobs <= 0 {
		o.MaxJobs = 1000
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 5 * time.Minute
	}
	if o.RetrySweep <= 0 {
		o.RetrySweep = 30 * time.Second
	}
	if o.HousekeepInterval <= 0 {
		o.HousekeepInterval = time.Minute
	}
	if o.ArchiveTTL <= 0 {
		o.ArchiveTTL = 24 * time.Hour
	}
	if o.CompletedCap <= 0 {
		o.CompletedCap = 100
	}
	if o.FailedCap <= 0 {
		o.FailedCap = 50
	}
	return o
}

// AddOptions tunes a single job admission.
type AddOptions struct {
	Priority    int           // models.PriorityNormal when zero
	UserID      string        //
	MaxAttempts int           // default 3
	Delay       time.Duration // wait before first eligibility
	Timeout     time.Duration // handler deadline, queue default when zero
	Metadata    map[string]any
}

// archived pairs a job with its archive insertion time for TTL eviction.
type archived struct {
	job        *models.Job
	archivedAt time.Time
}

// Queue owns a set of jobs, a bounded processing set, and terminal archives.
// All state transitions happen in its critical section; only handler
// execution runs concurrently.
type Queue struct {
	name   string
	opts   Options
	logger *common.Logger

	mu         sync.Mutex
	jobs       map[string]*models.Job // active: queued, processing, retrying
	seq        map[string]uint64      // admission order for FIFO tie-breaks
	nextSeq    uint64
	processing map[string]bool
	completed  []archived
	failed     []archived
	handlers   map[string]Handler
	waiters    map[string][]chan *models.Job
	closed     bool

	totalJobs       int64
	completedJobs   int64
	failedJobs      int64
	retriedJobs     int64
	totalProcessMS  int64
	lastProcessedAt time.Time

	hub       *Hub
	wake      chan struct{}
	stop      chan struct{}
	loopWG    sync.WaitGroup // scheduler + housekeeping
	handlerWG sync.WaitGroup // in-flight handlers
}

// New creates and starts a queue.
func New(name string, opts Options, logger *common.Logger) *Queue {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	q := &Queue{
		name:       name,
		opts:       opts.withDefaults(),
		logger:     logger,
		jobs:       make(map[string]*models.Job),
		seq:        make(map[string]uint64),
		processing: make(map[string]bool),
		handlers:   make(map[string]Handler),
		waiters:    make(map[string][]chan *models.Job),
		hub:        NewHub(logger),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}

	q.loopWG.Add(2)
	go q.schedulerLoop()
	go q.housekeepLoop()

	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Events returns the queue's event hub for subscription.
func (q *Queue) Events() *Hub { return q.hub }

// RegisterProcessor binds a job type to a handler. Re-registering replaces
// the handler for all future dispatches.
func (q *Queue) RegisterProcessor(jobType string, handler Handler) {
	q.mu.Lock()
	q.handlers[jobType] = handler
	q.mu.Unlock()
}

// AddJob admits a job. Fails with ErrQueueFull past the active cap and
// ErrNoProcessor for unregistered types.
func (q *Queue) AddJob(jobType string, payload any, opts AddOptions) (string, error) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return "", ErrShuttingDown
	}
	if _, ok := q.handlers[jobType]; !ok {
		q.mu.Unlock()
		return "", ErrNoProcessor
	}
	if len(q.jobs) >= q.opts.MaxJobs {
		q.mu.Unlock()
		return "", ErrQueueFull
	}

	now := time.Now()
	priority := opts.Priority
	if priority == 0 {
		priority = models.PriorityNormal
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = q.opts.DefaultTimeout
	}

	job := &models.Job{
		ID:            uuid.New().String(),
		Type:          jobType,
		Queue:         q.name,
		Priority:      priority,
		Status:        models.JobStatusQueued,
		UserID:        opts.UserID,
		Payload:       payload,
		MaxAttempts:   maxAttempts,
		Timeout:       timeout,
		Delay:         opts.Delay,
		Metadata:      opts.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
		NextAttemptAt: now.Add(opts.Delay),
	}

	q.jobs[job.ID] = job
	q.seq[job.ID] = q.nextSeq
	q.nextSeq++
	q.totalJobs++

	snapshot := cloneJob(job)
	size := len(q.jobs)
	q.mu.Unlock()

	q.hub.Publish(models.JobEvent{
		Type:      models.EventJobAdded,
		Queue:     q.name,
		Job:       snapshot,
		Timestamp: now,
		QueueSize: size,
	})

	q.kick()
	return job.ID, nil
}

// GetJob returns a snapshot of a job from the active set or the archives.
func (q *Queue) GetJob(id string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job, ok := q.jobs[id]; ok {
		return cloneJob(job), nil
	}
	for _, a := range q.completed {
		if a.job.ID == id {
			return cloneJob(a.job), nil
		}
	}
	for _, a := range q.failed {
		if a.job.ID == id {
			return cloneJob(a.job), nil
		}
	}
	return nil, ErrJobNotFound
}

// GetJobs returns snapshots of active jobs matching the filter.
func (q *Queue) GetJobs(filter models.JobFilter) []*models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.Job
	for _, job := range q.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CancelJob cancels a queued or retrying job. Processing jobs cannot be
// cancelled; cancelling twice is an error. Cancelled jobs archive alongside
// failures so GetJob can still find them.
func (q *Queue) CancelJob(id string) error {
	q.mu.Lock()

	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if job.Status == models.JobStatusProcessing {
		q.mu.Unlock()
		return ErrJobRunning
	}

	now := time.Now()
	job.Status = models.JobStatusCancelled
	job.UpdatedAt = now
	job.CompletedAt = now
	delete(q.jobs, id)
	delete(q.seq, id)
	q.failed = pushRing(q.failed, archived{job: job, archivedAt: now}, q.opts.FailedCap)

	snapshot := cloneJob(job)
	size := len(q.jobs)
	q.resolveWaitersLocked(job)
	q.mu.Unlock()

	q.hub.Publish(models.JobEvent{
		Type:      models.EventJobCancelled,
		Queue:     q.name,
		Job:       snapshot,
		Timestamp: now,
		QueueSize: size,
	})
	return nil
}

// Stats returns an instantaneous counter snapshot.
func (q *Queue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var avg float64
	if q.completedJobs > 0 {
		avg = float64(q.totalProcessMS) / float64(q.completedJobs)
	}
	return models.QueueStats{
		Name:            q.name,
		ActiveJobs:      len(q.jobs),
		ProcessingJobs:  len(q.processing),
		TotalJobs:       q.totalJobs,
		CompletedJobs:   q.completedJobs,
		FailedJobs:      q.failedJobs,
		RetriedJobs:     q.retriedJobs,
		AvgProcessingMS: avg,
		LastProcessedAt: q.lastProcessedAt,
	}
}

// Wait returns a channel that receives the job's terminal snapshot once and
// is then closed. For an already-terminal or unknown job the snapshot (or
// nil) is delivered immediately.
func (q *Queue) Wait(id string) <-chan *models.Job {
	ch := make(chan *models.Job, 1)

	q.mu.Lock()
	if _, ok := q.jobs[id]; ok {
		q.waiters[id] = append(q.waiters[id], ch)
		q.mu.Unlock()
		return ch
	}
	q.mu.Unlock()

	// Not active: terminal already, or never existed.
	if job, err := q.GetJob(id); err == nil {
		ch <- job
	} else {
		ch <- nil
	}
	close(ch)
	return ch
}

// Shutdown stops admission, waits for the processing set to drain, then stops
// the background loops. There is no forced handler termination.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.handlerWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("queue %s shutdown: %w", q.name, ctx.Err())
	}

	close(q.stop)
	q.loopWG.Wait()
	q.hub.Close()

	q.logger.Info().Str("queue", q.name).Msg("Queue shut down")
	return nil
}

// kick wakes the scheduler without blocking.
func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// schedulerLoop is the queue's single scheduling goroutine. It wakes on
// admission, completion, retry eligibility, and the periodic sweep.
func (q *Queue) schedulerLoop() {
	defer q.loopWG.Done()

	sweep := time.NewTicker(q.opts.RetrySweep)
	defer sweep.Stop()

	for {
		q.dispatchReady()

		wait := q.nextEligibleDelay()
		var timer <-chan time.Time
		if wait > 0 {
			t := time.NewTimer(wait)
			timer = t.C
			select {
			case <-q.stop:
				t.Stop()
				return
			case <-q.wake:
				t.Stop()
			case <-timer:
			case <-sweep.C:
				t.Stop()
			}
			continue
		}

		select {
		case <-q.stop:
			return
		case <-q.wake:
		case <-sweep.C:
		}
	}
}

// nextEligibleDelay returns how long until the earliest waiting job becomes
// eligible, or 0 when nothing is waiting on a timer.
func (q *Queue) nextEligibleDelay() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var next time.Time
	for _, job := range q.jobs {
		if job.Status != models.JobStatusQueued && job.Status != models.JobStatusRetrying {
			continue
		}
		if !job.NextAttemptAt.After(now) {
			continue // already eligible; dispatch limited by concurrency
		}
		if next.IsZero() || job.NextAttemptAt.Before(next) {
			next = job.NextAttemptAt
		}
	}
	if next.IsZero() {
		return 0
	}
	return time.Until(next)
}

// dispatchReady fills free concurrency slots with the highest-priority
// eligible jobs. Strict priority first, then FIFO by creation, then
// admission order.
func (q *Queue) dispatchReady() {
	for {
		q.mu.Lock()

		if q.closed || len(q.processing) >= q.opts.Concurrency {
			q.mu.Unlock()
			return
		}

		now := time.Now()
		var best *models.Job
		for _, job := range q.jobs {
			eligible := (job.Status == models.JobStatusQueued || job.Status == models.JobStatusRetrying) &&
				!job.NextAttemptAt.After(now)
			if !eligible {
				continue
			}
			if best == nil || q.beatsLocked(job, best) {
				best = job
			}
		}
		if best == nil {
			q.mu.Unlock()
			return
		}

		best.Status = models.JobStatusProcessing
		best.StartedAt = now
		best.UpdatedAt = now
		best.Attempts++
		best.Progress = 0
		q.processing[best.ID] = true

		handler := q.handlers[best.Type]
		h := &Handle{
			jobID:   best.ID,
			payload: best.Payload,
			userID:  best.UserID,
			meta:    best.Metadata,
			q:       q,
		}
		snapshot := cloneJob(best)
		timeout := best.Timeout
		size := len(q.jobs)

		q.handlerWG.Add(1)
		q.mu.Unlock()

		q.hub.Publish(models.JobEvent{
			Type:      models.EventJobStarted,
			Queue:     q.name,
			Job:       snapshot,
			Timestamp: now,
			QueueSize: size,
		})

		go q.runJob(snapshot.ID, handler, h, timeout)
	}
}

// beatsLocked reports whether a should run before b. Callers hold q.mu.
func (q *Queue) beatsLocked(a, b *models.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return q.seq[a.ID] < q.seq[b.ID]
}

// jobOutcome carries a handler's return across the timeout race.
type jobOutcome struct {
	result any
	err    error
}

// runJob races the handler against the job's timeout. On timeout the handler
// keeps running but its outcome is discarded and a retryable error recorded.
func (q *Queue) runJob(jobID string, handler Handler, h *Handle, timeout time.Duration) {
	defer q.handlerWG.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan jobOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error().
					Str("queue", q.name).
					Str("job_id", jobID).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in job handler")
				done <- jobOutcome{err: common.NewPermanentError(fmt.Sprintf("handler panic: %v", r), nil)}
			}
		}()
		result, err := handler(ctx, h)
		done <- jobOutcome{result: result, err: err}
	}()

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out jobOutcome
	select {
	case out = <-done:
	case <-timer.C:
		cancel() // cooperative handlers observe this; others finish unobserved
		out = jobOutcome{err: common.NewRetryableError(
			fmt.Sprintf("Job timeout after %dms", timeout.Milliseconds()), nil)}
	}

	q.finishJob(jobID, out, time.Since(start))
}

// finishJob applies a handler outcome: completion, terminal failure, or retry
// scheduling with capped exponential backoff.
func (q *Queue) finishJob(jobID string, out jobOutcome, elapsed time.Duration) {
	q.mu.Lock()

	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.processing, jobID)

	now := time.Now()
	job.UpdatedAt = now
	q.lastProcessedAt = now

	var eventType string
	switch {
	case out.err == nil:
		job.Status = models.JobStatusCompleted
		job.Result = out.result
		job.Progress = 100
		job.CompletedAt = now
		delete(q.jobs, jobID)
		delete(q.seq, jobID)
		q.completed = pushRing(q.completed, archived{job: job, archivedAt: now}, q.opts.CompletedCap)
		q.completedJobs++
		q.totalProcessMS += elapsed.Milliseconds()
		eventType = models.EventJobCompleted
		q.resolveWaitersLocked(job)

	default:
		job.Errors = append(job.Errors, models.JobError{
			Message:   out.err.Error(),
			Code:      errorCode(out.err),
			Attempt:   job.Attempts,
			Timestamp: now,
		})

		classification := common.Classify(out.err)
		if classification != common.ClassPermanent && job.CanRetry() {
			job.Status = models.JobStatusRetrying
			job.NextAttemptAt = now.Add(retryDelay(job.Attempts))
			q.retriedJobs++
			eventType = models.EventJobRetry
		} else {
			job.Status = models.JobStatusFailed
			job.CompletedAt = now
			delete(q.jobs, jobID)
			delete(q.seq, jobID)
			q.failed = pushRing(q.failed, archived{job: job, archivedAt: now}, q.opts.FailedCap)
			q.failedJobs++
			eventType = models.EventJobFailed
			q.resolveWaitersLocked(job)
		}
	}

	snapshot := cloneJob(job)
	size := len(q.jobs)
	q.mu.Unlock()

	q.hub.Publish(models.JobEvent{
		Type:      eventType,
		Queue:     q.name,
		Job:       snapshot,
		Timestamp: now,
		QueueSize: size,
	})

	if eventType == models.EventJobFailed {
		q.logger.Warn().
			Str("queue", q.name).
			Str("job_id", jobID).
			Str("job_type", snapshot.Type).
			Int("attempts", snapshot.Attempts).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("Job failed")
	} else {
		q.logger.Debug().
			Str("queue", q.name).
			Str("job_id", jobID).
			Str("job_type", snapshot.Type).
			Str("status", snapshot.Status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("Job finished attempt")
	}

	q.kick()
}

// retryDelay caps the attempt backoff at one minute.
func retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(1000*(1<<(attempts-1))) * time.Millisecond
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// setProgress applies a monotonic progress update from a handler.
func (q *Queue) setProgress(jobID string, p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.Status != models.JobStatusProcessing {
		return
	}
	if p > job.Progress {
		job.Progress = p
		job.UpdatedAt = time.Now()
	}
}

// resolveWaitersLocked delivers a terminal snapshot to registered waiters.
// Callers hold q.mu.
func (q *Queue) resolveWaitersLocked(job *models.Job) {
	for _, ch := range q.waiters[job.ID] {
		ch <- cloneJob(job)
		close(ch)
	}
	delete(q.waiters, job.ID)
}

// housekeepLoop evicts archived jobs past the retention TTL.
func (q *Queue) housekeepLoop() {
	defer q.loopWG.Done()

	ticker := time.NewTicker(q.opts.HousekeepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.evictExpired()
		}
	}
}

func (q *Queue) evictExpired() {
	cutoff := time.Now().Add(-q.opts.ArchiveTTL)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.completed = dropOlder(q.completed, cutoff)
	q.failed = dropOlder(q.failed, cutoff)
}

// pushRing appends to a bounded FIFO, dropping the oldest past capacity.
func pushRing(ring []archived, a archived, capacity int) []archived {
	ring = append(ring, a)
	if len(ring) > capacity {
		ring = ring[len(ring)-capacity:]
	}
	return ring
}

func dropOlder(ring []archived, cutoff time.Time) []archived {
	kept := ring[:0]
	for _, a := range ring {
		if a.archivedAt.After(cutoff) {
			kept = append(kept, a)
		}
	}
	return kept
}

// errorCode extracts a code carried by the error chain.
func errorCode(err error) string {
	var perm *common.PermanentError
	if errors.As(err, &perm) && perm.Code != "" {
		return perm.Code
	}
	var retr *common.RetryableError
	if errors.As(err, &retr) && retr.Code != "" {
		return retr.Code
	}
	var app *common.AppError
	if errors.As(err, &app) && app.Code != "" {
		return app.Code
	}
	return ""
}

// cloneJob copies a job for handoff outside the critical section. Errors are
// copied; payload/result stay shared references and must be treated as
// read-only by consumers.
func cloneJob(job *models.Job) *models.Job {
	c := *job
	c.Errors = append([]models.JobError(nil), job.Errors...)
	return &c
}
