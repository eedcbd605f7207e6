// Package models defines the data types shared across Depot services.
package models

import "time"

// Job represents a unit of work owned by a queue.
type Job struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Queue       string         `json:"queue"`
	Priority    int            `json:"priority"`
	Status      string         `json:"status"`
	UserID      string         `json:"user_id,omitempty"`
	Payload     any            `json:"payload,omitempty"`
	Result      any            `json:"result,omitempty"`
	Progress    int            `json:"progress"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	Timeout     time.Duration  `json:"timeout"`
	Delay       time.Duration  `json:"delay"`
	Errors      []JobError     `json:"errors,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// JobError records one failed attempt. The errors list is append-only.
type JobError struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// CanRetry reports whether another attempt is allowed.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// Job type constants. The set is closed: queues reject unregistered types at
// admission, so adding a type means registering a handler for it.
const (
	JobTypeFileUpload          = "file_upload"
	JobTypeFileProcessing      = "file_processing"
	JobTypeFileCompression     = "file_compression"
	JobTypeThumbnailGeneration = "thumbnail_generation"
	JobTypeVirusScan           = "virus_scan"
	JobTypeBatchProcessing     = "batch_processing"
	JobTypeFileCleanup         = "file_cleanup"
)

// Job status constants
const (
	JobStatusPending    = "pending"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
	JobStatusRetrying   = "retrying"
)

// Priority levels (higher runs first)
const (
	PriorityLow      = 1
	PriorityNormal   = 2
	PriorityHigh     = 3
	PriorityUrgent   = 4
	PriorityCritical = 5
)

// Job event names emitted by the queue.
const (
	EventJobAdded     = "job:added"
	EventJobStarted   = "job:started"
	EventJobCompleted = "job:completed"
	EventJobFailed    = "job:failed"
	EventJobRetry     = "job:retry"
	EventJobCancelled = "job:cancelled"
)

// JobEvent carries a job snapshot to event subscribers.
type JobEvent struct {
	Type      string    `json:"type"`
	Queue     string    `json:"queue"`
	Job       *Job      `json:"job"`
	Timestamp time.Time `json:"timestamp"`
	QueueSize int       `json:"queue_size"`
}

// QueueStats is an instantaneous snapshot of a queue's counters.
type QueueStats struct {
	Name            string    `json:"name"`
	ActiveJobs      int       `json:"active_jobs"`
	ProcessingJobs  int       `json:"processing_jobs"`
	TotalJobs       int64     `json:"total_jobs"`
	CompletedJobs   int64     `json:"completed_jobs"`
	FailedJobs      int64     `json:"failed_jobs"`
	RetriedJobs     int64     `json:"retried_jobs"`
	AvgProcessingMS float64   `json:"avg_processing_ms"`
	LastProcessedAt time.Time `json:"last_processed_at"`
}

// JobFilter selects active jobs in queue listings. Zero values match all.
type JobFilter struct {
	Status string
	UserID string
	Type   string
}
