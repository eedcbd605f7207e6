package models

import "time"

// Batch statuses.
const (
	BatchStatusCreated             = "created"
	BatchStatusProcessing          = "processing"
	BatchStatusCompleted           = "completed"
	BatchStatusCompletedWithErrors = "completed_with_errors"
	BatchStatusFailed              = "failed"
	BatchStatusCancelled           = "cancelled"
)

// Batch entry statuses.
const (
	BatchEntryPending    = "pending"
	BatchEntryProcessing = "processing"
	BatchEntryCompleted  = "completed"
	BatchEntryFailed     = "failed"
)

// BatchJob aggregates N file submissions under one policy. It exclusively
// owns its file entries and their buffers until terminal, then releases the
// buffers.
type BatchJob struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`

	TotalFiles      int `json:"total_files"`
	ProcessedFiles  int `json:"processed_files"`
	SuccessfulFiles int `json:"successful_files"`
	FailedFiles     int `json:"failed_files"`
	Progress        int `json:"progress"`

	ProcessInParallel bool `json:"process_in_parallel"`
	MaxConcurrency    int  `json:"max_concurrency"`

	Files []*BatchFileEntry `json:"files"`

	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// BatchFileEntry is one file inside a batch.
type BatchFileEntry struct {
	Index        int    `json:"index"`
	OriginalName string `json:"original_name"`
	Mimetype     string `json:"mimetype"`
	Size         int64  `json:"size"`
	Buffer       []byte `json:"-"`

	Status     string            `json:"status"`
	FileID     string            `json:"file_id,omitempty"`
	PublicID   string            `json:"public_id,omitempty"`
	Error      string            `json:"error,omitempty"`
	Result     *ProcessingResult `json:"result,omitempty"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// BatchEntryResult is the per-file success view returned to the API,
// ordered by entry index.
type BatchEntryResult struct {
	FileIndex    int               `json:"file_index"`
	OriginalName string            `json:"original_name"`
	FileID       string            `json:"file_id"`
	Result       *ProcessingResult `json:"result"`
}

// BatchEntryError is the per-file failure view returned to the API,
// ordered by entry index.
type BatchEntryError struct {
	FileIndex    int    `json:"file_index"`
	OriginalName string `json:"original_name"`
	Error        string `json:"error"`
}

// BatchSummary is the aggregate view of a batch for listings and results.
type BatchSummary struct {
	ID              string             `json:"id"`
	UserID          string             `json:"user_id"`
	Description     string             `json:"description,omitempty"`
	Status          string             `json:"status"`
	TotalFiles      int                `json:"total_files"`
	ProcessedFiles  int                `json:"processed_files"`
	SuccessfulFiles int                `json:"successful_files"`
	FailedFiles     int                `json:"failed_files"`
	Progress        int                `json:"progress"`
	Results         []BatchEntryResult `json:"results,omitempty"`
	Errors          []BatchEntryError  `json:"errors,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	StartedAt       time.Time          `json:"started_at"`
	CompletedAt     time.Time          `json:"completed_at"`
}
