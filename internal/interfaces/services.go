// Package interfaces defines service contracts for Depot
package interfaces

import (
	"context"

	"github.com/depotlabs/depot/internal/models"
)

// ProcessOptions tunes a single file-processing submission.
// Compression defaults on; DisableCompression opts a single file out.
type ProcessOptions struct {
	Priority           int // models.PriorityNormal when zero
	DisableCompression bool
	UserID             string
}

// FileProcessor runs type-specific post-processing on stored files.
type FileProcessor interface {
	// StartJob enqueues a file_processing job and returns its job id.
	StartJob(ctx context.Context, fileID string, meta models.FileMeta, stored *models.StoredObject, opts ProcessOptions) (string, error)

	// ProcessFile submits and waits for the terminal result.
	ProcessFile(ctx context.Context, fileID string, meta models.FileMeta, stored *models.StoredObject, opts ProcessOptions) (*models.ProcessingResult, error)

	// JobStatus returns the per-file tracking snapshot for a job id.
	JobStatus(jobID string) (*models.Job, error)

	// CleanupFile enqueues a file_cleanup job removing stored objects for a
	// deleted file.
	CleanupFile(ctx context.Context, fileID, publicID, resourceType string) (string, error)
}

// BatchOptions configures batch creation.
type BatchOptions struct {
	Description       string
	ProcessInParallel bool
	MaxConcurrency    int // >= 1, default 3
}

// BatchService coordinates multi-file ingestion.
type BatchService interface {
	CreateBatch(ctx context.Context, files []models.FileMeta, buffers [][]byte, userID string, opts BatchOptions) (*models.BatchJob, error)
	StartBatch(ctx context.Context, batchID string) error
	GetBatch(ctx context.Context, batchID, userID, role string) (*models.BatchSummary, error)
	CancelBatch(ctx context.Context, batchID, userID, role string) error
	DeleteBatch(ctx context.Context, batchID, userID, role string) error
	ListBatches(ctx context.Context, userID, role string) ([]*models.BatchSummary, error)
}

// ShareService mints and resolves signed share links for stored files.
type ShareService interface {
	CreateShare(ctx context.Context, fileID, userID string) (*models.ShareLink, error)
	ResolveShare(ctx context.Context, token string) (*models.FileRecord, error)
	RevokeShare(ctx context.Context, shareID, userID string) error
}

// QuotaService enforces per-user storage quotas.
type QuotaService interface {
	// Reserve checks and records size bytes against the user's quota.
	// Returns a PermanentError when the user has exceeded quota.
	Reserve(ctx context.Context, userID string, size int64) error

	// Release returns size bytes to the user's quota.
	Release(ctx context.Context, userID string, size int64) error

	Usage(ctx context.Context, userID string) (*models.QuotaUsage, error)
}
