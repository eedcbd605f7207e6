// Package interfaces defines service contracts for Depot
package interfaces

import (
	"context"

	"github.com/depotlabs/depot/internal/models"
)

// StorageManager coordinates the object store and metadata repositories.
type StorageManager interface {
	ObjectStore() ObjectStore
	FileRepository() FileRepository
	BatchRepository() BatchRepository
	ShareRepository() ShareRepository
	QuotaRepository() QuotaRepository

	// Lifecycle
	Close() error
}

// UploadOptions tunes a single object store upload.
type UploadOptions struct {
	Folder       string // optional key prefix
	ResourceType string // "image", "raw", "auto" (default)
	ReturnBuffer bool   // pass the uploaded bytes through on the receipt
}

// ThumbnailOptions requests a store-side image transformation.
type ThumbnailOptions struct {
	Width  int
	Height int
	Format string // output format, default "jpg"
}

// ObjectStore is the object-storage collaborator. Upload must be retry-safe:
// re-uploading the same buffer may produce a new key but never corrupts state.
type ObjectStore interface {
	Upload(ctx context.Context, buffer []byte, originalName, mimetype string, opts UploadOptions) (*models.StoredObject, error)
	Delete(ctx context.Context, publicID, resourceType string) error
	ThumbnailURL(publicID string, opts ThumbnailOptions) (string, error)
	DownloadURL(publicID, resourceType, filename string) (string, error)
	GetMetadata(ctx context.Context, publicID, resourceType string) (*models.StoredObject, error)
}

// FileRepository persists file metadata and version history, scoped by user.
type FileRepository interface {
	Create(ctx context.Context, file *models.FileRecord) error
	Get(ctx context.Context, id string) (*models.FileRecord, error)
	Update(ctx context.Context, file *models.FileRecord) error
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]*models.FileRecord, error)

	// Versioning: AddVersion appends a version record; ListVersions returns
	// them newest first.
	AddVersion(ctx context.Context, v *models.FileVersion) error
	ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error)
}

// BatchRepository persists batch records.
type BatchRepository interface {
	Create(ctx context.Context, batch *models.BatchJob) error
	Get(ctx context.Context, id string) (*models.BatchJob, error)
	Update(ctx context.Context, batch *models.BatchJob) error
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]*models.BatchJob, error)
	ListAll(ctx context.Context) ([]*models.BatchJob, error)
}

// ShareRepository persists share links.
type ShareRepository interface {
	Create(ctx context.Context, link *models.ShareLink) error
	Get(ctx context.Context, id string) (*models.ShareLink, error)
	GetByToken(ctx context.Context, token string) (*models.ShareLink, error)
	Update(ctx context.Context, link *models.ShareLink) error
	ListByFile(ctx context.Context, fileID string) ([]*models.ShareLink, error)
}

// QuotaRepository tracks per-user storage consumption.
type QuotaRepository interface {
	Get(ctx context.Context, userID string) (*models.QuotaUsage, error)
	Set(ctx context.Context, usage *models.QuotaUsage) error

	// AddUsage atomically adjusts used bytes by delta (may be negative) and
	// returns the updated usage.
	AddUsage(ctx context.Context, userID string, delta int64) (*models.QuotaUsage, error)
}
