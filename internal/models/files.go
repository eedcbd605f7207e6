package models

import "time"

// FileMeta describes an uploaded file as declared by the uploader.
type FileMeta struct {
	OriginalName string `json:"original_name"`
	Mimetype     string `json:"mimetype"`
	Size         int64  `json:"size"`
}

// StoredObject is the object store's receipt for an uploaded payload.
// Buffer is an optional passthrough so downstream handlers can avoid
// re-downloading the bytes they just stored.
type StoredObject struct {
	PublicID     string `json:"public_id"`
	SecureURL    string `json:"secure_url"`
	Size         int64  `json:"size"`
	Format       string `json:"format"`
	ResourceType string `json:"resource_type"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Buffer       []byte `json:"-"`
}

// Processing result statuses. A "failed" result means the typed processor hit
// an unrecoverable condition the orchestrator chose to record rather than
// propagate, so the queued job itself still completes.
const (
	ResultStatusProcessed = "processed"
	ResultStatusFailed    = "failed"
)

// ProcessingResult is the combined output of a file_processing job.
// Exactly one of Image/PDF/CSV is set for a processed result.
type ProcessingResult struct {
	Status          string    `json:"status"`
	ProcessedAt     time.Time `json:"processed_at"`
	OriginalName    string    `json:"original_name"`
	Mimetype        string    `json:"mimetype"`
	PublicID        string    `json:"public_id"`
	SecureURL       string    `json:"secure_url"`
	Size            int64     `json:"size"`
	Format          string    `json:"format"`
	ResourceType    string    `json:"resource_type"`
	ProcessingError string    `json:"processing_error,omitempty"`

	Image       *ImageDetails       `json:"image,omitempty"`
	PDF         *PDFDetails         `json:"pdf,omitempty"`
	CSV         *CSVDetails         `json:"csv,omitempty"`
	Compression *CompressionDetails `json:"compression,omitempty"`
}

// ImageDetails holds image introspection output.
type ImageDetails struct {
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	Format             string `json:"format"`
	ThumbnailURL       string `json:"thumbnail_url,omitempty"`
	ThumbnailGenerated bool   `json:"thumbnail_generated"`
}

// PDFDetails holds PDF text extraction output.
type PDFDetails struct {
	Pages         int  `json:"pages"`
	WordCount     int  `json:"word_count"`
	TextExtracted bool `json:"text_extracted"`
	HasText       bool `json:"has_text"`
}

// CSVDetails holds CSV schema analysis output.
type CSVDetails struct {
	RowCount         int      `json:"row_count"`
	ColumnCount      int      `json:"column_count"`
	Columns          []string `json:"columns"`
	HasSensitiveData bool     `json:"has_sensitive_data"`
	SampleRowCount   int      `json:"sample_row_count"`
}

// CompressionDetails records the outcome of the inline compression step.
type CompressionDetails struct {
	Compressed     bool    `json:"compressed"`
	OriginalSize   int64   `json:"original_size"`
	CompressedSize int64   `json:"compressed_size"`
	Ratio          float64 `json:"ratio"`
}

// FileRecord is the persisted metadata for one stored file.
type FileRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	OriginalName string    `json:"original_name"`
	Mimetype     string    `json:"mimetype"`
	Size         int64     `json:"size"`
	PublicID     string    `json:"public_id"`
	SecureURL    string    `json:"secure_url"`
	ContentHash  string    `json:"content_hash"`
	Version      int       `json:"version"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// File record statuses.
const (
	FileStatusStored    = "stored"
	FileStatusProcessed = "processed"
	FileStatusDeleted   = "deleted"
)

// FileVersion is one historical version of a logical file.
type FileVersion struct {
	FileID      string    `json:"file_id"`
	Version     int       `json:"version"`
	PublicID    string    `json:"public_id"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// ShareLink grants token-based access to a stored file.
type ShareLink struct {
	ID        string    `json:"id"`
	FileID    string    `json:"file_id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Revoked   bool      `json:"revoked"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// QuotaUsage tracks a user's storage consumption against their limit.
// LimitBytes == 0 means unlimited.
type QuotaUsage struct {
	UserID     string    `json:"user_id"`
	UsedBytes  int64     `json:"used_bytes"`
	LimitBytes int64     `json:"limit_bytes"`
	UpdatedAt  time.Time `json:"updated_at"`
}
