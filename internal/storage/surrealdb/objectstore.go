package surrealdb

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
)

// maxCBORDocBytes is the maximum encoded document size for SurrealDB's CBOR
// wire format. Documents exceeding this limit cause opaque CBOR errors at
// the driver level.
const maxCBORDocBytes = 10_000_000

// ObjectStore keeps object payloads as base64 documents in the objects
// table, optionally sealed with XChaCha20-Poly1305.
type ObjectStore struct {
	db     *surrealdb.DB
	key    []byte
	logger *common.Logger
}

// objectRecord is the SurrealDB record shape for the objects table.
type objectRecord struct {
	PublicID     string    `json:"public_id"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	ResourceType string    `json:"resource_type"`
	Format       string    `json:"format"`
	Size         int64     `json:"size"`
	Encrypted    bool      `json:"encrypted"`
	Data         string    `json:"data"` // base64-encoded
	CreatedAt    time.Time `json:"created_at"`
}

// NewObjectStore creates the store. key may be nil for plaintext storage.
func NewObjectStore(db *surrealdb.DB, key []byte, logger *common.Logger) *ObjectStore {
	return &ObjectStore{db: db, key: key, logger: logger}
}

// objectRecordID sanitizes a public ID into a safe record key.
func objectRecordID(publicID string) string {
	return strings.NewReplacer(".", "_", "/", "_").Replace(publicID)
}

// Upload stores the buffer under a fresh public ID, so retried uploads
// never collide with earlier state.
func (s *ObjectStore) Upload(ctx context.Context, buffer []byte, originalName, mimetype string, opts interfaces.UploadOptions) (*models.StoredObject, error) {
	if len(buffer) == 0 {
		return nil, common.NewPermanentError("cannot upload an empty buffer", nil)
	}

	data := buffer
	if s.key != nil {
		sealed, err := common.EncryptContent(s.key, buffer)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt object: %w", err)
		}
		data = sealed
	}

	// Base64 encoding expands data by ~33%. Reject early if the encoded
	// size would exceed the CBOR document limit.
	encodedSize := base64.StdEncoding.EncodedLen(len(data))
	if encodedSize > maxCBORDocBytes {
		return nil, &common.PermanentError{
			Message: fmt.Sprintf("object %s too large for storage: %d bytes encoded (limit %d)", originalName, encodedSize, maxCBORDocBytes),
			Code:    "FILE_TOO_LARGE",
		}
	}

	publicID := uuid.New().String()
	if opts.Folder != "" {
		publicID = path.Join(opts.Folder, publicID)
	}

	resourceType := opts.ResourceType
	if resourceType == "" || resourceType == "auto" {
		if strings.HasPrefix(strings.ToLower(mimetype), "image/") {
			resourceType = "image"
		} else {
			resourceType = "raw"
		}
	}

	format := strings.TrimPrefix(path.Ext(originalName), ".")
	now := time.Now()

	sql := `UPSERT $rid SET
		public_id = $public_id, original_name = $original_name,
		content_type = $content_type, resource_type = $resource_type,
		format = $format, size = $size, encrypted = $encrypted,
		data = $data, created_at = $created_at`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("objects", objectRecordID(publicID)),
		"public_id":     publicID,
		"original_name": originalName,
		"content_type":  mimetype,
		"resource_type": resourceType,
		"format":        strings.ToLower(format),
		"size":          int64(len(buffer)),
		"encrypted":     s.key != nil,
		"data":          base64.StdEncoding.EncodeToString(data),
		"created_at":    now,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return nil, fmt.Errorf("failed to store object %s: %w", publicID, err)
	}

	receipt := &models.StoredObject{
		PublicID:     publicID,
		SecureURL:    "depot://objects/" + publicID,
		Size:         int64(len(buffer)),
		Format:       strings.ToLower(format),
		ResourceType: resourceType,
	}
	if opts.ReturnBuffer {
		receipt.Buffer = buffer
	}
	return receipt, nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *ObjectStore) Delete(ctx context.Context, publicID, resourceType string) error {
	rid := surrealmodels.NewRecordID("objects", objectRecordID(publicID))
	if _, err := surrealdb.Delete[objectRecord](ctx, s.db, rid); err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete object %s: %w", publicID, err)
	}
	return nil
}

// ThumbnailURL is unsupported; callers fall back to local thumbnail
// generation.
func (s *ObjectStore) ThumbnailURL(publicID string, opts interfaces.ThumbnailOptions) (string, error) {
	return "", fmt.Errorf("surrealdb object store does not transform images")
}

// DownloadURL returns the object's internal URL.
func (s *ObjectStore) DownloadURL(publicID, resourceType, filename string) (string, error) {
	return "depot://objects/" + publicID, nil
}

// GetMetadata returns the stored receipt without the payload.
func (s *ObjectStore) GetMetadata(ctx context.Context, publicID, resourceType string) (*models.StoredObject, error) {
	rid := surrealmodels.NewRecordID("objects", objectRecordID(publicID))
	record, err := surrealdb.Select[objectRecord](ctx, s.db, rid)
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", publicID, err)
	}
	if record == nil {
		return nil, fmt.Errorf("object not found: %s", publicID)
	}
	return &models.StoredObject{
		PublicID:     record.PublicID,
		SecureURL:    "depot://objects/" + record.PublicID,
		Size:         record.Size,
		Format:       record.Format,
		ResourceType: record.ResourceType,
	}, nil
}

// GetContent returns the decrypted payload.
func (s *ObjectStore) GetContent(ctx context.Context, publicID string) ([]byte, error) {
	rid := surrealmodels.NewRecordID("objects", objectRecordID(publicID))
	record, err := surrealdb.Select[objectRecord](ctx, s.db, rid)
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", publicID, err)
	}
	if record == nil {
		return nil, fmt.Errorf("object not found: %s", publicID)
	}

	data, err := base64.StdEncoding.DecodeString(record.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode object data: %w", err)
	}
	if record.Encrypted {
		if s.key == nil {
			return nil, fmt.Errorf("object %s is encrypted but no content key is configured", publicID)
		}
		return common.DecryptContent(s.key, data)
	}
	return data, nil
}

// Compile-time check
var _ interfaces.ObjectStore = (*ObjectStore)(nil)
