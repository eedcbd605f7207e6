package memory

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
)

// storedObject keeps an uploaded payload and its receipt.
type storedObject struct {
	receipt models.StoredObject
	data    []byte // encrypted when the store carries a key
}

// ObjectStore keeps object payloads in process memory, optionally sealed
// with XChaCha20-Poly1305 when constructed with a content key.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject // publicID -> object
	key     []byte
	logger  *common.Logger
}

// NewObjectStore creates the store. key may be nil for plaintext storage.
func NewObjectStore(key []byte, logger *common.Logger) *ObjectStore {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &ObjectStore{
		objects: make(map[string]*storedObject),
		key:     key,
		logger:  logger,
	}
}

// Upload stores the buffer and returns its receipt. Each upload gets a
// fresh key, so retried uploads never corrupt earlier state.
func (s *ObjectStore) Upload(ctx context.Context, buffer []byte, originalName, mimetype string, opts interfaces.UploadOptions) (*models.StoredObject, error) {
	if len(buffer) == 0 {
		return nil, common.NewPermanentError("cannot upload an empty buffer", nil)
	}

	publicID := uuid.New().String()
	if opts.Folder != "" {
		publicID = path.Join(opts.Folder, publicID)
	}

	resourceType := opts.ResourceType
	if resourceType == "" || resourceType == "auto" {
		resourceType = resourceTypeFor(mimetype)
	}

	data := buffer
	if s.key != nil {
		sealed, err := common.EncryptContent(s.key, buffer)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt object: %w", err)
		}
		data = sealed
	}

	receipt := models.StoredObject{
		PublicID:     publicID,
		SecureURL:    "memory://depot/" + publicID,
		Size:         int64(len(buffer)),
		Format:       formatFor(originalName, mimetype),
		ResourceType: resourceType,
	}

	s.mu.Lock()
	s.objects[publicID] = &storedObject{receipt: receipt, data: data}
	s.mu.Unlock()

	out := receipt
	if opts.ReturnBuffer {
		out.Buffer = buffer
	}
	return &out, nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (s *ObjectStore) Delete(ctx context.Context, publicID, resourceType string) error {
	s.mu.Lock()
	delete(s.objects, publicID)
	s.mu.Unlock()
	return nil
}

// ThumbnailURL is unsupported in-memory; callers fall back to local
// thumbnail generation.
func (s *ObjectStore) ThumbnailURL(publicID string, opts interfaces.ThumbnailOptions) (string, error) {
	return "", fmt.Errorf("in-memory store does not transform images")
}

// DownloadURL returns the object's internal URL.
func (s *ObjectStore) DownloadURL(publicID, resourceType, filename string) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[publicID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object not found: %s", publicID)
	}
	return "memory://depot/" + publicID, nil
}

// GetMetadata returns the stored receipt without the payload.
func (s *ObjectStore) GetMetadata(ctx context.Context, publicID, resourceType string) (*models.StoredObject, error) {
	s.mu.RLock()
	obj, ok := s.objects[publicID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object not found: %s", publicID)
	}
	receipt := obj.receipt
	return &receipt, nil
}

// GetContent returns the decrypted payload. Used by embedding transports
// to serve downloads.
func (s *ObjectStore) GetContent(ctx context.Context, publicID string) ([]byte, error) {
	s.mu.RLock()
	obj, ok := s.objects[publicID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object not found: %s", publicID)
	}
	if s.key == nil {
		out := make([]byte, len(obj.data))
		copy(out, obj.data)
		return out, nil
	}
	return common.DecryptContent(s.key, obj.data)
}

// Len reports the number of stored objects.
func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func resourceTypeFor(mimetype string) string {
	if strings.HasPrefix(strings.ToLower(mimetype), "image/") {
		return "image"
	}
	return "raw"
}

func formatFor(originalName, mimetype string) string {
	if ext := strings.TrimPrefix(path.Ext(originalName), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if idx := strings.Index(mimetype, "/"); idx >= 0 {
		return strings.ToLower(mimetype[idx+1:])
	}
	return ""
}

// Compile-time check
var _ interfaces.ObjectStore = (*ObjectStore)(nil)
