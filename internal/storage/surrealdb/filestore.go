package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
)

// fileSelectFields aliases file_id to id for struct mapping.
const fileSelectFields = `file_id as id, user_id, original_name, mimetype, size,
	public_id, secure_url, content_hash, version, status, created_at, updated_at`

// FileStore implements interfaces.FileRepository using SurrealDB.
type FileStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewFileStore creates a new FileStore.
func NewFileStore(db *surrealdb.DB, logger *common.Logger) *FileStore {
	return &FileStore{db: db, logger: logger}
}

func (s *FileStore) upsert(ctx context.Context, file *models.FileRecord) error {
	sql := `UPSERT $rid SET
		file_id = $file_id, user_id = $user_id, original_name = $original_name,
		mimetype = $mimetype, size = $size, public_id = $public_id,
		secure_url = $secure_url, content_hash = $content_hash,
		version = $version, status = $status,
		created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID("files", file.ID),
		"file_id":       file.ID,
		"user_id":       file.UserID,
		"original_name": file.OriginalName,
		"mimetype":      file.Mimetype,
		"size":          file.Size,
		"public_id":     file.PublicID,
		"secure_url":    file.SecureURL,
		"content_hash":  file.ContentHash,
		"version":       file.Version,
		"status":        file.Status,
		"created_at":    file.CreatedAt,
		"updated_at":    file.UpdatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert file %s: %w", file.ID, err)
	}
	return nil
}

func (s *FileStore) Create(ctx context.Context, file *models.FileRecord) error {
	now := time.Now()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = now
	return s.upsert(ctx, file)
}

func (s *FileStore) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	sql := "SELECT " + fileSelectFields + " FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("files", id),
	}

	results, err := surrealdb.Query[[]models.FileRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", id, err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("file not found: %s", id)
	}
	return &rows[0], nil
}

func (s *FileStore) Update(ctx context.Context, file *models.FileRecord) error {
	file.UpdatedAt = time.Now()
	return s.upsert(ctx, file)
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	rid := surrealmodels.NewRecordID("files", id)
	if _, err := surrealdb.Delete[models.FileRecord](ctx, s.db, rid); err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}

	// Versions go with the file.
	sql := "DELETE file_versions WHERE file_id = $file_id"
	vars := map[string]any{"file_id": id}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		s.logger.Warn().Err(err).Str("file_id", id).Msg("Failed to delete file versions")
	}
	return nil
}

func (s *FileStore) ListByUser(ctx context.Context, userID string) ([]*models.FileRecord, error) {
	sql := "SELECT " + fileSelectFields + " FROM files WHERE user_id = $user_id ORDER BY created_at DESC"
	vars := map[string]any{"user_id": userID}

	results, err := surrealdb.Query[[]models.FileRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list files for user %s: %w", userID, err)
	}

	rows := firstResult(results)
	out := make([]*models.FileRecord, 0, len(rows))
	for i := range rows {
		out = append(out, &rows[i])
	}
	return out, nil
}

func (s *FileStore) AddVersion(ctx context.Context, v *models.FileVersion) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	sql := `UPSERT $rid SET
		file_id = $file_id, version = $version, public_id = $public_id,
		size = $size, content_hash = $content_hash, created_at = $created_at`
	vars := map[string]any{
		"rid":          surrealmodels.NewRecordID("file_versions", fmt.Sprintf("%s_v%d", v.FileID, v.Version)),
		"file_id":      v.FileID,
		"version":      v.Version,
		"public_id":    v.PublicID,
		"size":         v.Size,
		"content_hash": v.ContentHash,
		"created_at":   v.CreatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to add version %d of file %s: %w", v.Version, v.FileID, err)
	}
	return nil
}

func (s *FileStore) ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error) {
	sql := "SELECT file_id, version, public_id, size, content_hash, created_at FROM file_versions WHERE file_id = $file_id ORDER BY version DESC"
	vars := map[string]any{"file_id": fileID}

	results, err := surrealdb.Query[[]models.FileVersion](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of file %s: %w", fileID, err)
	}

	rows := firstResult(results)
	out := make([]*models.FileVersion, 0, len(rows))
	for i := range rows {
		out = append(out, &rows[i])
	}
	return out, nil
}

// Compile-time check
var _ interfaces.FileRepository = (*FileStore)(nil)
