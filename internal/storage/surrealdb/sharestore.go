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

// shareSelectFields aliases share_id to id for struct mapping.
const shareSelectFields = `share_id as id, file_id, user_id, token, revoked,
	expires_at, created_at`

// ShareStore implements interfaces.ShareRepository using SurrealDB.
type ShareStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewShareStore creates a new ShareStore.
func NewShareStore(db *surrealdb.DB, logger *common.Logger) *ShareStore {
	return &ShareStore{db: db, logger: logger}
}

func (s *ShareStore) upsert(ctx context.Context, link *models.ShareLink) error {
	sql := `UPSERT $rid SET
		share_id = $share_id, file_id = $file_id, user_id = $user_id,
		token = $token, revoked = $revoked,
		expires_at = $expires_at, created_at = $created_at`
	vars := map[string]any{
		"rid":        surrealmodels.NewRecordID("shares", link.ID),
		"share_id":   link.ID,
		"file_id":    link.FileID,
		"user_id":    link.UserID,
		"token":      link.Token,
		"revoked":    link.Revoked,
		"expires_at": link.ExpiresAt,
		"created_at": link.CreatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to store share %s: %w", link.ID, err)
	}
	return nil
}

func (s *ShareStore) Create(ctx context.Context, link *models.ShareLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	return s.upsert(ctx, link)
}

func (s *ShareStore) Get(ctx context.Context, id string) (*models.ShareLink, error) {
	sql := "SELECT " + shareSelectFields + " FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("shares", id),
	}

	results, err := surrealdb.Query[[]models.ShareLink](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get share %s: %w", id, err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("share not found: %s", id)
	}
	return &rows[0], nil
}

func (s *ShareStore) GetByToken(ctx context.Context, token string) (*models.ShareLink, error) {
	sql := "SELECT " + shareSelectFields + " FROM shares WHERE token = $token LIMIT 1"
	vars := map[string]any{"token": token}

	results, err := surrealdb.Query[[]models.ShareLink](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to look up share by token: %w", err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("share not found for token")
	}
	return &rows[0], nil
}

func (s *ShareStore) Update(ctx context.Context, link *models.ShareLink) error {
	return s.upsert(ctx, link)
}

func (s *ShareStore) ListByFile(ctx context.Context, fileID string) ([]*models.ShareLink, error) {
	sql := "SELECT " + shareSelectFields + " FROM shares WHERE file_id = $file_id ORDER BY created_at DESC"
	vars := map[string]any{"file_id": fileID}

	results, err := surrealdb.Query[[]models.ShareLink](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares for file %s: %w", fileID, err)
	}

	rows := firstResult(results)
	out := make([]*models.ShareLink, 0, len(rows))
	for i := range rows {
		out = append(out, &rows[i])
	}
	return out, nil
}

// Compile-time check
var _ interfaces.ShareRepository = (*ShareStore)(nil)
