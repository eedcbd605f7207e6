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

// QuotaStore implements interfaces.QuotaRepository using SurrealDB.
type QuotaStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewQuotaStore creates a new QuotaStore.
func NewQuotaStore(db *surrealdb.DB, logger *common.Logger) *QuotaStore {
	return &QuotaStore{db: db, logger: logger}
}

func (s *QuotaStore) Get(ctx context.Context, userID string) (*models.QuotaUsage, error) {
	sql := "SELECT user_id, used_bytes, limit_bytes, updated_at FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("quotas", userID),
	}

	results, err := surrealdb.Query[[]models.QuotaUsage](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get quota for user %s: %w", userID, err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return &models.QuotaUsage{UserID: userID}, nil
	}
	return &rows[0], nil
}

func (s *QuotaStore) Set(ctx context.Context, usage *models.QuotaUsage) error {
	sql := `UPSERT $rid SET
		user_id = $user_id, used_bytes = $used_bytes,
		limit_bytes = $limit_bytes, updated_at = $updated_at`
	vars := map[string]any{
		"rid":         surrealmodels.NewRecordID("quotas", usage.UserID),
		"user_id":     usage.UserID,
		"used_bytes":  usage.UsedBytes,
		"limit_bytes": usage.LimitBytes,
		"updated_at":  time.Now(),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to set quota for user %s: %w", usage.UserID, err)
	}
	return nil
}

// AddUsage adjusts used bytes atomically in one statement and returns the
// updated record.
func (s *QuotaStore) AddUsage(ctx context.Context, userID string, delta int64) (*models.QuotaUsage, error) {
	sql := `UPSERT $rid SET
		user_id = $user_id,
		used_bytes += $delta,
		updated_at = $updated_at
		RETURN user_id, used_bytes, limit_bytes, updated_at`
	vars := map[string]any{
		"rid":        surrealmodels.NewRecordID("quotas", userID),
		"user_id":    userID,
		"delta":      delta,
		"updated_at": time.Now(),
	}

	results, err := surrealdb.Query[[]models.QuotaUsage](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust quota for user %s: %w", userID, err)
	}

	rows := firstResult(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("quota upsert returned no record for user %s", userID)
	}

	usage := rows[0]
	if usage.UsedBytes < 0 {
		usage.UsedBytes = 0
		if err := s.Set(ctx, &usage); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to clamp negative quota usage")
		}
	}
	return &usage, nil
}

// Compile-time check
var _ interfaces.QuotaRepository = (*QuotaStore)(nil)
