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

// BatchStore implements interfaces.BatchRepository using SurrealDB.
// A batch is stored as one nested document since its entries are always
// read and written together; user_id and created_at are lifted to the top
// level for filtering. Entry buffers carry a json:"-" tag and never reach
// the database.
type BatchStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// batchRecord is the SurrealDB record shape for the batches table.
type batchRecord struct {
	BatchID   string           `json:"batch_id"`
	UserID    string           `json:"user_id"`
	Status    string           `json:"status"`
	Batch     *models.BatchJob `json:"batch"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewBatchStore creates a new BatchStore.
func NewBatchStore(db *surrealdb.DB, logger *common.Logger) *BatchStore {
	return &BatchStore{db: db, logger: logger}
}

func (s *BatchStore) put(ctx context.Context, batch *models.BatchJob) error {
	sql := `UPSERT $rid SET
		batch_id = $batch_id, user_id = $user_id, status = $status,
		batch = $batch, created_at = $created_at`
	vars := map[string]any{
		"rid":        surrealmodels.NewRecordID("batches", batch.ID),
		"batch_id":   batch.ID,
		"user_id":    batch.UserID,
		"status":     batch.Status,
		"batch":      batch,
		"created_at": batch.CreatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to store batch %s: %w", batch.ID, err)
	}
	return nil
}

func (s *BatchStore) Create(ctx context.Context, batch *models.BatchJob) error {
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now()
	}
	return s.put(ctx, batch)
}

func (s *BatchStore) Get(ctx context.Context, id string) (*models.BatchJob, error) {
	sql := "SELECT batch_id, user_id, status, batch, created_at FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("batches", id),
	}

	results, err := surrealdb.Query[[]batchRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %s: %w", id, err)
	}

	rows := firstResult(results)
	if len(rows) == 0 || rows[0].Batch == nil {
		return nil, fmt.Errorf("batch not found: %s", id)
	}
	return rows[0].Batch, nil
}

func (s *BatchStore) Update(ctx context.Context, batch *models.BatchJob) error {
	return s.put(ctx, batch)
}

func (s *BatchStore) Delete(ctx context.Context, id string) error {
	_, err := surrealdb.Delete[batchRecord](ctx, s.db, surrealmodels.NewRecordID("batches", id))
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete batch %s: %w", id, err)
	}
	return nil
}

func (s *BatchStore) ListByUser(ctx context.Context, userID string) ([]*models.BatchJob, error) {
	sql := "SELECT batch_id, user_id, status, batch, created_at FROM batches WHERE user_id = $user_id ORDER BY created_at DESC"
	vars := map[string]any{"user_id": userID}
	return s.list(ctx, sql, vars)
}

func (s *BatchStore) ListAll(ctx context.Context) ([]*models.BatchJob, error) {
	sql := "SELECT batch_id, user_id, status, batch, created_at FROM batches ORDER BY created_at DESC"
	return s.list(ctx, sql, nil)
}

func (s *BatchStore) list(ctx context.Context, sql string, vars map[string]any) ([]*models.BatchJob, error) {
	results, err := surrealdb.Query[[]batchRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	rows := firstResult(results)
	out := make([]*models.BatchJob, 0, len(rows))
	for i := range rows {
		if rows[i].Batch != nil {
			out = append(out, rows[i].Batch)
		}
	}
	return out, nil
}

// Compile-time check
var _ interfaces.BatchRepository = (*BatchStore)(nil)
