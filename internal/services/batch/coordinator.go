// Package batch coordinates multi-file ingestion: per-entry upload,
// metadata, quota, and processing with bounded parallelism.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
)

const (
	defaultMaxConcurrency = 3
	maxBatchFiles         = 100
)

// Coordinator implements interfaces.BatchService over the storage manager
// and the file-processing orchestrator.
type Coordinator struct {
	storage   interfaces.StorageManager
	processor interfaces.FileProcessor
	quotas    interfaces.QuotaService
	logger    *common.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // batchID -> cooperative cancel
}

// NewCoordinator creates the batch coordinator. quotas may be nil when
// quotas are disabled.
func NewCoordinator(storage interfaces.StorageManager, processor interfaces.FileProcessor, quotas interfaces.QuotaService, logger *common.Logger) *Coordinator {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Coordinator{
		storage:   storage,
		processor: processor,
		quotas:    quotas,
		logger:    logger,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// CreateBatch validates and persists a new batch in "created" status.
// files and buffers are parallel slices; entry i owns buffers[i].
func (c *Coordinator) CreateBatch(ctx context.Context, files []models.FileMeta, buffers [][]byte, userID string, opts interfaces.BatchOptions) (*models.BatchJob, error) {
	if len(files) == 0 {
		return nil, common.NewPermanentError("batch requires at least one file", nil)
	}
	if len(files) > maxBatchFiles {
		return nil, common.NewPermanentError(fmt.Sprintf("batch exceeds %d file limit", maxBatchFiles), nil)
	}
	if len(buffers) != len(files) {
		return nil, common.NewPermanentError("file metadata and buffers must align", nil)
	}

	concurrency := opts.MaxConcurrency
	if concurrency < 1 {
		concurrency = defaultMaxConcurrency
	}

	batch := &models.BatchJob{
		ID:                uuid.New().String(),
		UserID:            userID,
		Description:       opts.Description,
		Status:            models.BatchStatusCreated,
		TotalFiles:        len(files),
		ProcessInParallel: opts.ProcessInParallel,
		MaxConcurrency:    concurrency,
		CreatedAt:         time.Now(),
	}

	for i, meta := range files {
		batch.Files = append(batch.Files, &models.BatchFileEntry{
			Index:        i,
			OriginalName: meta.OriginalName,
			Mimetype:     meta.Mimetype,
			Size:         meta.Size,
			Buffer:       buffers[i],
			Status:       models.BatchEntryPending,
		})
	}

	if err := c.storage.BatchRepository().Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	c.logger.Info().
		Str("batch_id", batch.ID).
		Str("user_id", userID).
		Int("files", len(files)).
		Bool("parallel", opts.ProcessInParallel).
		Msg("Batch created")

	return batch, nil
}

// StartBatch transitions a created batch to processing and runs its entries
// in the background. Starting a batch twice is an error.
func (c *Coordinator) StartBatch(ctx context.Context, batchID string) error {
	repo := c.storage.BatchRepository()

	batch, err := repo.Get(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status != models.BatchStatusCreated {
		return common.NewPermanentError(fmt.Sprintf("batch %s already started (status %s)", batchID, batch.Status), nil)
	}

	batch.Status = models.BatchStatusProcessing
	batch.StartedAt = time.Now()
	if err := repo.Update(ctx, batch); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancels[batchID] = cancel
	c.mu.Unlock()

	go c.run(runCtx, batch)
	return nil
}

// run executes every entry, then finalizes the batch status.
func (c *Coordinator) run(ctx context.Context, batch *models.BatchJob) {
	defer func() {
		c.mu.Lock()
		if cancel, ok := c.cancels[batch.ID]; ok {
			cancel()
			delete(c.cancels, batch.ID)
		}
		c.mu.Unlock()
	}()

	concurrency := int64(1)
	if batch.ProcessInParallel {
		concurrency = int64(batch.MaxConcurrency)
	}
	sem := semaphore.NewWeighted(concurrency)

	var wg sync.WaitGroup
	for _, entry := range batch.Files {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancelled: remaining entries stay pending.
			break
		}

		wg.Add(1)
		go func(entry *models.BatchFileEntry) {
			defer wg.Done()
			defer sem.Release(1)
			c.processEntry(ctx, batch, entry)
		}(entry)
	}
	wg.Wait()

	c.finalize(batch, ctx.Err() != nil)
}

// processEntry runs one file through validate, quota, upload, metadata,
// and processing. Entry failures are recorded, never propagated.
func (c *Coordinator) processEntry(ctx context.Context, batch *models.BatchJob, entry *models.BatchFileEntry) {
	c.setEntryStatus(batch, entry, models.BatchEntryProcessing, "")

	if err := c.runEntry(ctx, batch, entry); err != nil {
		c.logger.Warn().
			Err(err).
			Str("batch_id", batch.ID).
			Int("file_index", entry.Index).
			Str("file", entry.OriginalName).
			Msg("Batch entry failed")
		c.setEntryStatus(batch, entry, models.BatchEntryFailed, err.Error())
		return
	}

	c.setEntryStatus(batch, entry, models.BatchEntryCompleted, "")
}

func (c *Coordinator) runEntry(ctx context.Context, batch *models.BatchJob, entry *models.BatchFileEntry) error {
	if len(entry.Buffer) == 0 {
		return common.NewPermanentError("empty file buffer", nil)
	}
	if entry.OriginalName == "" {
		return common.NewPermanentError("missing file name", nil)
	}

	if c.quotas != nil {
		if err := c.quotas.Reserve(ctx, batch.UserID, entry.Size); err != nil {
			return err
		}
	}

	stored, err := c.storage.ObjectStore().Upload(ctx, entry.Buffer, entry.OriginalName, entry.Mimetype, interfaces.UploadOptions{
		Folder:       "batches/" + batch.ID,
		ReturnBuffer: true,
	})
	if err != nil {
		c.releaseQuota(batch.UserID, entry.Size)
		return fmt.Errorf("upload failed: %w", err)
	}

	record, err := c.storeFileRecord(ctx, batch, entry, stored)
	if err != nil {
		c.releaseQuota(batch.UserID, entry.Size)
		return err
	}

	c.mu.Lock()
	entry.FileID = record.ID
	entry.PublicID = stored.PublicID
	c.mu.Unlock()

	meta := models.FileMeta{
		OriginalName: entry.OriginalName,
		Mimetype:     entry.Mimetype,
		Size:         entry.Size,
	}
	result, err := c.processor.ProcessFile(ctx, record.ID, meta, stored, interfaces.ProcessOptions{
		UserID: batch.UserID,
	})
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	c.mu.Lock()
	entry.Result = result
	c.mu.Unlock()
	if result.Status == models.ResultStatusFailed {
		return common.NewPermanentError(result.ProcessingError, nil)
	}

	record.Status = models.FileStatusProcessed
	record.UpdatedAt = time.Now()
	if err := c.storage.FileRepository().Update(ctx, record); err != nil {
		c.logger.Warn().Err(err).Str("file_id", record.ID).Msg("Failed to mark file processed")
	}

	return nil
}

// storeFileRecord persists file metadata. When the user already has a file
// with the same logical name the existing record is bumped to version n+1;
// every stored version gets a FileVersion entry.
func (c *Coordinator) storeFileRecord(ctx context.Context, batch *models.BatchJob, entry *models.BatchFileEntry, stored *models.StoredObject) (*models.FileRecord, error) {
	repo := c.storage.FileRepository()
	now := time.Now()
	hash := common.HashContent(entry.Buffer)

	userFiles, err := repo.ListByUser(ctx, batch.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user files: %w", err)
	}
	var record *models.FileRecord
	for _, f := range userFiles {
		if f.OriginalName == entry.OriginalName {
			record = f
			break
		}
	}

	if record != nil {
		record.Version++
		record.Mimetype = entry.Mimetype
		record.Size = entry.Size
		record.PublicID = stored.PublicID
		record.SecureURL = stored.SecureURL
		record.ContentHash = hash
		record.Status = models.FileStatusStored
		record.UpdatedAt = now
		if err := repo.Update(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to persist file metadata: %w", err)
		}
	} else {
		record = &models.FileRecord{
			ID:           uuid.New().String(),
			UserID:       batch.UserID,
			OriginalName: entry.OriginalName,
			Mimetype:     entry.Mimetype,
			Size:         entry.Size,
			PublicID:     stored.PublicID,
			SecureURL:    stored.SecureURL,
			ContentHash:  hash,
			Version:      1,
			Status:       models.FileStatusStored,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := repo.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to persist file metadata: %w", err)
		}
	}

	version := &models.FileVersion{
		FileID:      record.ID,
		Version:     record.Version,
		PublicID:    stored.PublicID,
		Size:        entry.Size,
		ContentHash: hash,
		CreatedAt:   now,
	}
	if err := repo.AddVersion(ctx, version); err != nil {
		c.logger.Warn().Err(err).Str("file_id", record.ID).Msg("Failed to record file version")
	}

	return record, nil
}

func (c *Coordinator) releaseQuota(userID string, size int64) {
	if c.quotas == nil {
		return
	}
	if err := c.quotas.Release(context.Background(), userID, size); err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to release quota reservation")
	}
}

// setEntryStatus updates an entry and the batch counters, persisting the
// batch so progress is visible mid-run. Persistence happens under c.mu so
// the repository never snapshots entries mid-write and progress stays
// monotonic under parallel entries.
func (c *Coordinator) setEntryStatus(batch *models.BatchJob, entry *models.BatchFileEntry, status, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.Status = status
	entry.Error = errMsg

	switch status {
	case models.BatchEntryCompleted:
		entry.ProcessedAt = time.Now()
		entry.Buffer = nil
		batch.ProcessedFiles++
		batch.SuccessfulFiles++
	case models.BatchEntryFailed:
		entry.ProcessedAt = time.Now()
		entry.Buffer = nil
		batch.ProcessedFiles++
		batch.FailedFiles++
	}
	if batch.TotalFiles > 0 {
		batch.Progress = batch.ProcessedFiles * 100 / batch.TotalFiles
	}

	if err := c.storage.BatchRepository().Update(context.Background(), batch); err != nil {
		c.logger.Warn().Err(err).Str("batch_id", batch.ID).Msg("Failed to persist batch progress")
	}
}

// finalize computes the terminal batch status once all entries settled.
func (c *Coordinator) finalize(batch *models.BatchJob, cancelled bool) {
	c.mu.Lock()
	if cancelled {
		batch.Status = models.BatchStatusCancelled
	} else if batch.FailedFiles == 0 {
		batch.Status = models.BatchStatusCompleted
	} else {
		// Entry failures never fail the batch itself.
		batch.Status = models.BatchStatusCompletedWithErrors
	}
	batch.CompletedAt = time.Now()
	for _, entry := range batch.Files {
		entry.Buffer = nil
	}

	if err := c.storage.BatchRepository().Update(context.Background(), batch); err != nil {
		c.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("Failed to persist terminal batch status")
	}
	c.mu.Unlock()

	c.logger.Info().
		Str("batch_id", batch.ID).
		Str("status", batch.Status).
		Int("successful", batch.SuccessfulFiles).
		Int("failed", batch.FailedFiles).
		Msg("Batch finished")
}

// GetBatch returns a batch summary for its owner or an admin.
func (c *Coordinator) GetBatch(ctx context.Context, batchID, userID, role string) (*models.BatchSummary, error) {
	batch, err := c.authorized(ctx, batchID, userID, role)
	if err != nil {
		return nil, err
	}
	return summarize(batch), nil
}

// CancelBatch requests cooperative cancellation of a running batch.
// In-flight entries finish; pending entries are skipped.
func (c *Coordinator) CancelBatch(ctx context.Context, batchID, userID, role string) error {
	batch, err := c.authorized(ctx, batchID, userID, role)
	if err != nil {
		return err
	}

	switch batch.Status {
	case models.BatchStatusCreated:
		batch.Status = models.BatchStatusCancelled
		batch.CompletedAt = time.Now()
		return c.storage.BatchRepository().Update(ctx, batch)
	case models.BatchStatusProcessing:
		c.mu.Lock()
		cancel, ok := c.cancels[batchID]
		c.mu.Unlock()
		if ok {
			cancel()
		}
		return nil
	default:
		return common.NewPermanentError(fmt.Sprintf("batch %s is already %s", batchID, batch.Status), nil)
	}
}

// DeleteBatch removes a terminal batch record.
func (c *Coordinator) DeleteBatch(ctx context.Context, batchID, userID, role string) error {
	batch, err := c.authorized(ctx, batchID, userID, role)
	if err != nil {
		return err
	}
	if batch.Status == models.BatchStatusProcessing {
		return common.NewPermanentError("cannot delete a batch while it is processing", nil)
	}
	return c.storage.BatchRepository().Delete(ctx, batchID)
}

// ListBatches returns the caller's batches, or all batches for admins.
func (c *Coordinator) ListBatches(ctx context.Context, userID, role string) ([]*models.BatchSummary, error) {
	var (
		batches []*models.BatchJob
		err     error
	)
	if role == "admin" {
		batches, err = c.storage.BatchRepository().ListAll(ctx)
	} else {
		batches, err = c.storage.BatchRepository().ListByUser(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	summaries := make([]*models.BatchSummary, 0, len(batches))
	for _, batch := range batches {
		summaries = append(summaries, summarize(batch))
	}
	return summaries, nil
}

// authorized loads a batch and enforces owner-or-admin access.
func (c *Coordinator) authorized(ctx context.Context, batchID, userID, role string) (*models.BatchJob, error) {
	batch, err := c.storage.BatchRepository().Get(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.UserID != userID && role != "admin" {
		return nil, &common.PermanentError{
			Message: "not authorized to access this batch",
			Code:    "UNAUTHORIZED",
			Status:  403,
		}
	}
	return batch, nil
}

// summarize builds the API view with results and errors ordered by entry
// index.
func summarize(batch *models.BatchJob) *models.BatchSummary {
	summary := &models.BatchSummary{
		ID:              batch.ID,
		UserID:          batch.UserID,
		Description:     batch.Description,
		Status:          batch.Status,
		TotalFiles:      batch.TotalFiles,
		ProcessedFiles:  batch.ProcessedFiles,
		SuccessfulFiles: batch.SuccessfulFiles,
		FailedFiles:     batch.FailedFiles,
		Progress:        batch.Progress,
		CreatedAt:       batch.CreatedAt,
		StartedAt:       batch.StartedAt,
		CompletedAt:     batch.CompletedAt,
	}

	for _, entry := range batch.Files {
		switch entry.Status {
		case models.BatchEntryCompleted:
			summary.Results = append(summary.Results, models.BatchEntryResult{
				FileIndex:    entry.Index,
				OriginalName: entry.OriginalName,
				FileID:       entry.FileID,
				Result:       entry.Result,
			})
		case models.BatchEntryFailed:
			summary.Errors = append(summary.Errors, models.BatchEntryError{
				FileIndex:    entry.Index,
				OriginalName: entry.OriginalName,
				Error:        entry.Error,
			})
		}
	}
	return summary
}
