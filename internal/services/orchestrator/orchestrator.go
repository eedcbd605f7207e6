// Package orchestrator wires the typed file processors into the "processing"
// queue and tracks per-file job state.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
	"github.com/depotlabs/depot/internal/queue"
	"github.com/depotlabs/depot/internal/services/processors"
)

// QueueName is the queue all file-processing jobs run on.
const QueueName = "processing"

const (
	queueConcurrency = 3
	queueMaxJobs     = 500
)

// ProcessPayload is the input of a file_processing job.
type ProcessPayload struct {
	FileID      string
	Meta        models.FileMeta
	Stored      *models.StoredObject
	Compression bool
}

// CompressPayload is the input of a file_compression job.
type CompressPayload struct {
	FileID string
	Meta   models.FileMeta
	Stored *models.StoredObject
}

// ThumbnailPayload is the input of a thumbnail_generation job.
type ThumbnailPayload struct {
	FileID string
	Stored *models.StoredObject
}

// CleanupPayload is the input of a file_cleanup job.
type CleanupPayload struct {
	FileID       string
	PublicID     string
	ResourceType string
}

// FileJobInfo is the orchestrator's per-file bookkeeping entry.
type FileJobInfo struct {
	JobID     string
	FileID    string
	Status    string
	Progress  int
	StartTime time.Time
	Result    *models.ProcessingResult
	Error     string
}

// Orchestrator registers the processing handlers and exposes blocking and
// polling APIs over the queue.
type Orchestrator struct {
	q       *queue.Queue
	store   interfaces.ObjectStore
	fetcher processors.StreamFetcher
	images  *processors.ImageProcessor
	pdfs    *processors.PDFProcessor
	csvs    *processors.CSVProcessor
	logger  *common.Logger

	compressionDefault bool

	mu    sync.Mutex
	files map[string]*FileJobInfo // fileID -> tracking entry
	byJob map[string]string       // jobID -> fileID

	unsubscribe func()
}

// Config tunes the orchestrator's processors.
type Config struct {
	MaxImageBytes      int64
	MaxPDFBytes        int64
	MaxCSVBytes        int64
	CompressionEnabled bool
	DefaultTimeout     time.Duration
}

// New creates the orchestrator, its queue, and its handlers.
func New(reg *queue.Registry, store interfaces.ObjectStore, fetcher processors.StreamFetcher, cfg Config, logger *common.Logger) *Orchestrator {
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	q := reg.Get(QueueName, queue.Options{
		Concurrency:    queueConcurrency,
		MaxJobs:        queueMaxJobs,
		DefaultTimeout: cfg.DefaultTimeout,
	})

	o := &Orchestrator{
		q:                  q,
		store:              store,
		fetcher:            fetcher,
		images:             processors.NewImageProcessor(store, fetcher, logger, cfg.MaxImageBytes),
		pdfs:               processors.NewPDFProcessor(fetcher, logger, cfg.MaxPDFBytes),
		csvs:               processors.NewCSVProcessor(fetcher, logger, cfg.MaxCSVBytes),
		logger:             logger,
		compressionDefault: cfg.CompressionEnabled,
		files:              make(map[string]*FileJobInfo),
		byJob:              make(map[string]string),
	}

	q.RegisterProcessor(models.JobTypeFileProcessing, o.processFileJob)
	q.RegisterProcessor(models.JobTypeFileCompression, o.compressJob)
	q.RegisterProcessor(models.JobTypeThumbnailGeneration, o.thumbnailJob)
	q.RegisterProcessor(models.JobTypeFileCleanup, o.cleanupJob)

	events, cancel := q.Events().Subscribe()
	o.unsubscribe = cancel
	go o.trackEvents(events)

	return o
}

// Queue exposes the processing queue for introspection.
func (o *Orchestrator) Queue() *queue.Queue { return o.q }

// StartJob enqueues a file_processing job for a stored file.
func (o *Orchestrator) StartJob(ctx context.Context, fileID string, meta models.FileMeta, stored *models.StoredObject, opts interfaces.ProcessOptions) (string, error) {
	payload := ProcessPayload{
		FileID:      fileID,
		Meta:        meta,
		Stored:      stored,
		Compression: o.compressionDefault && !opts.DisableCompression,
	}

	jobID, err := o.q.AddJob(models.JobTypeFileProcessing, payload, queue.AddOptions{
		Priority: opts.Priority,
		UserID:   opts.UserID,
	})
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	info := &FileJobInfo{
		JobID:     jobID,
		FileID:    fileID,
		Status:    models.JobStatusQueued,
		StartTime: time.Now(),
	}
	o.files[fileID] = info
	o.byJob[jobID] = fileID
	o.mu.Unlock()

	o.logger.Debug().
		Str("file_id", fileID).
		Str("job_id", jobID).
		Str("mimetype", meta.Mimetype).
		Msg("File processing job submitted")

	return jobID, nil
}

// ProcessFile submits a job and blocks until it reaches a terminal status.
// A failed job is surfaced as a result with status "failed" and the last
// error message attached, so callers can record the outcome without
// unwrapping queue errors.
func (o *Orchestrator) ProcessFile(ctx context.Context, fileID string, meta models.FileMeta, stored *models.StoredObject, opts interfaces.ProcessOptions) (*models.ProcessingResult, error) {
	jobID, err := o.StartJob(ctx, fileID, meta, stored, opts)
	if err != nil {
		return nil, err
	}

	select {
	case job := <-o.q.Wait(jobID):
		if job == nil {
			return nil, queue.ErrJobNotFound
		}
		return o.resolveResult(job, meta, stored)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveResult converts a terminal job into the caller-facing result.
func (o *Orchestrator) resolveResult(job *models.Job, meta models.FileMeta, stored *models.StoredObject) (*models.ProcessingResult, error) {
	switch job.Status {
	case models.JobStatusCompleted:
		result, ok := job.Result.(*models.ProcessingResult)
		if !ok {
			return nil, fmt.Errorf("unexpected result type %T for job %s", job.Result, job.ID)
		}
		return result, nil

	case models.JobStatusFailed:
		msg := "processing failed"
		if len(job.Errors) > 0 {
			msg = job.Errors[len(job.Errors)-1].Message
		}
		return &models.ProcessingResult{
			Status:          models.ResultStatusFailed,
			ProcessedAt:     time.Now(),
			OriginalName:    meta.OriginalName,
			Mimetype:        meta.Mimetype,
			PublicID:        stored.PublicID,
			SecureURL:       stored.SecureURL,
			Size:            stored.Size,
			ProcessingError: msg,
		}, nil

	default:
		return nil, fmt.Errorf("job %s ended in status %s", job.ID, job.Status)
	}
}

// JobStatus returns the queue's snapshot for a job id.
func (o *Orchestrator) JobStatus(jobID string) (*models.Job, error) {
	return o.q.GetJob(jobID)
}

// FileJob returns the per-file tracking entry, if any.
func (o *Orchestrator) FileJob(fileID string) (*FileJobInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	info, ok := o.files[fileID]
	if !ok {
		return nil, false
	}
	copied := *info
	return &copied, true
}

// CleanupFile enqueues deletion of a removed file's stored object.
func (o *Orchestrator) CleanupFile(ctx context.Context, fileID, publicID, resourceType string) (string, error) {
	return o.q.AddJob(models.JobTypeFileCleanup, CleanupPayload{
		FileID:       fileID,
		PublicID:     publicID,
		ResourceType: resourceType,
	}, queue.AddOptions{Priority: models.PriorityLow})
}

// Close detaches the orchestrator from queue events. The queue itself is
// owned by the registry.
func (o *Orchestrator) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
}

// trackEvents keeps the per-file map in sync with queue transitions and
// drops entries once terminal.
func (o *Orchestrator) trackEvents(events <-chan models.JobEvent) {
	for event := range events {
		if event.Job == nil {
			continue
		}

		o.mu.Lock()
		fileID, ok := o.byJob[event.Job.ID]
		if !ok {
			o.mu.Unlock()
			continue
		}
		info := o.files[fileID]
		info.Status = event.Job.Status
		info.Progress = event.Job.Progress

		if event.Job.Terminal() {
			if result, ok := event.Job.Result.(*models.ProcessingResult); ok {
				info.Result = result
			}
			if len(event.Job.Errors) > 0 {
				info.Error = event.Job.Errors[len(event.Job.Errors)-1].Message
			}
			delete(o.byJob, event.Job.ID)
			delete(o.files, fileID)
		}
		o.mu.Unlock()
	}
}

// processFileJob is the file_processing handler: MIME dispatch, optional
// compression, and progress bookkeeping.
func (o *Orchestrator) processFileJob(ctx context.Context, h *queue.Handle) (any, error) {
	payload, ok := h.Payload().(ProcessPayload)
	if !ok {
		return nil, common.NewPermanentError("invalid file_processing payload", nil)
	}

	h.SetProgress(10)

	result, err := o.processInternal(ctx, payload.Meta, payload.Stored)
	if err != nil {
		return nil, err
	}

	h.SetProgress(70)

	if payload.Compression && supportsCompression(payload.Meta.Mimetype) {
		compression, cerr := o.compress(ctx, payload.Meta, payload.Stored)
		if cerr != nil {
			// The file stays uncompressed; processing still succeeds.
			o.logger.Warn().
				Err(cerr).
				Str("file_id", payload.FileID).
				Msg("Compression failed, keeping file uncompressed")
		} else {
			result.Compression = compression
		}
	}

	h.SetProgress(90)
	h.SetProgress(100)

	return result, nil
}

// processInternal dispatches by MIME type to the typed processors.
func (o *Orchestrator) processInternal(ctx context.Context, meta models.FileMeta, stored *models.StoredObject) (*models.ProcessingResult, error) {
	mimetype := strings.ToLower(meta.Mimetype)

	switch {
	case strings.HasPrefix(mimetype, "image/"):
		return o.images.Process(ctx, meta, stored)
	case mimetype == "application/pdf":
		return o.pdfs.Process(ctx, meta, stored)
	case mimetype == "text/csv" || mimetype == "application/csv" ||
		mimetype == "application/vnd.ms-excel" || mimetype == "text/plain":
		return o.csvs.Process(ctx, meta, stored)
	default:
		return nil, &common.PermanentError{
			Message: fmt.Sprintf("Unsupported MIME type: %s", meta.Mimetype),
			Code:    "INVALID_FILE",
		}
	}
}

// compressJob is the standalone file_compression handler.
func (o *Orchestrator) compressJob(ctx context.Context, h *queue.Handle) (any, error) {
	payload, ok := h.Payload().(CompressPayload)
	if !ok {
		return nil, common.NewPermanentError("invalid file_compression payload", nil)
	}
	h.SetProgress(10)
	details, err := o.compress(ctx, payload.Meta, payload.Stored)
	if err != nil {
		return nil, err
	}
	h.SetProgress(100)
	return details, nil
}

// thumbnailJob is the standalone thumbnail_generation handler.
func (o *Orchestrator) thumbnailJob(ctx context.Context, h *queue.Handle) (any, error) {
	payload, ok := h.Payload().(ThumbnailPayload)
	if !ok {
		return nil, common.NewPermanentError("invalid thumbnail_generation payload", nil)
	}

	url, err := o.store.ThumbnailURL(payload.Stored.PublicID, interfaces.ThumbnailOptions{
		Width: 200, Height: 200, Format: "jpg",
	})
	if err != nil {
		return nil, fmt.Errorf("thumbnail generation failed: %w", err)
	}
	return url, nil
}

// cleanupJob is the file_cleanup handler: delete the stored object.
func (o *Orchestrator) cleanupJob(ctx context.Context, h *queue.Handle) (any, error) {
	payload, ok := h.Payload().(CleanupPayload)
	if !ok {
		return nil, common.NewPermanentError("invalid file_cleanup payload", nil)
	}

	if err := o.store.Delete(ctx, payload.PublicID, payload.ResourceType); err != nil {
		return nil, fmt.Errorf("failed to delete stored object: %w", err)
	}

	o.logger.Debug().
		Str("file_id", payload.FileID).
		Str("public_id", payload.PublicID).
		Msg("Stored object cleaned up")

	return true, nil
}

// compress gzips the file's bytes and reports the size reduction.
func (o *Orchestrator) compress(ctx context.Context, meta models.FileMeta, stored *models.StoredObject) (*models.CompressionDetails, error) {
	buffer := stored.Buffer
	if buffer == nil {
		data, err := o.fetcher.Buffer(ctx, stored.SecureURL, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to download for compression: %w", err)
		}
		buffer = data
	}

	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := gw.Write(buffer); err != nil {
		gw.Close()
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}

	original := int64(len(buffer))
	compressed := int64(buf.Len())
	var ratio float64
	if original > 0 {
		ratio = float64(compressed) / float64(original)
	}

	return &models.CompressionDetails{
		Compressed:     true,
		OriginalSize:   original,
		CompressedSize: compressed,
		Ratio:          ratio,
	}, nil
}

// supportsCompression reports whether gzip is worthwhile for the type.
// Images are already compressed by their container formats.
func supportsCompression(mimetype string) bool {
	m := strings.ToLower(mimetype)
	return m == "application/pdf" || m == "text/csv" || m == "application/csv" ||
		m == "application/vnd.ms-excel" || strings.HasPrefix(m, "text/")
}
