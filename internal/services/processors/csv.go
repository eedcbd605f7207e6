package processors

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/models"
	"github.com/depotlabs/depot/internal/retry"
)

const (
	DefaultMaxCSVBytes = 50 << 20
	sampleRows         = 3
)

// Header fragments that flag potentially sensitive columns.
var sensitiveHeaderPatterns = []string{
	"password", "ssn", "social", "credit", "card", "phone", "email",
}

// StreamFetcher opens a bounded download stream.
type StreamFetcher interface {
	Fetcher
	Stream(ctx context.Context, url string, maxBytes int64) (io.ReadCloser, error)
}

// CSVProcessor stream-parses CSV files into schema metadata.
type CSVProcessor struct {
	fetcher  StreamFetcher
	exec     *retry.Executor
	logger   *common.Logger
	maxBytes int64
}

// NewCSVProcessor creates a CSV processor. maxBytes <= 0 uses the default
// 50 MiB cap.
func NewCSVProcessor(fetcher StreamFetcher, logger *common.Logger, maxBytes int64) *CSVProcessor {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCSVBytes
	}
	return &CSVProcessor{
		fetcher:  fetcher,
		exec:     retry.New(retry.Network(), logger),
		logger:   logger,
		maxBytes: maxBytes,
	}
}

// Process streams the CSV, reads headers, counts rows, and flags sensitive
// columns. Parse errors are permanent; stream errors retry.
func (p *CSVProcessor) Process(ctx context.Context, meta models.FileMeta, stored *models.StoredObject) (*models.ProcessingResult, error) {
	details, err := retry.Do(ctx, p.exec, func(ctx context.Context) (*models.CSVDetails, error) {
		return p.analyze(ctx, stored)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("name", meta.OriginalName).
		Int("rows", details.RowCount).
		Int("columns", details.ColumnCount).
		Bool("sensitive", details.HasSensitiveData).
		Msg("CSV processed")

	return &models.ProcessingResult{
		Status:       models.ResultStatusProcessed,
		ProcessedAt:  time.Now(),
		OriginalName: meta.OriginalName,
		Mimetype:     meta.Mimetype,
		PublicID:     stored.PublicID,
		SecureURL:    stored.SecureURL,
		Size:         stored.Size,
		Format:       "csv",
		ResourceType: "raw",
		CSV:          details,
	}, nil
}

// analyze performs one streaming parse pass.
func (p *CSVProcessor) analyze(ctx context.Context, stored *models.StoredObject) (*models.CSVDetails, error) {
	var reader io.Reader
	if stored.Buffer != nil {
		reader = bytes.NewReader(stored.Buffer)
	} else {
		stream, err := p.fetcher.Stream(ctx, stored.SecureURL, p.maxBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to open CSV stream: %w", err)
		}
		defer stream.Close()
		reader = stream
	}

	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = -1 // column counts vary in the wild; we count, not reject
	cr.TrimLeadingSpace = true

	headers, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, common.NewPermanentError("malformed CSV: file is empty", nil)
		}
		return nil, classifyCSVError(err)
	}

	columns := make([]string, 0, len(headers))
	for _, h := range headers {
		columns = append(columns, strings.TrimSpace(h))
	}

	details := &models.CSVDetails{
		Columns:          columns,
		ColumnCount:      len(columns),
		HasSensitiveData: hasSensitiveHeaders(columns),
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				// Skip malformed rows; they are counted out, not fatal.
				continue
			}
			return nil, classifyCSVError(err)
		}

		if isEmptyRecord(record) {
			continue
		}

		details.RowCount++
		if details.SampleRowCount < sampleRows {
			details.SampleRowCount++
		}
	}

	return details, nil
}

// classifyCSVError maps parse failures permanent and stream failures retryable.
func classifyCSVError(err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return common.NewPermanentError("malformed CSV", err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "invalid") || strings.Contains(msg, "malformed") {
		return common.NewPermanentError("malformed CSV", err)
	}
	if common.IsPermanent(err) {
		return err
	}
	return common.NewRetryableError("CSV stream failed", err)
}

func hasSensitiveHeaders(columns []string) bool {
	for _, col := range columns {
		lower := strings.ToLower(col)
		for _, pattern := range sensitiveHeaderPatterns {
			if strings.Contains(lower, pattern) {
				return true
			}
		}
	}
	return false
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
