package processors

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/models"
	"github.com/depotlabs/depot/internal/retry"
)

const DefaultMaxPDFBytes = 40 << 20

// PDFProcessor extracts text and page metadata from PDF files.
type PDFProcessor struct {
	fetcher  Fetcher
	exec     *retry.Executor
	logger   *common.Logger
	maxBytes int64
}

// NewPDFProcessor creates a PDF processor. maxBytes <= 0 uses the default
// 40 MiB cap.
func NewPDFProcessor(fetcher Fetcher, logger *common.Logger, maxBytes int64) *PDFProcessor {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPDFBytes
	}
	return &PDFProcessor{
		fetcher:  fetcher,
		exec:     retry.New(retry.Network(), logger),
		logger:   logger,
		maxBytes: maxBytes,
	}
}

// Process downloads and analyzes a PDF. Size and magic-byte violations are
// permanent; download failures retry per the network preset.
func (p *PDFProcessor) Process(ctx context.Context, meta models.FileMeta, stored *models.StoredObject) (*models.ProcessingResult, error) {
	if meta.Size > p.maxBytes {
		return nil, &common.PermanentError{
			Message: fmt.Sprintf("PDF too large to process: %d bytes exceeds limit of %d", meta.Size, p.maxBytes),
		}
	}

	buffer := stored.Buffer
	if buffer == nil {
		data, err := retry.Do(ctx, p.exec, func(ctx context.Context) ([]byte, error) {
			return p.fetcher.Buffer(ctx, stored.SecureURL, p.maxBytes)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to download PDF: %w", err)
		}
		buffer = data
	}

	if !ValidateBufferType(buffer, FamilyPDF) {
		return nil, common.NewPermanentError("file is not a valid PDF: magic bytes mismatch", nil)
	}

	text, pages, err := extractText(buffer)
	if err != nil {
		// The pdf library fails on structural corruption; retrying the same
		// bytes cannot help.
		return nil, common.NewPermanentError("corrupt or invalid PDF", err)
	}

	trimmed := strings.TrimSpace(text)
	details := &models.PDFDetails{
		Pages:         pages,
		WordCount:     len(strings.Fields(trimmed)),
		TextExtracted: trimmed != "",
		HasText:       trimmed != "",
	}

	p.logger.Debug().
		Str("name", meta.OriginalName).
		Int("pages", pages).
		Int("words", details.WordCount).
		Msg("PDF processed")

	return &models.ProcessingResult{
		Status:       models.ResultStatusProcessed,
		ProcessedAt:  time.Now(),
		OriginalName: meta.OriginalName,
		Mimetype:     meta.Mimetype,
		PublicID:     stored.PublicID,
		SecureURL:    stored.SecureURL,
		Size:         stored.Size,
		Format:       "pdf",
		ResourceType: "raw",
		PDF:          details,
	}, nil
}

// extractText pulls plain text from every page. Pages that fail individually
// are skipped; text absence is not an error.
func extractText(buffer []byte) (string, int, error) {
	r, err := pdf.NewReader(bytes.NewReader(buffer), int64(len(buffer)))
	if err != nil {
		return "", 0, fmt.Errorf("failed to open PDF: %w", err)
	}

	var sb strings.Builder
	totalPages := r.NumPage()

	for i := 1; i <= totalPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return sb.String(), totalPages, nil
}
