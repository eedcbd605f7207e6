package processors

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	// Decoders registered for image.DecodeConfig / image.Decode.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
	"github.com/depotlabs/depot/internal/retry"
)

const (
	DefaultMaxImageBytes = 20 << 20
	thumbnailSize        = 200
	thumbnailQuality     = 80
)

// ImageProcessor introspects image files and produces thumbnails.
type ImageProcessor struct {
	store    interfaces.ObjectStore
	fetcher  Fetcher
	exec     *retry.Executor
	logger   *common.Logger
	maxBytes int64
}

// Fetcher pulls object payloads with a byte cap.
type Fetcher interface {
	Buffer(ctx context.Context, url string, maxBytes int64) ([]byte, error)
}

// NewImageProcessor creates an image processor. maxBytes <= 0 uses the
// default 20 MiB cap.
func NewImageProcessor(store interfaces.ObjectStore, fetcher Fetcher, logger *common.Logger, maxBytes int64) *ImageProcessor {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &ImageProcessor{
		store:    store,
		fetcher:  fetcher,
		exec:     retry.New(retry.Network(), logger),
		logger:   logger,
		maxBytes: maxBytes,
	}
}

// Process extracts image metadata and attaches a thumbnail. When the store
// receipt already carries dimensions the download is skipped; thumbnail
// failures are recorded on the result, never raised.
func (p *ImageProcessor) Process(ctx context.Context, meta models.FileMeta, stored *models.StoredObject) (*models.ProcessingResult, error) {
	result := &models.ProcessingResult{
		Status:       models.ResultStatusProcessed,
		ProcessedAt:  time.Now(),
		OriginalName: meta.OriginalName,
		Mimetype:     meta.Mimetype,
		PublicID:     stored.PublicID,
		SecureURL:    stored.SecureURL,
		Size:         stored.Size,
		Format:       stored.Format,
		ResourceType: "image",
	}

	details := &models.ImageDetails{
		Width:  stored.Width,
		Height: stored.Height,
		Format: stored.Format,
	}
	result.Image = details

	var buffer []byte
	if stored.Buffer != nil {
		buffer = stored.Buffer
	}

	// Dimensions missing from the receipt: pull the bytes and decode.
	if details.Width == 0 || details.Height == 0 {
		if buffer == nil {
			data, err := retry.Do(ctx, p.exec, func(ctx context.Context) ([]byte, error) {
				return p.fetcher.Buffer(ctx, stored.SecureURL, p.maxBytes)
			})
			if err != nil {
				return nil, fmt.Errorf("failed to download image: %w", err)
			}
			buffer = data
		}

		if !ValidateBufferType(buffer, FamilyImage) {
			// Best effort for images: a sniff mismatch is only a warning.
			p.logger.Warn().
				Str("name", meta.OriginalName).
				Str("mimetype", meta.Mimetype).
				Msg("Image magic bytes do not match declared type, decoding anyway")
		}

		cfg, format, err := image.DecodeConfig(bytes.NewReader(buffer))
		if err != nil {
			return nil, common.NewPermanentError("invalid image data", err)
		}
		details.Width = cfg.Width
		details.Height = cfg.Height
		details.Format = format
		if result.Format == "" {
			result.Format = format
		}
	}

	p.attachThumbnail(ctx, stored, buffer, details)

	return result, nil
}

// attachThumbnail prefers the store's transformation API and falls back to a
// local 200x200 JPEG encoded as a data URL when bytes are available.
func (p *ImageProcessor) attachThumbnail(ctx context.Context, stored *models.StoredObject, buffer []byte, details *models.ImageDetails) {
	url, err := p.store.ThumbnailURL(stored.PublicID, interfaces.ThumbnailOptions{
		Width:  thumbnailSize,
		Height: thumbnailSize,
		Format: "jpg",
	})
	if err == nil && url != "" {
		details.ThumbnailURL = url
		details.ThumbnailGenerated = true
		return
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("public_id", stored.PublicID).Msg("Store thumbnail generation failed")
	}

	if buffer == nil {
		data, ferr := retry.Do(ctx, p.exec, func(ctx context.Context) ([]byte, error) {
			return p.fetcher.Buffer(ctx, stored.SecureURL, p.maxBytes)
		})
		if ferr != nil {
			p.logger.Warn().Err(ferr).Str("public_id", stored.PublicID).Msg("Thumbnail download failed")
			return
		}
		buffer = data
	}

	dataURL, err := localThumbnail(buffer)
	if err != nil {
		p.logger.Warn().Err(err).Str("public_id", stored.PublicID).Msg("Local thumbnail generation failed")
		return
	}
	details.ThumbnailURL = dataURL
	details.ThumbnailGenerated = true
}

// localThumbnail scales the image into a 200x200 bounding box and returns a
// JPEG data URL.
func localThumbnail(buffer []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(buffer))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return "", fmt.Errorf("image has empty bounds")
	}

	// Fit within the box preserving aspect ratio.
	tw, th := thumbnailSize, thumbnailSize
	if w > h {
		th = h * thumbnailSize / w
	} else {
		tw = w * thumbnailSize / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
