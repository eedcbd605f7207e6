package processors

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
)

// fakeFetcher serves canned payloads and can fail a configurable number of
// times before succeeding, to exercise the network retry path.
type fakeFetcher struct {
	mu       sync.Mutex
	data     []byte
	failures int
	err      error
	calls    int
}

func (f *fakeFetcher) Buffer(_ context.Context, _ string, _ int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeFetcher) Stream(ctx context.Context, url string, maxBytes int64) (io.ReadCloser, error) {
	data, err := f.Buffer(ctx, url, maxBytes)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStore implements interfaces.ObjectStore with a controllable thumbnail
// response. Only ThumbnailURL matters to the processors.
type fakeStore struct {
	thumbURL string
	thumbErr error
}

func (s *fakeStore) Upload(_ context.Context, buffer []byte, originalName, mimetype string, _ interfaces.UploadOptions) (*models.StoredObject, error) {
	return &models.StoredObject{PublicID: originalName, Size: int64(len(buffer)), Buffer: buffer}, nil
}

func (s *fakeStore) Delete(_ context.Context, _, _ string) error { return nil }

func (s *fakeStore) ThumbnailURL(_ string, _ interfaces.ThumbnailOptions) (string, error) {
	return s.thumbURL, s.thumbErr
}

func (s *fakeStore) DownloadURL(publicID, _, _ string) (string, error) {
	return "https://fake/" + publicID, nil
}

func (s *fakeStore) GetMetadata(_ context.Context, publicID, resourceType string) (*models.StoredObject, error) {
	return &models.StoredObject{PublicID: publicID, ResourceType: resourceType}, nil
}

// pngBytes encodes a solid-color PNG of the given dimensions.
func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 0x40, G: 0x80, B: 0xC0, A: 0xFF})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pdfBytes assembles a minimal one-page PDF with the given text drawn in
// Helvetica, computing xref offsets as it goes.
func pdfBytes(t *testing.T, text string) []byte {
	t.Helper()

	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xrefStart)

	return buf.Bytes()
}
