package orchestrator

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
	"github.com/depotlabs/depot/internal/queue"
)

// stubFetcher serves canned bytes. Buffer can fail a number of times before
// succeeding; Stream prefers streamData when present so a test can make
// downloads fail while streaming still works.
type stubFetcher struct {
	mu         sync.Mutex
	data       []byte
	streamData []byte
	failures   int
	err        error
	calls      int
}

func (f *stubFetcher) Buffer(_ context.Context, _ string, _ int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	return f.data, nil
}

func (f *stubFetcher) Stream(ctx context.Context, url string, maxBytes int64) (io.ReadCloser, error) {
	f.mu.Lock()
	if f.streamData != nil {
		data := f.streamData
		f.mu.Unlock()
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	f.mu.Unlock()
	data, err := f.Buffer(ctx, url, maxBytes)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stubStore records deletions and answers thumbnails with a fixed URL.
type stubStore struct {
	mu       sync.Mutex
	deleted  []string
	thumbURL string
	thumbErr error
}

func (s *stubStore) Upload(_ context.Context, buffer []byte, originalName, _ string, _ interfaces.UploadOptions) (*models.StoredObject, error) {
	return &models.StoredObject{PublicID: originalName, Size: int64(len(buffer))}, nil
}

func (s *stubStore) Delete(_ context.Context, publicID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, publicID)
	return nil
}

func (s *stubStore) ThumbnailURL(_ string, _ interfaces.ThumbnailOptions) (string, error) {
	return s.thumbURL, s.thumbErr
}

func (s *stubStore) DownloadURL(publicID, _, _ string) (string, error) {
	return "https://stub/" + publicID, nil
}

func (s *stubStore) GetMetadata(_ context.Context, publicID, resourceType string) (*models.StoredObject, error) {
	return &models.StoredObject{PublicID: publicID, ResourceType: resourceType}, nil
}

func (s *stubStore) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func newTestOrchestrator(t *testing.T, store *stubStore, fetcher *stubFetcher, cfg Config) *Orchestrator {
	t.Helper()
	logger := common.NewSilentLogger()
	reg := queue.NewRegistry(logger)
	o := New(reg, store, fetcher, cfg, logger)
	t.Cleanup(func() {
		o.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return o
}

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 0x11, G: 0x22, B: 0x33, A: 0xFF})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestProcessFileImage(t *testing.T) {
	store := &stubStore{thumbURL: "https://stub/thumb.jpg"}
	o := newTestOrchestrator(t, store, &stubFetcher{}, Config{CompressionEnabled: true})

	buffer := testPNG(t, 12, 8)
	result, err := o.ProcessFile(context.Background(), "file-1", models.FileMeta{
		OriginalName: "photo.png",
		Mimetype:     "image/png",
		Size:         int64(len(buffer)),
	}, &models.StoredObject{
		PublicID:  "photo",
		SecureURL: "memory://depot/photo",
		Size:      int64(len(buffer)),
		Buffer:    buffer,
	}, interfaces.ProcessOptions{UserID: "user-1"})

	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusProcessed, result.Status)
	require.NotNil(t, result.Image)
	assert.Equal(t, 12, result.Image.Width)
	assert.Equal(t, 8, result.Image.Height)

	// Images never go through gzip even with compression enabled.
	assert.Nil(t, result.Compression)
}

func TestProcessFileCSVWithCompression(t *testing.T) {
	o := newTestOrchestrator(t, &stubStore{}, &stubFetcher{}, Config{CompressionEnabled: true})

	buffer := []byte("id,name\n1,alice\n2,bob\n")
	result, err := o.ProcessFile(context.Background(), "file-2", models.FileMeta{
		OriginalName: "data.csv",
		Mimetype:     "text/csv",
		Size:         int64(len(buffer)),
	}, &models.StoredObject{
		PublicID:  "data",
		SecureURL: "memory://depot/data",
		Size:      int64(len(buffer)),
		Buffer:    buffer,
	}, interfaces.ProcessOptions{})

	require.NoError(t, err)
	require.NotNil(t, result.CSV)
	assert.Equal(t, 2, result.CSV.RowCount)
	require.NotNil(t, result.Compression)
	assert.True(t, result.Compression.Compressed)
	assert.Equal(t, int64(len(buffer)), result.Compression.OriginalSize)
	assert.Greater(t, result.Compression.CompressedSize, int64(0))
}

func TestProcessFileDisableCompression(t *testing.T) {
	o := newTestOrchestrator(t, &stubStore{}, &stubFetcher{}, Config{CompressionEnabled: true})

	result, err := o.ProcessFile(context.Background(), "file-3", models.FileMeta{
		OriginalName: "data.csv",
		Mimetype:     "text/csv",
	}, &models.StoredObject{
		PublicID: "data",
		Buffer:   []byte("a,b\n1,2\n"),
	}, interfaces.ProcessOptions{DisableCompression: true})

	require.NoError(t, err)
	assert.Nil(t, result.Compression)
}

func TestProcessFileUnsupportedMIME(t *testing.T) {
	o := newTestOrchestrator(t, &stubStore{}, &stubFetcher{}, Config{})

	result, err := o.ProcessFile(context.Background(), "file-4", models.FileMeta{
		OriginalName: "archive.zip",
		Mimetype:     "application/zip",
	}, &models.StoredObject{
		PublicID: "archive",
		Buffer:   []byte("PK..."),
	}, interfaces.ProcessOptions{})

	// Failure is reported on the result, not as an error.
	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusFailed, result.Status)
	assert.Contains(t, result.ProcessingError, "Unsupported MIME type: application/zip")
	assert.Equal(t, "archive.zip", result.OriginalName)
}

func TestProcessFileCompressionFailureIsSwallowed(t *testing.T) {
	// Streaming succeeds so CSV analysis passes, but the buffer download for
	// compression keeps failing. The result must still come back processed.
	fetcher := &stubFetcher{
		streamData: []byte("a,b\n1,2\n"),
		failures:   1 << 20,
		err:        common.NewRetryableError("connection reset", nil),
	}
	o := newTestOrchestrator(t, &stubStore{}, fetcher, Config{CompressionEnabled: true})

	result, err := o.ProcessFile(context.Background(), "file-5", models.FileMeta{
		OriginalName: "data.csv",
		Mimetype:     "text/csv",
	}, &models.StoredObject{PublicID: "data", SecureURL: "memory://depot/data"}, interfaces.ProcessOptions{})

	require.NoError(t, err)
	assert.Equal(t, models.ResultStatusProcessed, result.Status)
	require.NotNil(t, result.CSV)
	assert.Nil(t, result.Compression)
}

func TestProcessFileTransientDownloadRetried(t *testing.T) {
	fetcher := &stubFetcher{
		data:     testPNG(t, 5, 5),
		failures: 1,
		err:      common.NewRetryableError("connection reset", nil),
	}
	store := &stubStore{thumbURL: "https://stub/thumb.jpg"}
	o := newTestOrchestrator(t, store, fetcher, Config{})

	jobID, err := o.StartJob(context.Background(), "file-6", models.FileMeta{
		OriginalName: "photo.png",
		Mimetype:     "image/png",
	}, &models.StoredObject{PublicID: "photo", SecureURL: "memory://depot/photo"}, interfaces.ProcessOptions{})
	require.NoError(t, err)

	select {
	case job := <-o.Queue().Wait(jobID):
		require.NotNil(t, job)
		assert.Equal(t, models.JobStatusCompleted, job.Status)
		// The download retry happened inside a single queue attempt.
		assert.Equal(t, 1, job.Attempts)
		result, ok := job.Result.(*models.ProcessingResult)
		require.True(t, ok)
		assert.Equal(t, 5, result.Image.Width)
	case <-time.After(10 * time.Second):
		t.Fatal("job did not complete")
	}
	assert.Equal(t, 2, fetcher.callCount())
}

func TestFileTrackingClearedAtTerminal(t *testing.T) {
	o := newTestOrchestrator(t, &stubStore{thumbURL: "https://stub/t.jpg"}, &stubFetcher{}, Config{})

	buffer := testPNG(t, 3, 3)
	_, err := o.ProcessFile(context.Background(), "file-7", models.FileMeta{
		OriginalName: "photo.png",
		Mimetype:     "image/png",
	}, &models.StoredObject{PublicID: "photo", Buffer: buffer}, interfaces.ProcessOptions{})
	require.NoError(t, err)

	// The event subscriber drops the entry asynchronously once terminal.
	require.Eventually(t, func() bool {
		_, ok := o.FileJob("file-7")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCleanupFileDeletesStoredObject(t *testing.T) {
	store := &stubStore{}
	o := newTestOrchestrator(t, store, &stubFetcher{}, Config{})

	_, err := o.CleanupFile(context.Background(), "file-8", "public-8", "image")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ids := store.deletedIDs()
		return len(ids) == 1 && ids[0] == "public-8"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartJobReturnsImmediately(t *testing.T) {
	o := newTestOrchestrator(t, &stubStore{thumbURL: "https://stub/t.jpg"}, &stubFetcher{}, Config{})

	buffer := testPNG(t, 2, 2)
	jobID, err := o.StartJob(context.Background(), "file-9", models.FileMeta{
		OriginalName: "photo.png",
		Mimetype:     "image/png",
	}, &models.StoredObject{PublicID: "photo", Buffer: buffer}, interfaces.ProcessOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	select {
	case job := <-o.Queue().Wait(jobID):
		require.NotNil(t, job)
		assert.Equal(t, models.JobStatusCompleted, job.Status)
	case <-time.After(10 * time.Second):
		t.Fatal("job did not complete")
	}
}
