package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/models"
)

// FileRepo is the in-memory FileRepository.
type FileRepo struct {
	mu       sync.RWMutex
	files    map[string]*models.FileRecord
	versions map[string][]*models.FileVersion // fileID -> versions
}

func NewFileRepo() *FileRepo {
	return &FileRepo{
		files:    make(map[string]*models.FileRecord),
		versions: make(map[string][]*models.FileVersion),
	}
}

func (r *FileRepo) Create(ctx context.Context, file *models.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.files[file.ID]; exists {
		return fmt.Errorf("file already exists: %s", file.ID)
	}
	copied := *file
	r.files[file.ID] = &copied
	return nil
}

func (r *FileRepo) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	file, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", id)
	}
	copied := *file
	return &copied, nil
}

func (r *FileRepo) Update(ctx context.Context, file *models.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[file.ID]; !ok {
		return fmt.Errorf("file not found: %s", file.ID)
	}
	copied := *file
	r.files[file.ID] = &copied
	return nil
}

func (r *FileRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, id)
	delete(r.versions, id)
	return nil
}

func (r *FileRepo) ListByUser(ctx context.Context, userID string) ([]*models.FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.FileRecord
	for _, file := range r.files {
		if file.UserID == userID {
			copied := *file
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *FileRepo) AddVersion(ctx context.Context, v *models.FileVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *v
	r.versions[v.FileID] = append(r.versions[v.FileID], &copied)
	return nil
}

func (r *FileRepo) ListVersions(ctx context.Context, fileID string) ([]*models.FileVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.versions[fileID]
	out := make([]*models.FileVersion, 0, len(versions))
	for _, v := range versions {
		copied := *v
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// BatchRepo is the in-memory BatchRepository.
type BatchRepo struct {
	mu      sync.RWMutex
	batches map[string]*models.BatchJob
}

func NewBatchRepo() *BatchRepo {
	return &BatchRepo{batches: make(map[string]*models.BatchJob)}
}

func (r *BatchRepo) Create(ctx context.Context, batch *models.BatchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.batches[batch.ID]; exists {
		return fmt.Errorf("batch already exists: %s", batch.ID)
	}
	r.batches[batch.ID] = cloneBatch(batch)
	return nil
}

func (r *BatchRepo) Get(ctx context.Context, id string) (*models.BatchJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch not found: %s", id)
	}
	return cloneBatch(batch), nil
}

func (r *BatchRepo) Update(ctx context.Context, batch *models.BatchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[batch.ID]; !ok {
		return fmt.Errorf("batch not found: %s", batch.ID)
	}
	r.batches[batch.ID] = cloneBatch(batch)
	return nil
}

func (r *BatchRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.batches, id)
	return nil
}

func (r *BatchRepo) ListByUser(ctx context.Context, userID string) ([]*models.BatchJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.BatchJob
	for _, batch := range r.batches {
		if batch.UserID == userID {
			out = append(out, cloneBatch(batch))
		}
	}
	sortBatches(out)
	return out, nil
}

func (r *BatchRepo) ListAll(ctx context.Context) ([]*models.BatchJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.BatchJob, 0, len(r.batches))
	for _, batch := range r.batches {
		out = append(out, cloneBatch(batch))
	}
	sortBatches(out)
	return out, nil
}

func sortBatches(batches []*models.BatchJob) {
	sort.Slice(batches, func(i, j int) bool { return batches[i].CreatedAt.After(batches[j].CreatedAt) })
}

// cloneBatch deep-copies a batch so callers never share entry slices with
// the stored record. Buffers are not copied; entry buffers are transient
// and dropped once the entry settles.
func cloneBatch(batch *models.BatchJob) *models.BatchJob {
	copied := *batch
	copied.Files = make([]*models.BatchFileEntry, len(batch.Files))
	for i, entry := range batch.Files {
		e := *entry
		copied.Files[i] = &e
	}
	return &copied
}

// ShareRepo is the in-memory ShareRepository.
type ShareRepo struct {
	mu     sync.RWMutex
	shares map[string]*models.ShareLink
}

func NewShareRepo() *ShareRepo {
	return &ShareRepo{shares: make(map[string]*models.ShareLink)}
}

func (r *ShareRepo) Create(ctx context.Context, link *models.ShareLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.shares[link.ID]; exists {
		return fmt.Errorf("share already exists: %s", link.ID)
	}
	copied := *link
	r.shares[link.ID] = &copied
	return nil
}

func (r *ShareRepo) Get(ctx context.Context, id string) (*models.ShareLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.shares[id]
	if !ok {
		return nil, fmt.Errorf("share not found: %s", id)
	}
	copied := *link
	return &copied, nil
}

func (r *ShareRepo) GetByToken(ctx context.Context, token string) (*models.ShareLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, link := range r.shares {
		if link.Token == token {
			copied := *link
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("share not found for token")
}

func (r *ShareRepo) Update(ctx context.Context, link *models.ShareLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shares[link.ID]; !ok {
		return fmt.Errorf("share not found: %s", link.ID)
	}
	copied := *link
	r.shares[link.ID] = &copied
	return nil
}

func (r *ShareRepo) ListByFile(ctx context.Context, fileID string) ([]*models.ShareLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.ShareLink
	for _, link := range r.shares {
		if link.FileID == fileID {
			copied := *link
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// QuotaRepo is the in-memory QuotaRepository.
type QuotaRepo struct {
	mu     sync.Mutex
	usages map[string]*models.QuotaUsage
}

func NewQuotaRepo() *QuotaRepo {
	return &QuotaRepo{usages: make(map[string]*models.QuotaUsage)}
}

func (r *QuotaRepo) Get(ctx context.Context, userID string) (*models.QuotaUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	usage, ok := r.usages[userID]
	if !ok {
		return &models.QuotaUsage{UserID: userID}, nil
	}
	copied := *usage
	return &copied, nil
}

func (r *QuotaRepo) Set(ctx context.Context, usage *models.QuotaUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *usage
	copied.UpdatedAt = time.Now()
	r.usages[usage.UserID] = &copied
	return nil
}

func (r *QuotaRepo) AddUsage(ctx context.Context, userID string, delta int64) (*models.QuotaUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	usage, ok := r.usages[userID]
	if !ok {
		usage = &models.QuotaUsage{UserID: userID}
		r.usages[userID] = usage
	}
	usage.UsedBytes += delta
	if usage.UsedBytes < 0 {
		usage.UsedBytes = 0
	}
	usage.UpdatedAt = time.Now()
	copied := *usage
	return &copied, nil
}

// Compile-time checks
var (
	_ interfaces.FileRepository  = (*FileRepo)(nil)
	_ interfaces.BatchRepository = (*BatchRepo)(nil)
	_ interfaces.ShareRepository = (*ShareRepo)(nil)
	_ interfaces.QuotaRepository = (*QuotaRepo)(nil)
)
