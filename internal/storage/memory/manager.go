// Package memory implements the storage manager with in-process state.
// It is the default backend for development and tests.
package memory

import (
	"fmt"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
)

// Manager implements interfaces.StorageManager with in-memory stores.
type Manager struct {
	logger *common.Logger

	objects *ObjectStore
	files   *FileRepo
	batches *BatchRepo
	shares  *ShareRepo
	quotas  *QuotaRepo
}

// NewManager creates the in-memory storage manager. When the config
// carries a content key, object payloads are encrypted at rest.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	var key []byte
	if config != nil && config.Encryption.ContentKey != "" {
		parsed, err := common.ParseContentKey(config.Encryption.ContentKey)
		if err != nil {
			return nil, fmt.Errorf("invalid content encryption key: %w", err)
		}
		key = parsed
	}

	m := &Manager{
		logger:  logger,
		objects: NewObjectStore(key, logger),
		files:   NewFileRepo(),
		batches: NewBatchRepo(),
		shares:  NewShareRepo(),
		quotas:  NewQuotaRepo(),
	}

	logger.Info().
		Bool("encrypted", key != nil).
		Msg("In-memory storage manager initialized")

	return m, nil
}

func (m *Manager) ObjectStore() interfaces.ObjectStore         { return m.objects }
func (m *Manager) FileRepository() interfaces.FileRepository   { return m.files }
func (m *Manager) BatchRepository() interfaces.BatchRepository { return m.batches }
func (m *Manager) ShareRepository() interfaces.ShareRepository { return m.shares }
func (m *Manager) QuotaRepository() interfaces.QuotaRepository { return m.quotas }

func (m *Manager) Close() error { return nil }

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
