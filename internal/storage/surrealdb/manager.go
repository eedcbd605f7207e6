package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	objects *ObjectStore
	files   *FileStore
	batches *BatchStore
	shares  *ShareStore
	quotas  *QuotaStore
}

// NewManager connects to SurrealDB and prepares the tables.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	// Define tables up front; SurrealDB v3 errors on querying tables that
	// do not exist yet.
	tables := []string{"objects", "files", "file_versions", "batches", "shares", "quotas"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	var key []byte
	if config.Encryption.ContentKey != "" {
		key, err = common.ParseContentKey(config.Encryption.ContentKey)
		if err != nil {
			return nil, fmt.Errorf("invalid content encryption key: %w", err)
		}
	}

	m := &Manager{
		db:      db,
		logger:  logger,
		objects: NewObjectStore(db, key, logger),
		files:   NewFileStore(db, logger),
		batches: NewBatchStore(db, logger),
		shares:  NewShareStore(db, logger),
		quotas:  NewQuotaStore(db, logger),
	}

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Bool("encrypted", key != nil).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

func (m *Manager) ObjectStore() interfaces.ObjectStore         { return m.objects }
func (m *Manager) FileRepository() interfaces.FileRepository   { return m.files }
func (m *Manager) BatchRepository() interfaces.BatchRepository { return m.batches }
func (m *Manager) ShareRepository() interfaces.ShareRepository { return m.shares }
func (m *Manager) QuotaRepository() interfaces.QuotaRepository { return m.quotas }

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
