// Package storage selects and constructs the configured storage backend.
package storage

import (
	"fmt"
	"strings"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/interfaces"
	"github.com/depotlabs/depot/internal/storage/memory"
	"github.com/depotlabs/depot/internal/storage/surrealdb"
)

// NewManager creates the storage manager for the configured backend.
// "memory" is the default and needs no external services.
func NewManager(logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	backend := strings.ToLower(strings.TrimSpace(config.Storage.Backend))

	switch backend {
	case "", "memory":
		return memory.NewManager(logger, config)
	case "surrealdb":
		return surrealdb.NewManager(logger, config)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", config.Storage.Backend)
	}
}
