// Package core wires ordergate together: it selects the error store driver and
// assembles the application from configuration.
package core

import (
	"context"
	"fmt"

	"ordergate/internal/blob"
	"ordergate/internal/config"
	"ordergate/internal/infra/persistence/blobstore"
	"ordergate/internal/infra/persistence/memory"
	"ordergate/internal/infra/persistence/postgres"
	"ordergate/internal/infra/persistence/sqlite"
	"ordergate/pkg/domain"
)

// OpenErrorStore returns the error store selected by cfg.Driver. blobs is only
// consulted for the blob driver and may be nil otherwise.
//
//	memory:   in-process map (tests / ephemeral)
//	sqlite:   embedded file at cfg.SQLitePath (default)
//	postgres: server at cfg.PostgresDSN
//	blob:     one JSON object per entry in the configured blob store
func OpenErrorStore(ctx context.Context, cfg config.StorageConfig, blobs blob.Store) (domain.ErrorStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.StorageSQLite
	}
	switch driver {
	case config.StorageMemory:
		return memory.NewStore(), nil
	case config.StorageSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case config.StorageBlob:
		if blobs == nil {
			return nil, fmt.Errorf("storage driver %s requires a blob store", driver)
		}
		return blobstore.New(blobs), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
