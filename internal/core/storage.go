package core

import (
	"context"
	"fmt"
	"os"

	"tallycore/internal/blob"
	"tallycore/internal/infra/persistence/blobstore"
	"tallycore/internal/infra/persistence/bolt"
	"tallycore/internal/infra/persistence/memory"
	"tallycore/internal/infra/persistence/postgres"
	"tallycore/internal/infra/persistence/sqlite"
	"tallycore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StorageBolt     StorageDriver = "bolt"     // embedded bbolt file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageBlob     StorageDriver = "blob"     // snapshot blob in a blob store
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	TALLYCORE_STORAGE_DRIVER: memory|sqlite|bolt|postgres|blob (default sqlite)
//	TALLYCORE_SQLITE_PATH: path to sqlite file (default ./tallycore.db)
//	TALLYCORE_BOLT_PATH: path to bbolt file (default ./tallycore.bolt)
//	TALLYCORE_POSTGRES_DSN: postgres DSN when driver=postgres
//	TALLYCORE_BLOB_*: blob store configuration when driver=blob (see blob package)
func OpenPersistentStore(ctx context.Context, engine *domain.CheckEngine) (PersistentStore, error) {
	driver := os.Getenv("TALLYCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("TALLYCORE_SQLITE_PATH"), engine)
	case StorageBolt:
		return bolt.NewStore(os.Getenv("TALLYCORE_BOLT_PATH"), engine)
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("TALLYCORE_POSTGRES_DSN"), engine)
	case StorageBlob:
		bs, err := blob.Open(ctx)
		if err != nil {
			return nil, err
		}
		return blobstore.NewStore(ctx, bs, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
