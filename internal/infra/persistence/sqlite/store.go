// Package sqlite provides a SQLite-backed persistent store that snapshots the
// in-memory state as JSON blobs after every successful transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"tallycore/internal/infra/persistence/memory"
	"tallycore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to a single SQLite table as JSON blobs.
// It snapshots the full state after every successful transaction.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.CheckEngine) (*Store, error) {
	if path == "" {
		path = "tallycore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, &domain.PersistenceError{Op: "open", Key: path, Err: fmt.Errorf("create dirs: %w", err)}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "open", Key: path, Err: err}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, &domain.PersistenceError{Op: "open", Key: path, Err: fmt.Errorf("create state table: %w", err)}
	}
	mem := memory.NewStore(engine)
	s := &Store{Store: mem, db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

var sqliteBuckets = []string{"expenses", "prospects", "favorites"}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return &domain.PersistenceError{Op: "read", Key: s.path, Err: fmt.Errorf("select state: %w", err)}
	}
	defer func() { _ = rows.Close() }()
	type raw struct {
		bucket  string
		payload []byte
	}
	var raws []raw
	for rows.Next() {
		var r raw
		if err := rows.Scan(&r.bucket, &r.payload); err != nil {
			return &domain.PersistenceError{Op: "read", Key: s.path, Err: fmt.Errorf("scan: %w", err)}
		}
		raws = append(raws, r)
	}
	if err := rows.Err(); err != nil {
		return &domain.PersistenceError{Op: "read", Key: s.path, Err: err}
	}
	if len(raws) == 0 {
		return nil
	}
	snapshot := memory.Snapshot{}
	for _, r := range raws {
		switch r.bucket {
		case "expenses":
			if err := json.Unmarshal(r.payload, &snapshot.Expenses); err != nil {
				return &domain.PersistenceError{Op: "decode", Key: r.bucket, Err: err}
			}
		case "prospects":
			if err := json.Unmarshal(r.payload, &snapshot.Prospects); err != nil {
				return &domain.PersistenceError{Op: "decode", Key: r.bucket, Err: err}
			}
		case "favorites":
			if err := json.Unmarshal(r.payload, &snapshot.Favorites); err != nil {
				return &domain.PersistenceError{Op: "decode", Key: r.bucket, Err: err}
			}
		}
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return &domain.PersistenceError{Op: "write", Key: s.path, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		var data []byte
		switch bucket {
		case "expenses":
			data, err = json.Marshal(snapshot.Expenses)
		case "prospects":
			data, err = json.Marshal(snapshot.Prospects)
		case "favorites":
			data, err = json.Marshal(snapshot.Favorites)
		}
		if err != nil {
			return &domain.PersistenceError{Op: "encode", Key: bucket, Err: err}
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return &domain.PersistenceError{Op: "write", Key: bucket, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &domain.PersistenceError{Op: "write", Key: s.path, Err: err}
	}
	committed = true
	return nil
}

// RunInTransaction applies the provided function within a transaction, then snapshots state to SQLite if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
