// Package bolt provides a bbolt-backed persistent store. Each entity kind is
// stored in its own bucket keyed by ID, re-snapshotted after every successful
// transaction.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	bolt "go.etcd.io/bbolt"

	"tallycore/internal/infra/persistence/memory"
	"tallycore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

var (
	bucketExpenses  = []byte("expenses")
	bucketProspects = []byte("prospects")
	bucketFavorites = []byte("favorites")
)

// Store persists state to a bbolt file while reusing the in-memory
// implementation for transactions.
type Store struct {
	*memory.Store
	db   *bolt.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (creating if needed) a bbolt file at path and hydrates the
// in-memory store from its contents.
func NewStore(path string, engine *domain.CheckEngine) (*Store, error) {
	if path == "" {
		path = "tallycore.bolt"
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "open", Key: path, Err: err}
	}
	mem := memory.NewStore(engine)
	s := &Store{Store: mem, db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	snapshot := memory.Snapshot{
		Expenses:  map[string]domain.Expense{},
		Prospects: map[string]domain.Prospect{},
		Favorites: map[string]domain.Favorite{},
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketExpenses); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				var e domain.Expense
				if err := json.Unmarshal(v, &e); err != nil {
					return &domain.PersistenceError{Op: "decode", Key: string(k), Err: err}
				}
				snapshot.Expenses[string(k)] = e
				return nil
			}); err != nil {
				return err
			}
		}
		if b := tx.Bucket(bucketProspects); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				var p domain.Prospect
				if err := json.Unmarshal(v, &p); err != nil {
					return &domain.PersistenceError{Op: "decode", Key: string(k), Err: err}
				}
				snapshot.Prospects[string(k)] = p
				return nil
			}); err != nil {
				return err
			}
		}
		if b := tx.Bucket(bucketFavorites); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				var f domain.Favorite
				if err := json.Unmarshal(v, &f); err != nil {
					return &domain.PersistenceError{Op: "decode", Key: string(k), Err: err}
				}
				snapshot.Favorites[string(k)] = f
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(snapshot.Expenses)+len(snapshot.Prospects)+len(snapshot.Favorites) == 0 {
		return nil
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := rewriteBucket(tx, bucketExpenses, func(b *bolt.Bucket) error {
			for id, e := range snapshot.Expenses {
				data, err := json.Marshal(e)
				if err != nil {
					return &domain.PersistenceError{Op: "encode", Key: id, Err: err}
				}
				if err := b.Put([]byte(id), data); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		if err := rewriteBucket(tx, bucketProspects, func(b *bolt.Bucket) error {
			for id, p := range snapshot.Prospects {
				data, err := json.Marshal(p)
				if err != nil {
					return &domain.PersistenceError{Op: "encode", Key: id, Err: err}
				}
				if err := b.Put([]byte(id), data); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		return rewriteBucket(tx, bucketFavorites, func(b *bolt.Bucket) error {
			for key, f := range snapshot.Favorites {
				data, err := json.Marshal(f)
				if err != nil {
					return &domain.PersistenceError{Op: "encode", Key: key, Err: err}
				}
				if err := b.Put([]byte(key), data); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		var pErr *domain.PersistenceError
		if errors.As(err, &pErr) {
			return err
		}
		return &domain.PersistenceError{Op: "write", Key: s.path, Err: err}
	}
	return nil
}

// rewriteBucket drops and recreates a bucket so removals are reflected on disk.
func rewriteBucket(tx *bolt.Tx, name []byte, fill func(*bolt.Bucket) error) error {
	if tx.Bucket(name) != nil {
		if err := tx.DeleteBucket(name); err != nil {
			return err
		}
	}
	b, err := tx.CreateBucket(name)
	if err != nil {
		return err
	}
	return fill(b)
}

// RunInTransaction applies the provided function within a transaction, then snapshots state to bbolt if successful.
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

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
