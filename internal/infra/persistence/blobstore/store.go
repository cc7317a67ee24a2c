// Package blobstore provides a persistent store that snapshots state as a
// single JSON document in a blob store after every successful transaction.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"tallycore/internal/blob"
	"tallycore/internal/infra/persistence/memory"
	"tallycore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// SnapshotKey is the fixed blob key holding the current state snapshot.
const SnapshotKey = "state/snapshot.json"

// warnSnapshotBytes is the size above which a snapshot write logs a warning.
// Large snapshots still persist; the warning flags that a document-per-state
// layout is getting expensive.
const warnSnapshotBytes = 512 * 1024

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for snapshot warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store persists state to a blob store while reusing the in-memory
// implementation for transactions.
type Store struct {
	*memory.Store
	bs     blob.Store
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewStore hydrates a store from the snapshot blob if one exists. A missing
// snapshot yields an empty store; a present but undecodable one is an error.
func NewStore(ctx context.Context, bs blob.Store, engine *domain.CheckEngine, opts ...Option) (*Store, error) {
	s := &Store{Store: memory.NewStore(engine), bs: bs, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	snapshot, found, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if found {
		s.ImportState(snapshot)
	}
	return s, nil
}

// OpenOrEmpty behaves like NewStore but falls back to an empty store when the
// existing snapshot cannot be decoded. The corrupt blob is left in place for
// inspection and the failure is logged.
func OpenOrEmpty(ctx context.Context, bs blob.Store, engine *domain.CheckEngine, opts ...Option) (*Store, error) {
	s, err := NewStore(ctx, bs, engine, opts...)
	if err == nil {
		return s, nil
	}
	var pErr *domain.PersistenceError
	if !errors.As(err, &pErr) {
		return nil, err
	}
	fallback := &Store{Store: memory.NewStore(engine), bs: bs, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(fallback)
	}
	fallback.logger.Warn().Err(err).Str("key", SnapshotKey).Msg("snapshot unreadable, starting empty")
	return fallback, nil
}

func (s *Store) loadSnapshot(ctx context.Context) (memory.Snapshot, bool, error) {
	_, rc, err := s.bs.Get(ctx, SnapshotKey)
	if errors.Is(err, blob.ErrNotFound) {
		return memory.Snapshot{}, false, nil
	}
	if err != nil {
		return memory.Snapshot{}, false, &domain.PersistenceError{Op: "read", Key: SnapshotKey, Err: err}
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return memory.Snapshot{}, false, &domain.PersistenceError{Op: "read", Key: SnapshotKey, Err: err}
	}
	var snapshot memory.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return memory.Snapshot{}, false, &domain.PersistenceError{Op: "decode", Key: SnapshotKey, Err: err}
	}
	return snapshot, true, nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	data, err := json.Marshal(snapshot)
	if err != nil {
		return &domain.PersistenceError{Op: "encode", Key: SnapshotKey, Err: err}
	}
	if len(data) > warnSnapshotBytes {
		s.logger.Warn().Int("size_bytes", len(data)).Str("key", SnapshotKey).Msg("state snapshot is large")
	}
	// Put is create-only, so replace via delete-then-put.
	if _, err := s.bs.Delete(ctx, SnapshotKey); err != nil {
		return &domain.PersistenceError{Op: "write", Key: SnapshotKey, Err: err}
	}
	if _, err := s.bs.Put(ctx, SnapshotKey, bytes.NewReader(data), blob.PutOptions{ContentType: "application/json"}); err != nil {
		return &domain.PersistenceError{Op: "write", Key: SnapshotKey, Err: err}
	}
	return nil
}

// RunInTransaction applies the provided function within a transaction, then snapshots state to the blob store if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(ctx); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// Reload re-reads the snapshot blob and replaces in-memory state with its
// contents, publishing a reload event. Used when an external writer replaced
// the snapshot.
func (s *Store) Reload(ctx context.Context) error {
	snapshot, found, err := s.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	if !found {
		snapshot = memory.Snapshot{}
	}
	s.ImportState(snapshot)
	return nil
}

// Blob exposes the underlying blob store for integration hooks.
func (s *Store) Blob() blob.Store { return s.bs }
