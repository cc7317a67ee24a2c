package blobstore

import (
	"context"
	"os"
	"path/filepath"

	"tallycore/internal/infra/watch"
)

// WatchSnapshotDir starts a filesystem watcher over the directory holding a
// filesystem-backed snapshot blob and reloads the store whenever the snapshot
// file settles after an external write. This lets a second process (or a
// manual edit) update the snapshot and have the in-memory state follow,
// with subscribers notified through the usual commit event.
//
// root is the filesystem blob store root; the watched file is the data file
// backing SnapshotKey. The returned watcher is already started; callers stop
// it when done.
func WatchSnapshotDir(ctx context.Context, store *Store, root string, opts ...watch.Option) (*watch.Watcher, error) {
	dir := filepath.Join(root, filepath.Dir(filepath.FromSlash(SnapshotKey)))
	name := filepath.Base(SnapshotKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	onChange := func(ctx context.Context, path string) {
		if err := store.Reload(ctx); err != nil {
			store.logger.Warn().Err(err).Str("path", path).Msg("snapshot reload failed")
		}
	}
	w, err := watch.New(dir, watch.MatchSuffix(name), onChange, opts...)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
