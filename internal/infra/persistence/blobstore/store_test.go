package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"tallycore/internal/blob"
	"tallycore/pkg/domain"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	bs := blob.NewMemory()

	store, err := NewStore(ctx, bs, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	var created domain.Expense
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		created, txErr = tx.AddExpense(domain.Expense{Name: "Books", Kind: domain.ExpensePersonal, Amount: 18})
		return txErr
	}); err != nil {
		t.Fatalf("add expense: %v", err)
	}

	info, rc, err := bs.Get(ctx, SnapshotKey)
	if err != nil {
		t.Fatalf("snapshot blob missing: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if info.ContentType != "application/json" || !strings.Contains(string(data), "Books") {
		t.Fatalf("unexpected snapshot blob: %#v %s", info, data)
	}

	reopened, err := NewStore(ctx, bs, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok := reopened.GetExpense(created.ID)
	if !ok || got.Name != "Books" {
		t.Fatalf("expected expense after reopen, got %+v ok=%v", got, ok)
	}
}

func TestSnapshotReplacedEveryTransaction(t *testing.T) {
	ctx := context.Background()
	bs := blob.NewMemory()

	store, err := NewStore(ctx, bs, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, name := range []string{"One", "Two"} {
		if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			_, txErr := tx.AddExpense(domain.Expense{Name: name, Kind: domain.ExpensePersonal, Amount: 1})
			return txErr
		}); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	list, err := bs.List(ctx, "state/")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected single snapshot blob: %v %+v", err, list)
	}
	_, rc, err := bs.Get(ctx, SnapshotKey)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !strings.Contains(string(data), "One") || !strings.Contains(string(data), "Two") {
		t.Fatalf("latest snapshot missing entries: %s", data)
	}
}

func TestCorruptSnapshotSurfacesError(t *testing.T) {
	ctx := context.Background()
	bs := blob.NewMemory()
	if _, err := bs.Put(ctx, SnapshotKey, bytes.NewReader([]byte("not json")), blob.PutOptions{}); err != nil {
		t.Fatalf("seed corrupt blob: %v", err)
	}

	_, err := NewStore(ctx, bs, nil)
	if err == nil {
		t.Fatalf("expected decode error")
	}
	var pErr *domain.PersistenceError
	if !errors.As(err, &pErr) || pErr.Op != "decode" {
		t.Fatalf("expected decode persistence error, got %v", err)
	}
}

func TestOpenOrEmptyFallsBackOnCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	bs := blob.NewMemory()
	if _, err := bs.Put(ctx, SnapshotKey, bytes.NewReader([]byte("not json")), blob.PutOptions{}); err != nil {
		t.Fatalf("seed corrupt blob: %v", err)
	}

	store, err := OpenOrEmpty(ctx, bs, nil)
	if err != nil {
		t.Fatalf("OpenOrEmpty: %v", err)
	}
	if len(store.ListExpenses()) != 0 || len(store.ListProspects()) != 0 {
		t.Fatalf("expected empty store")
	}
	// corrupt blob is left in place for inspection
	if _, err := bs.Head(ctx, SnapshotKey); err != nil {
		t.Fatalf("expected corrupt blob retained: %v", err)
	}
}

func TestReloadPicksUpExternalSnapshot(t *testing.T) {
	ctx := context.Background()
	bs := blob.NewMemory()

	writer, err := NewStore(ctx, bs, nil)
	if err != nil {
		t.Fatalf("writer store: %v", err)
	}
	reader, err := NewStore(ctx, bs, nil)
	if err != nil {
		t.Fatalf("reader store: %v", err)
	}

	var created domain.Prospect
	if _, err := writer.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		created, txErr = tx.AddProspect(domain.Prospect{Name: "Noa", Email: "noa@example.com"})
		return txErr
	}); err != nil {
		t.Fatalf("add prospect: %v", err)
	}

	if reader.ContainsProspect(created.ID) {
		t.Fatalf("reader should not see prospect before reload")
	}
	var reloads int
	unsubscribe := reader.Events().Subscribe(func(domain.Event) { reloads++ })
	defer unsubscribe()
	if err := reader.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reader.ContainsProspect(created.ID) {
		t.Fatalf("expected prospect visible after reload")
	}
	if reloads != 1 {
		t.Fatalf("expected one reload event, got %d", reloads)
	}
}

type failingPutStore struct {
	blob.Store
}

func (failingPutStore) Put(context.Context, string, io.Reader, blob.PutOptions) (blob.Info, error) {
	return blob.Info{}, errors.New("disk full")
}

func TestFailedSnapshotWriteSurfacesError(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, failingPutStore{Store: blob.NewMemory()}, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, txErr := tx.ToggleFavorite("resort:1")
		return txErr
	})
	if err == nil {
		t.Fatalf("expected failed snapshot write to surface")
	}
	var pErr *domain.PersistenceError
	if !errors.As(err, &pErr) || pErr.Op != "write" || pErr.Key != SnapshotKey {
		t.Fatalf("expected write persistence error, got %v", err)
	}
	// The in-memory commit precedes the durable write, so the mutation
	// is still visible while the snapshot is stale.
	if !store.ContainsFavorite("resort:1") {
		t.Fatalf("committed mutation missing from in-memory state")
	}
}
