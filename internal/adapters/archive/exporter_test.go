package archive

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tallycore/internal/blob"
	"tallycore/internal/infra/persistence/memory"
	"tallycore/pkg/domain"
)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.AddExpense(domain.Expense{Name: "Coffee", Kind: domain.ExpensePersonal, Amount: 4.5}); err != nil {
			return err
		}
		if _, err := tx.AddExpense(domain.Expense{Name: "Conference", Kind: domain.ExpenseBusiness, Amount: 250}); err != nil {
			return err
		}
		if _, err := tx.AddProspect(domain.Prospect{Name: "Ada", Email: "ada@example.com", Contacted: true}); err != nil {
			return err
		}
		_, err := tx.ToggleFavorite("expenses:all")
		return err
	})
	require.NoError(t, err)
	return store
}

func awaitExport(t *testing.T, w *Worker, id string) ExportRecord {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		record, ok := w.GetExport(id)
		require.True(t, ok, "export %s vanished", id)
		if record.Status == ExportStatusSucceeded || record.Status == ExportStatusFailed {
			return record
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("export %s never completed", id)
	return ExportRecord{}
}

func TestExportExpensesProducesArtifacts(t *testing.T) {
	store := seedStore(t)
	bs := blob.NewMemory()
	worker := NewWorker(store, bs)
	worker.Start()
	defer func() { require.NoError(t, worker.Stop(context.Background())) }()

	queued, err := worker.EnqueueExport(context.Background(), ExportInput{Collection: CollectionExpenses})
	require.NoError(t, err)
	assert.Equal(t, ExportStatusQueued, queued.Status)

	record := awaitExport(t, worker, queued.ID)
	require.Equal(t, ExportStatusSucceeded, record.Status)
	assert.Equal(t, 2, record.Rows)
	require.Len(t, record.Artifacts, 2)
	require.NotNil(t, record.CompletedAt)

	var csvArtifact *ExportArtifact
	for i := range record.Artifacts {
		if record.Artifacts[i].Format == FormatCSV {
			csvArtifact = &record.Artifacts[i]
		}
	}
	require.NotNil(t, csvArtifact)
	assert.Equal(t, "text/csv", csvArtifact.ContentType)

	_, rc, err := bs.Get(context.Background(), csvArtifact.Key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	body := string(data)
	assert.True(t, strings.HasPrefix(body, "id,name,kind,amount,note,created_at\n"), "unexpected header: %s", body)
	assert.Contains(t, body, "Coffee")
	assert.Contains(t, body, "Conference")
}

func TestExportWithFilterRestrictsRows(t *testing.T) {
	store := seedStore(t)
	worker := NewWorker(store, blob.NewMemory())
	worker.Start()
	defer func() { require.NoError(t, worker.Stop(context.Background())) }()

	queued, err := worker.EnqueueExport(context.Background(), ExportInput{
		Collection: CollectionExpenses,
		Filter:     `kind == "business"`,
		Formats:    []Format{FormatJSON},
	})
	require.NoError(t, err)

	record := awaitExport(t, worker, queued.ID)
	require.Equal(t, ExportStatusSucceeded, record.Status)
	assert.Equal(t, 1, record.Rows)
	require.Len(t, record.Artifacts, 1)
	assert.Equal(t, FormatJSON, record.Artifacts[0].Format)
}

func TestExportBadFilterFails(t *testing.T) {
	store := seedStore(t)
	worker := NewWorker(store, blob.NewMemory())
	worker.Start()
	defer func() { require.NoError(t, worker.Stop(context.Background())) }()

	queued, err := worker.EnqueueExport(context.Background(), ExportInput{
		Collection: CollectionExpenses,
		Filter:     `amount >`,
	})
	require.NoError(t, err)

	record := awaitExport(t, worker, queued.ID)
	assert.Equal(t, ExportStatusFailed, record.Status)
	assert.NotEmpty(t, record.Error)
	assert.Empty(t, record.Artifacts)
}

func TestEnqueueValidation(t *testing.T) {
	worker := NewWorker(seedStore(t), blob.NewMemory())

	_, err := worker.EnqueueExport(context.Background(), ExportInput{Collection: "unknown"})
	assert.Error(t, err)

	_, err = worker.EnqueueExport(context.Background(), ExportInput{Collection: CollectionExpenses, Formats: []Format{"xml"}})
	assert.Error(t, err)

	_, err = worker.EnqueueExport(context.Background(), ExportInput{Collection: CollectionFavorites, Filter: `key == "a"`})
	assert.Error(t, err)
}

func TestExportFavorites(t *testing.T) {
	store := seedStore(t)
	bs := blob.NewMemory()
	worker := NewWorker(store, bs)
	worker.Start()
	defer func() { require.NoError(t, worker.Stop(context.Background())) }()

	queued, err := worker.EnqueueExport(context.Background(), ExportInput{Collection: CollectionFavorites, Formats: []Format{FormatCSV}})
	require.NoError(t, err)

	record := awaitExport(t, worker, queued.ID)
	require.Equal(t, ExportStatusSucceeded, record.Status)
	assert.Equal(t, 1, record.Rows)

	_, rc, err := bs.Get(context.Background(), record.Artifacts[0].Key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Contains(t, string(data), "expenses:all")
}
