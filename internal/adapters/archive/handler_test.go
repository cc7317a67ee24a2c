package archive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tallycore/internal/blob"
)

func TestHandlerEnqueueStatusDownload(t *testing.T) {
	store := seedStore(t)
	bs := blob.NewMemory()
	worker := NewWorker(store, bs)
	worker.Start()
	defer func() { require.NoError(t, worker.Stop(context.Background())) }()
	handler := NewHandler(store, worker, bs)

	// enqueue
	body := strings.NewReader(`{"collection":"expenses","formats":["csv"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/archives", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		Archive ExportRecord `json:"archive"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Archive.ID)

	record := awaitExport(t, worker, created.Archive.ID)
	require.Equal(t, ExportStatusSucceeded, record.Status)

	// status
	req = httptest.NewRequest(http.MethodGet, "/api/v1/archives/"+record.ID, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"succeeded"`)

	// download
	req = httptest.NewRequest(http.MethodGet, "/api/v1/archives/"+record.ID+"/download?format=csv", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Coffee")
}

func TestHandlerDownloadBeforeReady(t *testing.T) {
	store := seedStore(t)
	bs := blob.NewMemory()
	worker := NewWorker(store, bs) // not started, job stays queued
	handler := NewHandler(store, worker, bs)

	queued, err := worker.EnqueueExport(context.Background(), ExportInput{Collection: CollectionExpenses})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/archives/"+queued.ID+"/download", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerUnknownArchive(t *testing.T) {
	store := seedStore(t)
	handler := NewHandler(store, NewWorker(store, blob.NewMemory()), blob.NewMemory())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/archives/nope", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerLiveView(t *testing.T) {
	store := seedStore(t)
	handler := NewHandler(store, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/views/expenses?filter="+
		"kind+%3D%3D+%22business%22", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Conference")
	assert.NotContains(t, rec.Body.String(), "Coffee")

	// bad filter expression
	req = httptest.NewRequest(http.MethodGet, "/api/v1/views/expenses?filter=amount+%3E", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// favorites view
	req = httptest.NewRequest(http.MethodGet, "/api/v1/views/favorites", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "expenses:all")

	// unknown collection
	req = httptest.NewRequest(http.MethodGet, "/api/v1/views/unknown", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	store := seedStore(t)
	handler := NewHandler(store, NewWorker(store, blob.NewMemory()), blob.NewMemory())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/archives", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/views/expenses", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
