// Package archive exports tracker collections as CSV/JSON artifacts stored in
// a blob store, with an asynchronous worker and HTTP access.
package archive

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tallycore/internal/blob"
	"tallycore/internal/core"
	"tallycore/pkg/domain"
	"tallycore/pkg/query"
)

// Format identifies an export artifact encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Collection identifies an exportable entity collection.
type Collection string

const (
	CollectionExpenses  Collection = "expenses"
	CollectionProspects Collection = "prospects"
	CollectionFavorites Collection = "favorites"
)

// ExportStatus describes the lifecycle stage of an export request.
type ExportStatus string

const (
	ExportStatusQueued    ExportStatus = "queued"
	ExportStatusRunning   ExportStatus = "running"
	ExportStatusSucceeded ExportStatus = "succeeded"
	ExportStatusFailed    ExportStatus = "failed"
)

// ExportArtifact captures a stored archive artifact.
type ExportArtifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExportRecord tracks an export request and resulting artifacts.
type ExportRecord struct {
	ID          string           `json:"id"`
	Collection  Collection       `json:"collection"`
	Filter      string           `json:"filter,omitempty"`
	Formats     []Format         `json:"formats"`
	Status      ExportStatus     `json:"status"`
	Error       string           `json:"error,omitempty"`
	Artifacts   []ExportArtifact `json:"artifacts,omitempty"`
	Rows        int              `json:"rows"`
	RequestedBy string           `json:"requested_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// ExportInput represents an enqueue request for the worker.
type ExportInput struct {
	Collection  Collection
	Filter      string // optional expression, see pkg/query
	Formats     []Format
	RequestedBy string
}

// Scheduler queues export requests and exposes status.
type Scheduler interface {
	EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error)
	GetExport(id string) (ExportRecord, bool)
}

// Source provides the committed collections to export.
type Source interface {
	ListExpenses() []domain.Expense
	ListProspects() []domain.Prospect
	ListFavorites() []domain.Favorite
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// Worker executes archive exports asynchronously.
type Worker struct {
	source  Source
	blobs   blob.Store
	filters *query.Engine
	logger  zerolog.Logger

	queue chan exportTask
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type exportTask struct {
	id    string
	input ExportInput
}

type renderedArtifact struct {
	artifact ExportArtifact
	payload  []byte
}

// NewWorker constructs an export worker writing artifacts into bs.
func NewWorker(source Source, bs blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source:  source,
		blobs:   bs,
		filters: query.NewEngine(),
		logger:  zerolog.Nop(),
		queue:   make(chan exportTask, 32),
		jobs:    make(map[string]*ExportRecord),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// EnqueueExport schedules an export job and returns the queued record.
func (w *Worker) EnqueueExport(_ context.Context, input ExportInput) (ExportRecord, error) {
	switch input.Collection {
	case CollectionExpenses, CollectionProspects:
	case CollectionFavorites:
		if strings.TrimSpace(input.Filter) != "" {
			return ExportRecord{}, fmt.Errorf("favorites do not support filters")
		}
	default:
		return ExportRecord{}, fmt.Errorf("unknown collection %q", input.Collection)
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, format := range formats {
		if _, duplicate := seen[format]; duplicate {
			continue
		}
		if format != FormatCSV && format != FormatJSON {
			return ExportRecord{}, fmt.Errorf("unsupported export format %q", format)
		}
		uniq = append(uniq, format)
		seen[format] = struct{}{}
	}

	id := domain.NewID()
	now := time.Now().UTC()
	record := ExportRecord{
		ID:          id,
		Collection:  input.Collection,
		Filter:      input.Filter,
		Formats:     uniq,
		Status:      ExportStatusQueued,
		RequestedBy: input.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &record
	queuedSnapshot := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- exportTask{id: id, input: input}:
	default:
		w.mu.Lock()
		delete(w.jobs, id)
		w.mu.Unlock()
		return ExportRecord{}, fmt.Errorf("export queue full")
	}

	w.logger.Debug().Str("export_id", id).Str("collection", string(input.Collection)).Msg("export queued")
	return queuedSnapshot, nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(task exportTask) {
	w.updateStatus(task.id, ExportStatusRunning, "")

	rendered, rows, err := w.render(task.id, task.input)
	if err != nil {
		w.fail(task.id, err.Error())
		return
	}

	artifacts := make([]ExportArtifact, 0, len(rendered))
	for _, ra := range rendered {
		info, err := w.blobs.Put(w.ctx, ra.artifact.Key, bytes.NewReader(ra.payload), blob.PutOptions{ContentType: ra.artifact.ContentType})
		if err != nil {
			w.fail(task.id, fmt.Sprintf("store artifact: %v", err))
			return
		}
		stored := ra.artifact
		stored.SizeBytes = info.Size
		stored.CreatedAt = info.LastModified
		if url, err := w.blobs.PresignURL(w.ctx, ra.artifact.Key, blob.SignedURLOptions{}); err == nil {
			stored.URL = url
		} else if !errors.Is(err, blob.ErrUnsupported) {
			w.logger.Warn().Err(err).Str("key", ra.artifact.Key).Msg("presign artifact URL")
		}
		artifacts = append(artifacts, stored)
	}

	w.complete(task.id, artifacts, rows)
	w.logger.Debug().Str("export_id", task.id).Int("rows", rows).Msg("export complete")
}

func (w *Worker) render(id string, input ExportInput) ([]renderedArtifact, int, error) {
	record, ok := w.GetExport(id)
	if !ok {
		return nil, 0, fmt.Errorf("export %s missing", id)
	}

	var (
		jsonPayload []byte
		csvPayload  []byte
		rows        int
		err         error
	)
	switch input.Collection {
	case CollectionExpenses:
		expenses := core.SortExpensesNewestFirst(w.source.ListExpenses())
		if strings.TrimSpace(input.Filter) != "" {
			expenses, err = w.filters.FilterExpenses(input.Filter, expenses)
			if err != nil {
				return nil, 0, err
			}
		}
		rows = len(expenses)
		jsonPayload, err = json.Marshal(expenses)
		if err == nil {
			csvPayload, err = expensesCSV(expenses)
		}
	case CollectionProspects:
		prospects := core.SortProspectsByName(w.source.ListProspects())
		if strings.TrimSpace(input.Filter) != "" {
			prospects, err = w.filters.FilterProspects(input.Filter, prospects)
			if err != nil {
				return nil, 0, err
			}
		}
		rows = len(prospects)
		jsonPayload, err = json.Marshal(prospects)
		if err == nil {
			csvPayload, err = prospectsCSV(prospects)
		}
	case CollectionFavorites:
		favorites := w.source.ListFavorites()
		rows = len(favorites)
		jsonPayload, err = json.Marshal(favorites)
		if err == nil {
			csvPayload, err = favoritesCSV(favorites)
		}
	default:
		return nil, 0, fmt.Errorf("unknown collection %q", input.Collection)
	}
	if err != nil {
		return nil, 0, err
	}

	now := time.Now().UTC()
	out := make([]renderedArtifact, 0, len(record.Formats))
	for _, format := range record.Formats {
		switch format {
		case FormatJSON:
			out = append(out, renderedArtifact{
				artifact: ExportArtifact{
					Key:         artifactKey(id, input.Collection, FormatJSON),
					Format:      FormatJSON,
					ContentType: "application/json",
					SizeBytes:   int64(len(jsonPayload)),
					CreatedAt:   now,
				},
				payload: jsonPayload,
			})
		case FormatCSV:
			out = append(out, renderedArtifact{
				artifact: ExportArtifact{
					Key:         artifactKey(id, input.Collection, FormatCSV),
					Format:      FormatCSV,
					ContentType: "text/csv",
					SizeBytes:   int64(len(csvPayload)),
					CreatedAt:   now,
				},
				payload: csvPayload,
			})
		}
	}
	return out, rows, nil
}

func artifactKey(id string, collection Collection, format Format) string {
	return fmt.Sprintf("archive/%s/%s.%s", id, collection, format)
}

func expensesCSV(in []domain.Expense) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write([]string{"id", "name", "kind", "amount", "note", "created_at"}); err != nil {
		return nil, err
	}
	for _, e := range in {
		note := ""
		if e.Note != nil {
			note = *e.Note
		}
		row := []string{
			e.ID,
			e.Name,
			string(e.Kind),
			strconv.FormatFloat(e.Amount, 'f', -1, 64),
			note,
			e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func prospectsCSV(in []domain.Prospect) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write([]string{"id", "name", "email", "contacted", "created_at"}); err != nil {
		return nil, err
	}
	for _, p := range in {
		row := []string{
			p.ID,
			p.Name,
			p.Email,
			strconv.FormatBool(p.Contacted),
			p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func favoritesCSV(in []domain.Favorite) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write([]string{"key", "created_at"}); err != nil {
		return nil, err
	}
	for _, f := range in {
		if err := writer.Write([]string{f.Key, f.CreatedAt.UTC().Format(time.RFC3339)}); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (w *Worker) updateStatus(id string, status ExportStatus, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = status
		record.Error = message
		record.UpdatedAt = now
	}
	w.mu.Unlock()
}

func (w *Worker) complete(id string, artifacts []ExportArtifact, rows int) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusSucceeded
		record.Error = ""
		record.Artifacts = artifacts
		record.Rows = rows
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if record, ok := w.jobs[id]; ok {
		record.Status = ExportStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	w.mu.Unlock()
	w.logger.Warn().Str("export_id", id).Str("reason", reason).Msg("export failed")
}

func (r ExportRecord) copy() ExportRecord {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]ExportArtifact(nil), r.Artifacts...)
	}
	return dup
}
