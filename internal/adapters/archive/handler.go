package archive

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"tallycore/internal/blob"
	"tallycore/internal/core"
	"tallycore/pkg/query"
)

// Handler provides HTTP access to archive exports and live filtered views.
//
//	POST /api/v1/archives                      enqueue an export
//	GET  /api/v1/archives/{id}                 export status
//	GET  /api/v1/archives/{id}/download?format=csv|json
//	GET  /api/v1/views/{collection}?filter=... live filtered collection
type Handler struct {
	Source  Source
	Exports Scheduler
	Blobs   blob.Store
	Filters *query.Engine
}

// NewHandler constructs an archive HTTP handler.
func NewHandler(source Source, exports Scheduler, blobs blob.Store) *Handler {
	return &Handler{Source: source, Exports: exports, Blobs: blobs, Filters: query.NewEngine()}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/archives":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleCreate(w, r)
	case strings.HasPrefix(path, "/api/v1/archives/"):
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleArchive(w, r, strings.TrimPrefix(path, "/api/v1/archives/"))
	case strings.HasPrefix(path, "/api/v1/views/"):
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleView(w, r, strings.TrimPrefix(path, "/api/v1/views/"))
	default:
		http.NotFound(w, r)
	}
}

type createRequest struct {
	Collection  string   `json:"collection"`
	Filter      string   `json:"filter"`
	Formats     []string `json:"formats"`
	RequestedBy string   `json:"requested_by"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if h.Exports == nil {
		writeError(w, http.StatusInternalServerError, "export scheduler not configured")
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid export request payload")
		return
	}
	formats := make([]Format, 0, len(req.Formats))
	for _, f := range req.Formats {
		formats = append(formats, Format(strings.ToLower(strings.TrimSpace(f))))
	}
	record, err := h.Exports.EnqueueExport(r.Context(), ExportInput{
		Collection:  Collection(req.Collection),
		Filter:      req.Filter,
		Formats:     formats,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"archive": record})
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request, remainder string) {
	if h.Exports == nil {
		writeError(w, http.StatusInternalServerError, "export scheduler not configured")
		return
	}
	segments := strings.Split(remainder, "/")
	id := segments[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	record, ok := h.Exports.GetExport(id)
	if !ok {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	if len(segments) == 1 {
		writeJSON(w, http.StatusOK, map[string]any{"archive": record})
		return
	}
	if len(segments) != 2 || segments[1] != "download" {
		http.NotFound(w, r)
		return
	}
	h.handleDownload(w, r, record)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, record ExportRecord) {
	if h.Blobs == nil {
		writeError(w, http.StatusInternalServerError, "blob store not configured")
		return
	}
	if record.Status != ExportStatusSucceeded {
		writeError(w, http.StatusConflict, "archive not ready")
		return
	}
	format := Format(strings.ToLower(r.URL.Query().Get("format")))
	if format == "" {
		format = FormatJSON
	}
	var artifact *ExportArtifact
	for i := range record.Artifacts {
		if record.Artifacts[i].Format == format {
			artifact = &record.Artifacts[i]
			break
		}
	}
	if artifact == nil {
		writeError(w, http.StatusNotFound, "artifact not found for format")
		return
	}
	info, rc, err := h.Blobs.Get(r.Context(), artifact.Key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact blob missing")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer func() { _ = rc.Close() }()
	w.Header().Set("Content-Type", info.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request, collection string) {
	if h.Source == nil {
		writeError(w, http.StatusInternalServerError, "source not configured")
		return
	}
	filters := h.Filters
	if filters == nil {
		filters = query.NewEngine()
	}
	filter := r.URL.Query().Get("filter")
	switch Collection(collection) {
	case CollectionExpenses:
		expenses := core.SortExpensesNewestFirst(h.Source.ListExpenses())
		if strings.TrimSpace(filter) != "" {
			var err error
			expenses, err = filters.FilterExpenses(filter, expenses)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
	case CollectionProspects:
		prospects := core.SortProspectsByName(h.Source.ListProspects())
		if strings.TrimSpace(filter) != "" {
			var err error
			prospects, err = filters.FilterProspects(filter, prospects)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"prospects": prospects})
	case CollectionFavorites:
		writeJSON(w, http.StatusOK, map[string]any{"favorites": core.FavoriteKeys(h.Source.ListFavorites())})
	default:
		writeError(w, http.StatusNotFound, "unknown collection")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
