package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/mckinlee/soundlog/internal/pipeline"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Store is the read capability the handlers need. *warehouse.Store
// satisfies it.
type Store interface {
	ReadPage(ctx context.Context, name, orderBy string, limit, offset int) ([]map[string]any, error)
	Count(ctx context.Context, name string) (int, error)
	Ping(ctx context.Context) error
}

// endpoint declares one paginated table endpoint: which formatted table
// it serves, under which data key, and its declared sort key ("" means
// the row order is unspecified).
type endpoint struct {
	path    string
	table   string
	dataKey string
	orderBy string
	message string
}

// endpoints is the served-table contract. Adding a formatted table to
// the dashboard means adding a line here.
var endpoints = []endpoint{
	{"/user_tracks/", pipeline.HistoryFormatted, "history", "played_at", "User tracks retrieved successfully"},
	{"/tracks/", pipeline.TracksFormatted, "track", "", "Tracks retrieved successfully"},
	{"/artists/", pipeline.ArtistsFormatted, "artist", "", "Artists retrieved successfully"},
	{"/albums/", pipeline.AlbumsFormatted, "album", "release_date", "Albums retrieved successfully"},
}

// Handlers contains the HTTP handlers for the read API.
type Handlers struct {
	store  Store
	logger *log.Logger
}

// NewHandlers creates a Handlers instance.
func NewHandlers(store Store, logger *log.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

// successEnvelope is the response shape the dashboard consumes.
type successEnvelope struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// errorEnvelope is the error shape the dashboard already understands:
// {"detail": "..."}.
type errorEnvelope struct {
	Detail string `json:"detail"`
}

// tableHandler returns the handler for one paginated endpoint.
func (h *Handlers) tableHandler(ep endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize, ok := parsePagination(w, r)
		if !ok {
			return
		}

		offset := (page - 1) * pageSize

		rows, err := h.store.ReadPage(r.Context(), ep.table, ep.orderBy, pageSize, offset)
		if err != nil {
			h.logger.Error("reading page", "table", ep.table, "error", err)
			writeError(w, http.StatusInternalServerError, "Database error")
			return
		}

		total, err := h.store.Count(r.Context(), ep.table)
		if err != nil {
			h.logger.Error("counting rows", "table", ep.table, "error", err)
			writeError(w, http.StatusInternalServerError, "Database error")
			return
		}

		writeJSON(w, http.StatusOK, successEnvelope{
			Success: true,
			Message: ep.message,
			Data: map[string]any{
				ep.dataKey: rows,
				"total":    total,
			},
		})
	}
}

// Health answers liveness probes with a database ping (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("health check", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parsePagination validates page and page_size before any database
// access. On a violation it writes a 400 and returns ok=false.
func parsePagination(w http.ResponseWriter, r *http.Request) (page, pageSize int, ok bool) {
	page = 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be an integer >= 1")
			return 0, 0, false
		}
		page = n
	}

	pageSize = defaultPageSize
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			writeError(w, http.StatusBadRequest, "page_size must be an integer between 1 and 100")
			return 0, 0, false
		}
		pageSize = n
	}

	return page, pageSize, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorEnvelope{Detail: detail})
}
