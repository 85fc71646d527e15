// Package handler exposes the audit reporting and administration API:
// log queries, queue stats, runtime configuration, and archive artifacts.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"eduaudit/internal/audit"
	"eduaudit/internal/audit/config"
	"eduaudit/internal/audit/export"
	"eduaudit/internal/audit/retention"
	"eduaudit/pkg/requestcontext"
)

// Pipeline is the slice of the audit pipeline the handler needs.
type Pipeline interface {
	Stats() audit.QueueStats
	Config() config.Config
	UpdateConfig(patch config.Patch) (config.Config, error)
}

// Archives serves the CSV artifacts produced by the retention job.
type Archives interface {
	List() ([]export.ArchiveInfo, error)
	Open(name string) (io.ReadCloser, error)
	Remove(name string) error
}

// Maintenance triggers retention jobs on demand.
type Maintenance interface {
	RunCleanup(ctx context.Context) (retention.CleanupResult, error)
}

// Handler handles the /admin/audit endpoints.
type Handler struct {
	logger      *slog.Logger
	store       audit.Store
	pipeline    Pipeline
	archives    Archives
	maintenance Maintenance
}

// New creates the audit admin handler. Archives and maintenance are optional;
// their routes 404 politely when absent.
func New(store audit.Store, pipeline Pipeline, logger *slog.Logger) *Handler {
	return &Handler{
		logger:   logger,
		store:    store,
		pipeline: pipeline,
	}
}

// WithArchives wires the archive listing/download/delete routes.
func (h *Handler) WithArchives(a Archives) *Handler {
	h.archives = a
	return h
}

// WithMaintenance wires the on-demand cleanup route.
func (h *Handler) WithMaintenance(m Maintenance) *Handler {
	h.maintenance = m
	return h
}

// Register mounts the audit admin routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin/audit", func(r chi.Router) {
		r.Get("/logs", h.handleListLogs)
		r.Get("/stats", h.handleStats)
		r.Get("/config", h.handleGetConfig)
		r.Patch("/config", h.handlePatchConfig)
		r.Post("/cleanup", h.handleRunCleanup)
		r.Get("/archives", h.handleListArchives)
		r.Get("/archives/{name}", h.handleDownloadArchive)
		r.Delete("/archives/{name}", h.handleDeleteArchive)
	})
}

func (h *Handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.List(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit log query failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		h.writeError(w, r, http.StatusInternalServerError, "failed to query audit logs")
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"logs":  recordsToJSON(records),
		"count": len(records),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.pipeline.Stats())
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.pipeline.Config())
}

func (h *Handler) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	var patch config.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid config patch")
		return
	}

	updated, err := h.pipeline.UpdateConfig(patch)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "audit config updated",
		"request_id", requestcontext.RequestID(r.Context()),
		"actor_id", requestcontext.ActorID(r.Context()),
	)
	h.writeJSON(w, r, http.StatusOK, updated)
}

func (h *Handler) handleRunCleanup(w http.ResponseWriter, r *http.Request) {
	if h.maintenance == nil {
		h.writeError(w, r, http.StatusNotFound, "maintenance not available")
		return
	}

	result, err := h.maintenance.RunCleanup(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "on-demand cleanup failed", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "cleanup failed")
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

func (h *Handler) handleListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		h.writeError(w, r, http.StatusNotFound, "archives not available")
		return
	}

	archives, err := h.archives.List()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "archive listing failed", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "failed to list archives")
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"archives": archives})
}

func (h *Handler) handleDownloadArchive(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		h.writeError(w, r, http.StatusNotFound, "archives not available")
		return
	}

	name := chi.URLParam(r, "name")
	f, err := h.archives.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.writeError(w, r, http.StatusNotFound, "archive not found")
			return
		}
		h.writeError(w, r, http.StatusBadRequest, "invalid archive name")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(name))
	if _, err := io.Copy(w, f); err != nil {
		h.logger.ErrorContext(r.Context(), "archive download interrupted",
			"archive", name,
			"error", err,
		)
	}
}

func (h *Handler) handleDeleteArchive(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		h.writeError(w, r, http.StatusNotFound, "archives not available")
		return
	}

	name := chi.URLParam(r, "name")
	if err := h.archives.Remove(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.writeError(w, r, http.StatusNotFound, "archive not found")
			return
		}
		h.writeError(w, r, http.StatusBadRequest, "invalid archive name")
		return
	}

	h.logger.InfoContext(r.Context(), "archive deleted",
		"archive", name,
		"actor_id", requestcontext.ActorID(r.Context()),
	)
	w.WriteHeader(http.StatusNoContent)
}

func parseFilter(r *http.Request) (audit.ListFilter, error) {
	q := r.URL.Query()
	filter := audit.ListFilter{
		Action:   audit.Action(q.Get("action")),
		Category: audit.Category(q.Get("category")),
		Limit:    100,
	}

	if raw := q.Get("actor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, errors.New("actor_id must be an integer")
		}
		filter.ActorID = id
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			return filter, errors.New("limit must be between 1 and 1000")
		}
		filter.Limit = limit
	}
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("since must be RFC3339")
		}
		filter.Since = t
	}
	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errors.New("until must be RFC3339")
		}
		filter.Until = t
	}
	return filter, nil
}

// recordJSON is the wire shape of one audit record.
type recordJSON struct {
	ID           string         `json:"id"`
	ActorID      int64          `json:"actor_id"`
	Action       string         `json:"action"`
	Category     string         `json:"category"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Success      bool           `json:"success"`
	IPAddress    string         `json:"ip_address"`
	UserAgent    string         `json:"user_agent"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func recordsToJSON(records []audit.Record) []recordJSON {
	out := make([]recordJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, recordJSON{
			ID:           rec.ID.String(),
			ActorID:      rec.ActorID,
			Action:       string(rec.Action),
			Category:     string(rec.Category()),
			ResourceType: rec.ResourceType,
			ResourceID:   rec.ResourceID,
			Success:      rec.Success,
			IPAddress:    rec.IPAddress,
			UserAgent:    rec.UserAgent,
			Details:      rec.Details,
			CreatedAt:    rec.CreatedAt,
		})
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.writeJSON(w, r, status, map[string]string{"error": message})
}
