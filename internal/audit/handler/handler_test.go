package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduaudit/internal/audit"
	"eduaudit/internal/audit/config"
	"eduaudit/internal/audit/export"
	"eduaudit/internal/audit/retention"
	"eduaudit/internal/audit/store/memory"
)

// fakePipeline satisfies the Pipeline slice with canned data.
type fakePipeline struct {
	stats audit.QueueStats
	cfg   *config.Manager
}

func (f *fakePipeline) Stats() audit.QueueStats { return f.stats }

func (f *fakePipeline) Config() config.Config { return f.cfg.Get() }

func (f *fakePipeline) UpdateConfig(p config.Patch) (config.Config, error) {
	return f.cfg.Update(p)
}

type fakeMaintenance struct {
	result retention.CleanupResult
	err    error
	calls  int
}

func (f *fakeMaintenance) RunCleanup(context.Context) (retention.CleanupResult, error) {
	f.calls++
	return f.result, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedStore(t *testing.T) *memory.InMemoryStore {
	t.Helper()

	store := memory.NewInMemoryStore()
	require.NoError(t, store.AppendBatch(context.Background(), []audit.Event{
		{ActorID: 1, Action: audit.ActionLogin, ResourceType: "session", Success: true,
			IPAddress: "192.0.2.1", UserAgent: "test", EnqueuedAt: time.Now()},
		{ActorID: 2, Action: audit.ActionPermissionDenied, ResourceType: "grade", Success: false,
			IPAddress: "192.0.2.2", UserAgent: "test", EnqueuedAt: time.Now()},
	}))
	return store
}

func newRouter(t *testing.T, h *Handler) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func doJSON(t *testing.T, r chi.Router, method, path string, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestListLogs(t *testing.T) {
	store := seedStore(t)
	pipe := &fakePipeline{cfg: config.NewManager(config.Default())}
	r := newRouter(t, New(store, pipe, testLogger()))

	t.Run("all records", func(t *testing.T) {
		rec, body := doJSON(t, r, http.MethodGet, "/admin/audit/logs", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 2, body["count"])
	})

	t.Run("filtered by category", func(t *testing.T) {
		rec, body := doJSON(t, r, http.MethodGet, "/admin/audit/logs?category=security", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, body["count"])

		logs := body["logs"].([]any)
		entry := logs[0].(map[string]any)
		assert.Equal(t, "permission_denied", entry["action"])
		assert.Equal(t, "security", entry["category"])
	})

	t.Run("filtered by actor", func(t *testing.T) {
		rec, body := doJSON(t, r, http.MethodGet, "/admin/audit/logs?actor_id=1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, body["count"])
	})

	t.Run("bad actor_id", func(t *testing.T) {
		rec, _ := doJSON(t, r, http.MethodGet, "/admin/audit/logs?actor_id=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad limit", func(t *testing.T) {
		rec, _ := doJSON(t, r, http.MethodGet, "/admin/audit/logs?limit=5000", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad since", func(t *testing.T) {
		rec, _ := doJSON(t, r, http.MethodGet, "/admin/audit/logs?since=yesterday", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestStats(t *testing.T) {
	pipe := &fakePipeline{
		stats: audit.QueueStats{QueueSize: 12, Dropped: 3},
		cfg:   config.NewManager(config.Default()),
	}
	r := newRouter(t, New(memory.NewInMemoryStore(), pipe, testLogger()))

	rec, body := doJSON(t, r, http.MethodGet, "/admin/audit/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 12, body["queue_size"])
	assert.EqualValues(t, 3, body["dropped"])
}

func TestConfigEndpoints(t *testing.T) {
	pipe := &fakePipeline{cfg: config.NewManager(config.Default())}
	r := newRouter(t, New(memory.NewInMemoryStore(), pipe, testLogger()))

	t.Run("get", func(t *testing.T) {
		rec, body := doJSON(t, r, http.MethodGet, "/admin/audit/config", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1000, body["max_queue_size"])
	})

	t.Run("patch", func(t *testing.T) {
		rec, body := doJSON(t, r, http.MethodPatch, "/admin/audit/config",
			`{"max_queue_size": 2500, "skip_low_priority_logs": true}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 2500, body["max_queue_size"])
		assert.Equal(t, true, body["skip_low_priority_logs"])

		assert.Equal(t, 2500, pipe.cfg.Get().MaxQueueSize)
	})

	t.Run("patch with invalid body", func(t *testing.T) {
		rec, _ := doJSON(t, r, http.MethodPatch, "/admin/audit/config", `{nope}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("patch with out-of-range value", func(t *testing.T) {
		rec, body := doJSON(t, r, http.MethodPatch, "/admin/audit/config",
			`{"batch_size": 0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body["error"], "batch_size")

		// The live config keeps its previous value.
		assert.Equal(t, 2500, pipe.cfg.Get().MaxQueueSize)
		assert.NotZero(t, pipe.cfg.Get().BatchSize)
	})
}

func TestRunCleanup(t *testing.T) {
	pipe := &fakePipeline{cfg: config.NewManager(config.Default())}

	t.Run("not wired returns 404", func(t *testing.T) {
		r := newRouter(t, New(memory.NewInMemoryStore(), pipe, testLogger()))
		rec, _ := doJSON(t, r, http.MethodPost, "/admin/audit/cleanup", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns the cleanup result", func(t *testing.T) {
		maint := &fakeMaintenance{result: retention.CleanupResult{Deleted: 10, Archived: 2, ArchiveName: "a.csv"}}
		r := newRouter(t, New(memory.NewInMemoryStore(), pipe, testLogger()).WithMaintenance(maint))

		rec, body := doJSON(t, r, http.MethodPost, "/admin/audit/cleanup", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 10, body["deleted"])
		assert.EqualValues(t, 2, body["archived"])
		assert.Equal(t, 1, maint.calls)
	})

	t.Run("failure returns 500", func(t *testing.T) {
		maint := &fakeMaintenance{err: errors.New("boom")}
		r := newRouter(t, New(memory.NewInMemoryStore(), pipe, testLogger()).WithMaintenance(maint))

		rec, _ := doJSON(t, r, http.MethodPost, "/admin/audit/cleanup", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestArchiveEndpoints(t *testing.T) {
	pipe := &fakePipeline{cfg: config.NewManager(config.Default())}

	archives, err := export.NewWriter(t.TempDir())
	require.NoError(t, err)

	now := time.Now()
	name, err := archives.WriteArchive([]audit.Record{{
		ID: uuid.New(),
		Event: audit.Event{
			ActorID: 1, Action: audit.ActionLoginFailed, ResourceType: "session",
			Success: false, IPAddress: "192.0.2.1", UserAgent: "test", EnqueuedAt: now,
		},
		CreatedAt: now,
	}}, now, now)
	require.NoError(t, err)

	r := newRouter(t, New(memory.NewInMemoryStore(), pipe, testLogger()).WithArchives(archives))

	t.Run("list", func(t *testing.T) {
		rec, body := doJSON(t, r, http.MethodGet, "/admin/audit/archives", "")
		require.Equal(t, http.StatusOK, rec.Code)
		list := body["archives"].([]any)
		require.Len(t, list, 1)
		assert.Equal(t, name, list[0].(map[string]any)["name"])
	})

	t.Run("download", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/audit/archives/"+name, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), name)
		assert.Contains(t, rec.Body.String(), "login_failed")
	})

	t.Run("download missing archive", func(t *testing.T) {
		rec, _ := doJSON(t, r, http.MethodGet, "/admin/audit/archives/nope.csv", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec, _ := doJSON(t, r, http.MethodDelete, "/admin/audit/archives/"+name, "")
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec, _ = doJSON(t, r, http.MethodGet, "/admin/audit/archives/"+name, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("routes 404 when archives not wired", func(t *testing.T) {
		bare := newRouter(t, New(memory.NewInMemoryStore(), pipe, testLogger()))
		rec, _ := doJSON(t, bare, http.MethodGet, "/admin/audit/archives", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
