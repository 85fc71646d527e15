package ingest

import (
	"net/http"

	"eduaudit/internal/audit"

	"github.com/go-chi/chi/v5"
)

// methodActions maps HTTP verbs onto the data-access vocabulary.
var methodActions = map[string]audit.Action{
	http.MethodPost:   audit.ActionCreate,
	http.MethodGet:    audit.ActionRead,
	http.MethodPut:    audit.ActionUpdate,
	http.MethodPatch:  audit.ActionUpdate,
	http.MethodDelete: audit.ActionDelete,
}

// DataAccess returns middleware that logs one terminal data-access event per
// request against the given resource type. Success is derived from the
// response status; the resource ID is taken from the chi "id" URL parameter
// when present.
func DataAccess(adapter *Adapter, resourceType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action, ok := methodActions[r.Method]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			rec := adapter.Begin(action, resourceType, chi.URLParam(r, "id"))
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			details := map[string]any{
				"status": sw.status,
				"method": r.Method,
				"path":   r.URL.Path,
			}
			if sw.status < http.StatusBadRequest {
				rec.Success(r.Context(), details)
			} else {
				rec.Failure(r.Context(), details)
			}
		})
	}
}

// statusWriter captures the response status for the outcome decision.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}
