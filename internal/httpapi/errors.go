package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"managervnc/internal/apperr"
	"managervnc/internal/db"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps a service error onto a response. Internal failures are
// logged and reported generically; lock contention becomes 503.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind != apperr.KindInternal {
		writeError(w, kind.Status(), apperr.Message(err))
		return
	}
	if db.IsRetryable(err) {
		s.Logger.Warn("database busy", "path", r.URL.Path, "err", err)
		w.Header().Set("retry-after", retryAfterSeconds(time.Second))
		writeError(w, http.StatusServiceUnavailable, "database busy, retry")
		return
	}
	s.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "server error")
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are
// tolerated so older clients keep working.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
