package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"managervnc/internal/registry"
)

func (s *Server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	logs, err := s.Registry.ListActivity(r.Context(), actor(r), registry.ActivityFilter{
		Limit:     limit,
		MachineID: r.URL.Query().Get("machineId"),
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleLogActivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MachineID string `json:"machineId"`
		Action    string `json:"action"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	log, err := s.Registry.LogConnect(r.Context(), actor(r), req.MachineID, req.Action)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"log": log})
}

func (s *Server) handleExportActivity(w http.ResponseWriter, r *http.Request) {
	logs, err := s.Registry.ExportActivity(r.Context(), actor(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	name := "vnc-activity-" + time.Now().UTC().Format("2006-01-02") + ".json"
	w.Header().Set("content-disposition", `attachment; filename="`+name+`"`)
	writeJSON(w, http.StatusOK, logs)
}

// queryInt parses an optional integer query parameter. Missing means 0.
func queryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
