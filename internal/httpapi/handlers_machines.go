package httpapi

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"managervnc/internal/apperr"
	"managervnc/internal/db"
	"managervnc/internal/registry"
)

func (s *Server) handleListMachines(pool db.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ms, err := s.Registry.List(r.Context(), actor(r), pool)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"machines": ms})
	}
}

func (s *Server) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	m, err := s.Registry.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"machine": m})
}

func (s *Server) handleCreateMachine(w http.ResponseWriter, r *http.Request) {
	var in registry.MachineInput
	if !decodeJSON(w, r, &in) {
		return
	}
	m, err := s.Registry.Create(r.Context(), actor(r), in)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"machine": m})
}

func (s *Server) handleUpdateMachine(w http.ResponseWriter, r *http.Request) {
	var p registry.MachinePatch
	if !decodeJSON(w, r, &p) {
		return
	}
	m, err := s.Registry.Update(r.Context(), actor(r), chi.URLParam(r, "id"), p)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"machine": m})
}

func (s *Server) handleDeleteMachine(w http.ResponseWriter, r *http.Request) {
	if err := s.Registry.Delete(r.Context(), actor(r), chi.URLParam(r, "id")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "VNC machine deleted successfully"})
}

// parsePool maps the optional pool query value.
func parsePool(v string) (db.Pool, bool) {
	switch v {
	case "", "all":
		return db.PoolAll, true
	case "shared":
		return db.PoolShared, true
	case "personal":
		return db.PoolPersonal, true
	}
	return db.PoolAll, false
}

// handleExportMachines streams the caller's visible machines as a JSON
// download, zstd-compressed with compress=true.
func (s *Server) handleExportMachines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pool, ok := parsePool(q.Get("pool"))
	if !ok {
		writeError(w, http.StatusBadRequest, "pool must be all, shared or personal")
		return
	}
	includePasswords, _ := strconv.ParseBool(q.Get("includePasswords"))
	compress, _ := strconv.ParseBool(q.Get("compress"))

	records, err := s.Registry.Export(r.Context(), actor(r), registry.ExportOptions{Pool: pool, IncludePasswords: includePasswords})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	body, err := registry.EncodeRecords(records, compress)
	if err != nil {
		s.writeErr(w, r, apperr.Internal(err))
		return
	}
	name := "vnc-sessions-" + time.Now().UTC().Format("2006-01-02") + ".json"
	ctype := "application/json"
	if compress {
		name += ".zst"
		ctype = "application/zstd"
	}
	w.Header().Set("content-type", ctype)
	w.Header().Set("content-disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleImportMachines accepts the export format (plain or zstd) and
// creates each record as a personal machine.
func (s *Server) handleImportMachines(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, importBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "import file too large")
		return
	}
	records, err := registry.DecodeRecords(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file format")
		return
	}
	res, err := s.Registry.Import(r.Context(), actor(r), records)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	fav, err := s.Registry.ToggleFavorite(r.Context(), actor(r), chi.URLParam(r, "machineId"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isFavorite": fav})
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	ms, err := s.Registry.ListFavorites(r.Context(), actor(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"machines": ms})
}
