package web

import (
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"eventpro/internal/model"
	"eventpro/internal/technicians"
)

// GET /api/technicians?q=
func (s *Server) handleListTechnicians(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	if _, err := s.deps.Technicians.Ensure(r.Context(), info.st); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(s.deps.Technicians.Search(info.st, r.URL.Query().Get("q"))))
}

func (s *Server) handleCreateTechnician(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	var in technicians.Input
	if err := decodeJSON(r, &in); err != nil {
		writeServiceError(w, r, err)
		return
	}
	t, err := s.deps.Technicians.Create(r.Context(), info.st, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTechnician(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	var p technicians.Patch
	if err := decodeJSON(r, &p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	t, err := s.deps.Technicians.Update(r.Context(), info.st, mux.Vars(r)["id"], p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTechnician(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	if _, err := s.deps.Events.Ensure(r.Context(), info.st); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if _, err := s.deps.Technicians.Delete(r.Context(), info.st, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTechnicianStats(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, s.deps.Technicians.Stats(info.st, s.now()))
}

// GET /api/technicians/available?from=&to=
func (s *Server) handleAvailableTechnicians(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	from, okFrom, err := s.parseDateParam(r, "from")
	if err == nil && !okFrom {
		err = invalidParam("from")
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	to, okTo, err := s.parseDateParam(r, "to")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !okTo {
		to = from
	}
	writeJSON(w, http.StatusOK, nonNil(s.deps.Technicians.Available(info.st, from, model.EndOfDay(to))))
}

// GET /api/technicians/{id}/workload?from=&to=
func (s *Server) handleTechnicianWorkload(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	from, _, err := s.parseDateParam(r, "from")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	to, hasTo, err := s.parseDateParam(r, "to")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if hasTo {
		to = model.EndOfDay(to)
	}
	wl, err := s.deps.Technicians.Workload(info.st, mux.Vars(r)["id"], from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

// GET /api/technicians/export?format=json|csv
func (s *Server) handleExportTechnicians(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	format := r.URL.Query().Get("format")
	if format == "" {
		format = technicians.FormatJSON
	}
	data, contentType, err := s.deps.Technicians.Export(info.st, format)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeDownload(w, data, contentType, "tecnicos."+strings.ToLower(format))
}

func (s *Server) handleImportTechnicians(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeServiceError(w, r, errBadBody)
		return
	}
	created, err := s.deps.Technicians.Import(r.Context(), info.st, raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": len(created), "technicians": nonNil(created)})
}

type bulkCreateRequest struct {
	Technicians []technicians.Input `json:"technicians"`
}

func (s *Server) handleBulkCreateTechnicians(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	var req bulkCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	created, err := s.deps.Technicians.BulkCreate(r.Context(), info.st, req.Technicians)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": len(created), "technicians": created})
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleBulkDeleteTechnicians(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	var req bulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if _, err := s.deps.Events.Ensure(r.Context(), info.st); err != nil {
		writeServiceError(w, r, err)
		return
	}
	deleted, err := s.deps.Technicians.BulkDelete(r.Context(), info.st, req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": len(deleted), "technicians": deleted})
}
