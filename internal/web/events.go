package web

import (
	"net/http"

	"github.com/gorilla/mux"

	"eventpro/internal/events"
	"eventpro/internal/model"
)

// GET /api/events?from=&to=
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	evs, err := s.deps.Events.Ensure(r.Context(), info.st)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	from, hasFrom, err := s.parseDateParam(r, "from")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	to, hasTo, err := s.parseDateParam(r, "to")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if hasFrom || hasTo {
		if !hasTo {
			to = from.AddDate(100, 0, 0)
		}
		if !hasFrom {
			from = to.AddDate(-100, 0, 0)
		}
		evs = s.deps.Events.InRange(info.st, model.StartOfDay(from), model.EndOfDay(to))
	}
	writeJSON(w, http.StatusOK, nonNil(evs))
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	var d events.Draft
	if err := decodeJSON(r, &d); err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Imports carry their own ref; the API never sets it.
	d.ExternalRef = nil

	ev, err := s.deps.Events.Create(r.Context(), info.st, d)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	if _, err := s.deps.Events.Ensure(r.Context(), info.st); err != nil {
		writeServiceError(w, r, err)
		return
	}
	ev, err := s.deps.Events.Get(info.st, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	var p events.Patch
	if err := decodeJSON(r, &p); err != nil {
		writeServiceError(w, r, err)
		return
	}
	ev, err := s.deps.Events.Update(r.Context(), info.st, mux.Vars(r)["id"], p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	if err := s.deps.Events.Delete(r.Context(), info.st, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/events/status/{status}
func (s *Server) handleEventsByStatus(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	status := model.EventStatus(mux.Vars(r)["status"])
	switch status {
	case model.StatusUpcoming, model.StatusOngoing, model.StatusCompleted:
	default:
		writeServiceError(w, r, invalidParam("status"))
		return
	}
	if _, err := s.deps.Events.Ensure(r.Context(), info.st); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(s.deps.Events.ByStatus(info.st, status, s.now())))
}
