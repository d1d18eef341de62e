package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"eventpro/internal/calendar"
	"eventpro/internal/common"
	"eventpro/internal/events"
	"eventpro/internal/export"
	"eventpro/internal/ics"
	appLog "eventpro/internal/log"
	"eventpro/internal/metrics"
	"eventpro/internal/model"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	if _, err := s.deps.Events.Ensure(r.Context(), info.st); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if _, err := s.deps.Technicians.Ensure(r.Context(), info.st); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info.st.GetStats(s.now()))
}

// GET /api/metrics?range=7d|30d|90d|1y
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	rng, err := metrics.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	evs, err := s.deps.Events.Ensure(r.Context(), info.st)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics.Compute(evs, rng, s.now()))
}

func (s *Server) handleCalendarItems(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	evs, err := s.deps.Events.Ensure(r.Context(), info.st)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calendar.Items(evs, s.now()))
}

// dropRequest carries the widget's dates; End is exclusive and optional.
type dropRequest struct {
	ID    string `json:"id"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s *Server) handleCalendarDrop(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	var req dropRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	start, ok := events.ParseDate(req.Start, s.deps.Location)
	if !ok {
		writeServiceError(w, r, invalidParam("start"))
		return
	}
	var end *time.Time
	if strings.TrimSpace(req.End) != "" {
		t, ok := events.ParseDate(req.End, s.deps.Location)
		if !ok {
			writeServiceError(w, r, invalidParam("end"))
			return
		}
		end = &t
	}
	ev, err := s.deps.Calendar.Drop(r.Context(), info.st, req.ID, start, end)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleCalendarResize(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	var req dropRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	end, ok := events.ParseDate(req.End, s.deps.Location)
	if !ok {
		writeServiceError(w, r, invalidParam("end"))
		return
	}
	ev, err := s.deps.Calendar.Resize(r.Context(), info.st, req.ID, end)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type importResponse struct {
	Imported int           `json:"imported"`
	Events   []model.Event `json:"events"`
	Errors   []string      `json:"errors,omitempty"`
}

// handleCalendarImport pulls the subscribed external calendars into events,
// skipping occurrences imported before.
func (s *Server) handleCalendarImport(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	if s.deps.Importer == nil || len(s.deps.Importer.Sources()) == 0 {
		writeJSON(w, http.StatusOK, importResponse{Events: []model.Event{}})
		return
	}
	evs, err := s.deps.Events.Ensure(r.Context(), info.st)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	drafts, fetchErrs := s.deps.Importer.Drafts(r.Context(), s.now(), ics.ExistingRefs(evs))
	resp := importResponse{}
	for _, e := range fetchErrs {
		resp.Errors = append(resp.Errors, e.Error())
	}

	created, err := s.deps.Events.Import(r.Context(), info.st, drafts)
	resp.Imported = len(created)
	resp.Events = nonNil(created)
	if err != nil {
		appLog.Error("calendar import stopped", err, "imported", len(created), "pending", len(drafts)-len(created))
		msg, _ := messageOf(err)
		resp.Errors = append(resp.Errors, msg)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/export/{format}?from=&to=
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	format, err := export.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
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
	if hasFrom && hasTo {
		evs = s.deps.Events.InRange(info.st, model.StartOfDay(from), model.EndOfDay(to))
	}

	data, name, err := s.deps.Exporter.Render(r.Context(), format, evs, s.now())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeDownload(w, data, format.ContentType(), name)
}

func (s *Server) handleReminderStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reminders == nil {
		writeError(w, http.StatusServiceUnavailable, "Los recordatorios están deshabilitados")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Reminders.Status())
}

func (s *Server) handleReminderCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reminders == nil {
		writeError(w, http.StatusServiceUnavailable, "Los recordatorios están deshabilitados")
		return
	}
	res, err := s.deps.Reminders.TriggerCheck(r.Context())
	if err != nil {
		writeServiceError(w, r, common.Op("Error al verificar los recordatorios", err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type stateResponse struct {
	CurrentUser *model.User `json:"currentUser"`
	CurrentView model.View  `json:"currentView"`
	ActiveModal string      `json:"activeModal"`
	IsLoading   bool        `json:"isLoading"`
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r.Context()).st
	resp := stateResponse{
		CurrentView: st.CurrentView(),
		ActiveModal: st.ActiveModal(),
		IsLoading:   st.IsLoading(),
	}
	if u := st.CurrentUser(); u != nil {
		pub := u.Public()
		resp.CurrentUser = &pub
	}
	writeJSON(w, http.StatusOK, resp)
}

type viewRequest struct {
	View model.View `json:"view"`
}

func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r.Context()).st
	var req viewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !req.View.Valid() {
		writeServiceError(w, r, invalidParam("view"))
		return
	}
	st.SetCurrentView(req.View)
	writeJSON(w, http.StatusOK, map[string]any{"currentView": req.View})
}

type modalRequest struct {
	Modal string `json:"modal"`
}

// handleSetModal records the open modal; an empty handle closes it.
func (s *Server) handleSetModal(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r.Context()).st
	var req modalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if req.Modal == "" {
		st.ClearActiveModal()
	} else {
		st.SetActiveModal(req.Modal)
	}
	writeJSON(w, http.StatusOK, map[string]any{"activeModal": st.ActiveModal()})
}

type relayRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// handleRelay sends one WhatsApp message through the configured relay.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Phone) == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Missing phone or message")
		return
	}
	if s.deps.Relay == nil {
		writeError(w, http.StatusServiceUnavailable, "El envío de mensajes está deshabilitado")
		return
	}
	if err := s.deps.Relay.SendTo(r.Context(), req.Phone, req.Message); err != nil {
		appLog.Warn("relay send failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
