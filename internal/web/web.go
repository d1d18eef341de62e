// Package web exposes the HTTP API: authentication, events, technicians,
// calendar, metrics, exports, reminders and the messaging relay.
package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"eventpro/internal/calendar"
	"eventpro/internal/events"
	"eventpro/internal/export"
	"eventpro/internal/ics"
	"eventpro/internal/identity"
	appLog "eventpro/internal/log"
	"eventpro/internal/reminder"
	"eventpro/internal/session"
	"eventpro/internal/technicians"
)

// maxBodyBytes bounds JSON and import request bodies.
const maxBodyBytes = 4 << 20

// MessageSender delivers one message through the relay after validating the
// phone number. *notify.Notifier implements it.
type MessageSender interface {
	SendTo(ctx context.Context, phone, text string) error
}

// ReminderRunner is the part of the reminder service the API drives.
type ReminderRunner interface {
	Status() reminder.Status
	TriggerCheck(ctx context.Context) (reminder.CheckResult, error)
}

// Deps are the services behind the API. Importer, Reminders, Relay and
// Google may be nil; their endpoints then report the feature as unavailable.
type Deps struct {
	Identity    *identity.Service
	Sessions    *session.Manager
	Events      *events.Service
	Technicians *technicians.Service
	Calendar    *calendar.Adapter
	Importer    *ics.Importer
	Exporter    *export.Exporter
	Reminders   ReminderRunner
	Relay       MessageSender
	Google      CalendarLink

	Feed          calendar.FeedOptions
	AllowedOrigin string
	Location      *time.Location
}

// Server provides the HTTP API.
type Server struct {
	deps   Deps
	router *mux.Router
	now    func() time.Time
}

// NewServer constructs a new Server.
func NewServer(deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		now:    time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.deps.AllowedOrigin != "" {
		h = s.corsMiddleware(h)
	}
	return h
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/calendar/feed.ics", s.handleFeed).Methods(http.MethodGet)
	r.HandleFunc("/auth/callback", s.handleGoogleCallback).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireSession)

	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/profile", s.handleGetProfile).Methods(http.MethodGet)
	api.HandleFunc("/profile", s.handleUpdateProfile).Methods(http.MethodPut)

	api.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleCreateEvent).Methods(http.MethodPost)
	api.HandleFunc("/events/status/{status}", s.handleEventsByStatus).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", s.handleGetEvent).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", s.handleUpdateEvent).Methods(http.MethodPut)
	api.HandleFunc("/events/{id}", s.handleDeleteEvent).Methods(http.MethodDelete)

	api.HandleFunc("/technicians", s.handleListTechnicians).Methods(http.MethodGet)
	api.HandleFunc("/technicians", s.handleCreateTechnician).Methods(http.MethodPost)
	api.HandleFunc("/technicians/stats", s.handleTechnicianStats).Methods(http.MethodGet)
	api.HandleFunc("/technicians/available", s.handleAvailableTechnicians).Methods(http.MethodGet)
	api.HandleFunc("/technicians/export", s.handleExportTechnicians).Methods(http.MethodGet)
	api.HandleFunc("/technicians/import", s.handleImportTechnicians).Methods(http.MethodPost)
	api.HandleFunc("/technicians/bulk", s.handleBulkCreateTechnicians).Methods(http.MethodPost)
	api.HandleFunc("/technicians/bulk-delete", s.handleBulkDeleteTechnicians).Methods(http.MethodPost)
	api.HandleFunc("/technicians/{id}", s.handleUpdateTechnician).Methods(http.MethodPut)
	api.HandleFunc("/technicians/{id}", s.handleDeleteTechnician).Methods(http.MethodDelete)
	api.HandleFunc("/technicians/{id}/workload", s.handleTechnicianWorkload).Methods(http.MethodGet)

	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	api.HandleFunc("/calendar/items", s.handleCalendarItems).Methods(http.MethodGet)
	api.HandleFunc("/calendar/drop", s.handleCalendarDrop).Methods(http.MethodPost)
	api.HandleFunc("/calendar/resize", s.handleCalendarResize).Methods(http.MethodPost)
	api.HandleFunc("/calendar/import", s.handleCalendarImport).Methods(http.MethodPost)

	api.HandleFunc("/export/{format}", s.handleExport).Methods(http.MethodGet)

	api.HandleFunc("/reminders/status", s.handleReminderStatus).Methods(http.MethodGet)
	api.HandleFunc("/reminders/check", s.handleReminderCheck).Methods(http.MethodPost)

	api.HandleFunc("/state", s.handleGetState).Methods(http.MethodGet)
	api.HandleFunc("/state/view", s.handleSetView).Methods(http.MethodPut)
	api.HandleFunc("/state/modal", s.handleSetModal).Methods(http.MethodPut)

	api.HandleFunc("/relay/whatsapp", s.handleRelay).Methods(http.MethodPost)

	api.HandleFunc("/google/status", s.handleGoogleStatus).Methods(http.MethodGet)
	api.HandleFunc("/google/auth", s.handleGoogleAuth).Methods(http.MethodGet)
	api.HandleFunc("/google/disconnect", s.handleGoogleDisconnect).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// corsMiddleware answers preflight requests and tags every response for the
// configured origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := s.deps.AllowedOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if origin != "*" {
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).String(),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a JSON body into v. Unknown fields are ignored.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		appLog.Debug("bad request body", "path", r.URL.Path, "error", err.Error())
		return errBadBody
	}
	return nil
}

func writeDownload(w http.ResponseWriter, data []byte, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parseDateParam reads an optional date query parameter in the configured
// zone.
func (s *Server) parseDateParam(r *http.Request, name string) (time.Time, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, false, nil
	}
	t, ok := events.ParseDate(raw, s.deps.Location)
	if !ok {
		return time.Time{}, false, invalidParam(name)
	}
	return t, true, nil
}

// nonNil makes empty lists encode as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
