package web

import (
	"context"
	"net/http"
	"net/url"

	"eventpro/internal/common"
	appLog "eventpro/internal/log"
)

// CalendarLink links the Google account events are mirrored to.
// *gcal.Client implements it.
type CalendarLink interface {
	AuthURL() (string, error)
	Exchange(ctx context.Context, state, code string) error
	Connected(ctx context.Context) bool
	Disconnect(ctx context.Context) error
}

func (s *Server) googleDisabled(w http.ResponseWriter) bool {
	if s.deps.Google == nil {
		writeError(w, http.StatusServiceUnavailable, "La sincronización con Google Calendar no está configurada")
		return true
	}
	return false
}

func (s *Server) handleGoogleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Google == nil {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false, "connected": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configured": true, "connected": s.deps.Google.Connected(r.Context())})
}

func (s *Server) handleGoogleAuth(w http.ResponseWriter, r *http.Request) {
	if s.googleDisabled(w) {
		return
	}
	u, err := s.deps.Google.AuthURL()
	if err != nil {
		writeServiceError(w, r, common.Op("Error al iniciar la autorización con Google", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleGoogleDisconnect(w http.ResponseWriter, r *http.Request) {
	if s.googleDisabled(w) {
		return
	}
	if err := s.deps.Google.Disconnect(r.Context()); err != nil {
		writeServiceError(w, r, common.Op("Error al desconectar Google Calendar", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": false})
}

// handleGoogleCallback finishes the consent flow and sends the browser back
// to the app with calendar=connected or calendar=error.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if s.googleDisabled(w) {
		return
	}
	q := r.URL.Query()
	result := "connected"
	switch {
	case q.Get("error") != "":
		appLog.Warn("google authorization refused", "error", q.Get("error"))
		result = "error"
	case q.Get("code") == "":
		result = "error"
	default:
		if err := s.deps.Google.Exchange(r.Context(), q.Get("state"), q.Get("code")); err != nil {
			appLog.Error("google authorization failed", err)
			result = "error"
		}
	}
	http.Redirect(w, r, s.appURL()+"?"+url.Values{"calendar": {result}}.Encode(), http.StatusFound)
}

// appURL is where the browser UI lives.
func (s *Server) appURL() string {
	if o := s.deps.AllowedOrigin; o != "" && o != "*" {
		return o + "/"
	}
	return "/"
}
