package web

import (
	"context"
	"net/http"
	"strings"

	"eventpro/internal/calendar"
	"eventpro/internal/common"
	"eventpro/internal/identity"
	appLog "eventpro/internal/log"
	"eventpro/internal/model"
	"eventpro/internal/state"
)

type sessionKey struct{}

// sessionInfo is attached to the context of authenticated requests.
type sessionInfo struct {
	claims *identity.Claims
	st     *state.Store
}

func sessionFrom(ctx context.Context) sessionInfo {
	info, _ := ctx.Value(sessionKey{}).(sessionInfo)
	return info
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// requireSession validates the bearer token and attaches the session's
// state to the request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.authenticate(r.Context(), bearerToken(r))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="EventPro"`)
			writeServiceError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticate(ctx context.Context, token string) (sessionInfo, error) {
	if token == "" {
		return sessionInfo{}, common.ErrUnauthorized
	}
	claims, err := s.deps.Identity.ParseToken(token)
	if err != nil {
		return sessionInfo{}, err
	}
	st, err := s.deps.Sessions.Get(ctx, claims.SessionID, claims.UserID)
	if err != nil {
		return sessionInfo{}, err
	}
	return sessionInfo{claims: claims, st: st}, nil
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type loginRequest struct {
	// Identifier is an email or a username.
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type authResponse struct {
	Token     string     `json:"token"`
	ExpiresIn int64      `json:"expiresIn"`
	User      model.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	u, err := s.deps.Identity.SignUp(r.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.startSession(w, r, u, http.StatusCreated)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Email
	}
	u, err := s.deps.Identity.SignIn(r.Context(), identifier, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.startSession(w, r, u, http.StatusOK)
}

// startSession opens a session for u and answers with its token.
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, u model.User, status int) {
	sid, _, err := s.deps.Sessions.Open(r.Context(), u.UID)
	if err != nil {
		writeServiceError(w, r, common.Op("Error al iniciar la sesión", err))
		return
	}
	token, err := s.deps.Identity.IssueToken(u.UID, sid)
	if err != nil {
		s.deps.Sessions.Close(sid)
		writeServiceError(w, r, common.Op("Error al iniciar la sesión", err))
		return
	}
	writeJSON(w, status, authResponse{
		Token:     token,
		ExpiresIn: int64(s.deps.Identity.TokenTTL().Seconds()),
		User:      u.Public(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	s.deps.Sessions.Close(info.claims.SessionID)
	appLog.Info("signed out", "uid", info.claims.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	if u := info.st.CurrentUser(); u != nil {
		writeJSON(w, http.StatusOK, u.Public())
		return
	}
	u, err := s.deps.Identity.GetProfile(r.Context(), info.claims.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	info := sessionFrom(r.Context())
	var upd identity.ProfileUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeServiceError(w, r, err)
		return
	}
	u, err := s.deps.Identity.UpdateProfile(r.Context(), info.claims.UserID, upd)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	info.st.SetCurrentUser(&u)
	writeJSON(w, http.StatusOK, u)
}

// handleFeed serves the ICS subscription of the token owner's events. The
// token travels in the query string because calendar clients cannot send
// headers.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	info, err := s.authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	evs, err := s.deps.Events.Ensure(r.Context(), info.st)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	opts := s.deps.Feed
	if opts.Timezone == "" {
		opts.Timezone = s.deps.Location.String()
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="eventpro.ics"`)
	if err := calendar.WriteFeed(w, evs, opts, s.now()); err != nil {
		appLog.Error("write ics feed failed", err)
	}
}
