package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpro/internal/calendar"
	"eventpro/internal/docstore"
	"eventpro/internal/events"
	"eventpro/internal/export"
	"eventpro/internal/identity"
	"eventpro/internal/model"
	"eventpro/internal/notify"
	"eventpro/internal/reminder"
	"eventpro/internal/session"
	"eventpro/internal/technicians"
)

type fakePrinter struct{}

func (fakePrinter) PrintPDF(_ context.Context, html []byte) ([]byte, error) {
	return append([]byte("%PDF-"), html[:8]...), nil
}

func newTestServer(t *testing.T, origin string) *httptest.Server {
	t.Helper()
	return newTestServerWith(t, origin, nil)
}

func newTestServerWith(t *testing.T, origin string, google CalendarLink) *httptest.Server {
	t.Helper()
	store := docstore.NewMemory()
	notifier := notify.NewNotifier(store, notify.LogRelay{}, notify.Options{Location: time.UTC})
	sched := reminder.NewScheduler(store, notifier)

	evs := events.NewService(store, notifier, sched, events.Options{Location: time.UTC})
	techs := technicians.NewService(store, evs, notifier.Validator())
	ids := identity.NewService(store, []byte("test-secret"), time.Hour, notifier.Validator())

	srv := NewServer(Deps{
		Identity:      ids,
		Sessions:      session.NewManager(ids, evs, techs, time.Hour),
		Events:        evs,
		Technicians:   techs,
		Calendar:      calendar.NewAdapter(evs),
		Exporter:      export.NewExporter(fakePrinter{}, time.UTC),
		Relay:         notifier,
		Google:        google,
		Feed:          calendar.FeedOptions{Name: "EventPro", Domain: "eventpro.test"},
		AllowedOrigin: origin,
		Location:      time.UTC,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func register(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, body := call(t, ts, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "ana@example.com",
		"password": "secreto1",
		"username": "ana",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out authResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Token)
	assert.Equal(t, "ana", out.User.Username)
	assert.Empty(t, out.User.PasswordHash)
	return out.Token
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "")
	resp, body := call(t, ts, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t, "")
	register(t, ts)

	resp, body := call(t, ts, http.MethodPost, "/api/auth/login", "", map[string]string{
		"identifier": "ana",
		"password":   "incorrecta",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, string(body))

	resp, body = call(t, ts, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "ana@example.com",
		"password": "secreto1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out authResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.EqualValues(t, 3600, out.ExpiresIn)

	resp, body = call(t, ts, http.MethodGet, "/api/profile", out.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"username":"ana"`)

	resp, _ = call(t, ts, http.MethodPost, "/api/auth/logout", out.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodGet, "/api/profile", out.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegister_Duplicate(t *testing.T) {
	ts := newTestServer(t, "")
	register(t, ts)

	resp, body := call(t, ts, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "ana@example.com",
		"password": "secreto1",
		"username": "otra",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, "")
	for _, path := range []string{"/api/events", "/api/technicians", "/api/stats", "/api/state"} {
		resp, body := call(t, ts, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
		assert.Contains(t, string(body), "Sesión inválida o expirada")
	}

	resp, _ := call(t, ts, http.MethodGet, "/api/events", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsCRUD(t *testing.T) {
	ts := newTestServer(t, "")
	token := register(t, ts)

	resp, body := call(t, ts, http.MethodPost, "/api/events", token, map[string]any{"name": "Sin datos"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
	var verr errorResponse
	require.NoError(t, json.Unmarshal(body, &verr))
	assert.Contains(t, verr.Problems, "La ubicación es requerida")
	assert.Contains(t, verr.Problems, "La productora es requerida")

	resp, body = call(t, ts, http.MethodPost, "/api/events", token, map[string]any{
		"name":              "Festival",
		"location":          "Rosario",
		"startDate":         "2030-05-10",
		"endDate":           "2030-05-12",
		"productionCompany": "Acme",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var ev model.Event
	require.NoError(t, json.Unmarshal(body, &ev))
	require.NotEmpty(t, ev.ID)

	resp, body = call(t, ts, http.MethodGet, "/api/events/"+ev.ID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = call(t, ts, http.MethodPut, "/api/events/"+ev.ID, token, map[string]any{"location": "Córdoba"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "Córdoba")

	resp, body = call(t, ts, http.MethodGet, "/api/events/status/upcoming", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), ev.ID)

	resp, _ = call(t, ts, http.MethodGet, "/api/events/status/archived", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = call(t, ts, http.MethodGet, "/api/events?from=2031-01-01", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]\n", string(body))

	resp, _ = call(t, ts, http.MethodDelete, "/api/events/"+ev.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodGet, "/api/events/"+ev.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteAssignedTechnician(t *testing.T) {
	ts := newTestServer(t, "")
	token := register(t, ts)

	resp, body := call(t, ts, http.MethodPost, "/api/technicians", token, map[string]any{"name": "Juan Pérez"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var tech model.Technician
	require.NoError(t, json.Unmarshal(body, &tech))

	resp, body = call(t, ts, http.MethodPost, "/api/events", token, map[string]any{
		"name":              "Concierto",
		"location":          "Rosario",
		"startDate":         "2030-06-01",
		"endDate":           "2030-06-01",
		"productionCompany": "Acme",
		"technicians":       []string{"Juan Pérez"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = call(t, ts, http.MethodDelete, "/api/technicians/"+tech.ID, token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "No se puede eliminar el técnico porque está asignado a los siguientes eventos: Concierto")

	resp, body = call(t, ts, http.MethodGet, "/api/technicians?q=juan", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), tech.ID)
}

func TestDeleteTechnicianAssignedInAnotherSession(t *testing.T) {
	ts := newTestServer(t, "")
	tokenA := register(t, ts)

	resp, body := call(t, ts, http.MethodPost, "/api/technicians", tokenA, map[string]any{"name": "Ana"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var tech model.Technician
	require.NoError(t, json.Unmarshal(body, &tech))

	resp, body = call(t, ts, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "beto@example.com",
		"password": "secreto2",
		"username": "beto",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var b authResponse
	require.NoError(t, json.Unmarshal(body, &b))

	resp, body = call(t, ts, http.MethodPost, "/api/events", b.Token, map[string]any{
		"name":              "Gala",
		"location":          "Rosario",
		"startDate":         "2030-06-01",
		"endDate":           "2030-06-01",
		"productionCompany": "Acme",
		"technicians":       []string{"Ana"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = call(t, ts, http.MethodDelete, "/api/technicians/"+tech.ID, tokenA, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "Gala")
}

func TestExportCSV(t *testing.T) {
	ts := newTestServer(t, "")
	token := register(t, ts)

	resp, body := call(t, ts, http.MethodPost, "/api/events", token, map[string]any{
		"name":              "Feria",
		"location":          "Mendoza",
		"startDate":         "2030-03-01",
		"endDate":           "2030-03-02",
		"productionCompany": "Acme",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = call(t, ts, http.MethodGet, "/api/export/csv", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, export.FormatCSV.ContentType(), resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "eventos-")
	assert.Contains(t, string(body), "Feria")

	resp, body = call(t, ts, http.MethodGet, "/api/export/pdf", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF-")))

	resp, _ = call(t, ts, http.MethodGet, "/api/export/docx", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFeed(t *testing.T) {
	ts := newTestServer(t, "")
	token := register(t, ts)

	resp, body := call(t, ts, http.MethodPost, "/api/events", token, map[string]any{
		"name":              "Gira",
		"location":          "Salta",
		"startDate":         "2030-07-01",
		"endDate":           "2030-07-03",
		"productionCompany": "Acme",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, _ = call(t, ts, http.MethodGet, "/api/calendar/feed.ics", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = call(t, ts, http.MethodGet, "/api/calendar/feed.ics?token="+token, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/calendar"))
	assert.Contains(t, string(body), "SUMMARY:Gira")
	assert.Contains(t, string(body), "20300701")
}

func TestCalendarDrop(t *testing.T) {
	ts := newTestServer(t, "")
	token := register(t, ts)

	resp, body := call(t, ts, http.MethodPost, "/api/events", token, map[string]any{
		"name":              "Obra",
		"location":          "La Plata",
		"startDate":         "2030-08-10",
		"endDate":           "2030-08-11",
		"productionCompany": "Acme",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var ev model.Event
	require.NoError(t, json.Unmarshal(body, &ev))

	resp, body = call(t, ts, http.MethodPost, "/api/calendar/drop", token, map[string]string{
		"id":    ev.ID,
		"start": "2030-08-20",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var moved model.Event
	require.NoError(t, json.Unmarshal(body, &moved))
	assert.Equal(t, "2030-08-20", moved.StartDate.Format("2006-01-02"))
	assert.Equal(t, "2030-08-21", moved.EndDate.Format("2006-01-02"))

	resp, _ = call(t, ts, http.MethodPost, "/api/calendar/drop", token, map[string]string{"id": ev.ID, "start": "mañana"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = call(t, ts, http.MethodPost, "/api/calendar/import", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"imported":0`)
}

func TestStateView(t *testing.T) {
	ts := newTestServer(t, "")
	token := register(t, ts)

	resp, body := call(t, ts, http.MethodPut, "/api/state/view", token, map[string]string{"view": "calendar"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = call(t, ts, http.MethodPut, "/api/state/view", token, map[string]string{"view": "nowhere"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = call(t, ts, http.MethodPut, "/api/state/modal", token, map[string]string{"modal": "event-form"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = call(t, ts, http.MethodGet, "/api/state", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st stateResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, model.View("calendar"), st.CurrentView)
	assert.Equal(t, "event-form", st.ActiveModal)
	require.NotNil(t, st.CurrentUser)
	assert.Equal(t, "ana", st.CurrentUser.Username)
}

func TestRelay(t *testing.T) {
	ts := newTestServer(t, "")
	token := register(t, ts)

	resp, body := call(t, ts, http.MethodPost, "/api/relay/whatsapp", token, map[string]string{"phone": "3415551234"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "Missing phone or message")

	resp, body = call(t, ts, http.MethodPost, "/api/relay/whatsapp", token, map[string]string{
		"phone":   "123",
		"message": "hola",
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), `"success":false`)

	resp, body = call(t, ts, http.MethodPost, "/api/relay/whatsapp", token, map[string]string{
		"phone":   "3415551234",
		"message": "hola",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"success":true`)
}

func TestRemindersDisabled(t *testing.T) {
	ts := newTestServer(t, "")
	token := register(t, ts)

	resp, _ := call(t, ts, http.MethodGet, "/api/reminders/status", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, "https://app.example.com")

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
}

type fakeLink struct {
	connected bool
	codes     []string
}

func (f *fakeLink) AuthURL() (string, error) {
	return "https://accounts.example.com/auth?state=s1", nil
}

func (f *fakeLink) Exchange(_ context.Context, state, code string) error {
	if state != "s1" {
		return errors.New("bad state")
	}
	f.codes = append(f.codes, code)
	f.connected = true
	return nil
}

func (f *fakeLink) Connected(context.Context) bool { return f.connected }

func (f *fakeLink) Disconnect(context.Context) error {
	f.connected = false
	return nil
}

func TestGoogleLinkFlow(t *testing.T) {
	link := &fakeLink{}
	ts := newTestServerWith(t, "", link)
	token := register(t, ts)

	resp, body := call(t, ts, http.MethodGet, "/api/google/status", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"configured":true,"connected":false}`, string(body))

	resp, body = call(t, ts, http.MethodGet, "/api/google/auth", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "state=s1")

	noFollow := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	cb, err := noFollow.Get(ts.URL + "/auth/callback?code=abc&state=s1")
	require.NoError(t, err)
	cb.Body.Close()
	assert.Equal(t, http.StatusFound, cb.StatusCode)
	assert.Equal(t, "/?calendar=connected", cb.Header.Get("Location"))
	assert.Equal(t, []string{"abc"}, link.codes)

	cb, err = noFollow.Get(ts.URL + "/auth/callback?error=access_denied")
	require.NoError(t, err)
	cb.Body.Close()
	assert.Equal(t, "/?calendar=error", cb.Header.Get("Location"))

	cb, err = noFollow.Get(ts.URL + "/auth/callback?code=abc&state=forged")
	require.NoError(t, err)
	cb.Body.Close()
	assert.Equal(t, "/?calendar=error", cb.Header.Get("Location"))

	resp, _ = call(t, ts, http.MethodPost, "/api/google/disconnect", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, link.connected)
}

func TestGoogleNotConfigured(t *testing.T) {
	ts := newTestServer(t, "")
	token := register(t, ts)

	resp, body := call(t, ts, http.MethodGet, "/api/google/status", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"configured":false,"connected":false}`, string(body))

	resp, _ = call(t, ts, http.MethodGet, "/api/google/auth", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
