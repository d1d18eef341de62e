package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultTimezone, cfg.Timezone)
	assert.Equal(t, DefaultReminderCron, cfg.Reminders.Schedule)
	assert.Equal(t, "memory", cfg.Store.Driver)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_FillsPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
listen: ":9000"
log:
  level: DEBUG
  format: xml
auth:
  token_ttl: 2h
store:
  driver: Postgres
  dsn: postgres://localhost/eventpro
ics:
  - url: https://example.com/a.ics
    name: Club
  - url: https://example.com/b.ics
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, DefaultImportHorizon, cfg.ImportHorizonDays)

	require.Len(t, cfg.ICS, 2)
	assert.Equal(t, "Club", cfg.ICS[0].ID)
	assert.Equal(t, "Club", cfg.ICS[0].Company)
	assert.Equal(t, "https://example.com/b.ics", cfg.ICS[1].ID)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus"
	cfg.Store.Driver = "firestore"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown timezone")
	assert.Contains(t, err.Error(), "project_id")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvJWTSecret:       "s3cret",
		EnvCallMeBotAPIKey: "key",
		EnvDatabaseDSN:     "postgres://db",
	}
	cfg := DefaultConfig()
	assert.False(t, cfg.RelayEnabled())

	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres://db", cfg.Store.DSN)
	assert.Equal(t, DefaultCallMeBotURL, cfg.WhatsApp.BaseURL)
	assert.True(t, cfg.RelayEnabled())

	cfg.WhatsApp.Disabled = true
	assert.False(t, cfg.RelayEnabled())
}

func TestGoogleSettings(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultGoogleCalendar, cfg.Google.CalendarID)
	assert.False(t, cfg.GoogleEnabled())

	cfg.ApplyEnv(func(k string) string {
		return map[string]string{EnvGoogleClientID: "id", EnvGoogleSecret: "secret"}[k]
	})
	assert.True(t, cfg.GoogleEnabled())
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google.redirect_url")

	cfg.Google.RedirectURL = "http://localhost:8080/auth/callback"
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("EVENTPRO_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("EVENTPRO_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("EVENTPRO_TEST_VALUE"))

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("EVENTPRO_TEST_VALUE"))
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.ICS = append(cfg.ICS, ICSConfig{URL: "https://example.com/x.ics", ID: "x", Name: "X", Company: "Prod X"})
	cfg.WhatsApp.Timeout = 5 * time.Second
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.ICS, loaded.ICS)
	assert.Equal(t, 5*time.Second, loaded.WhatsApp.Timeout)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".eventpro-config-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	assert.Error(t, Save("", cfg))
	assert.Error(t, Save(path, nil))
}
