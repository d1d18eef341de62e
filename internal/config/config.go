package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen          = "127.0.0.1:8080"
	DefaultTimezone        = "America/Argentina/Buenos_Aires"
	DefaultReminderCron    = "*/30 * * * *"
	DefaultCallMeBotURL    = "https://api.callmebot.com/whatsapp.php"
	DefaultCountryCode     = "54"
	DefaultTokenTTL        = 24 * time.Hour
	DefaultRelayTimeout    = 15 * time.Second
	DefaultImportHorizon   = 90
	DefaultICSCacheDir     = "./var/ics-cache"
	DefaultStoreDriver     = "memory"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultPDFPrintTimeout = 30 * time.Second
	DefaultGoogleCalendar  = "primary"
)

// Environment variables that override secrets from the file.
const (
	EnvJWTSecret       = "EVENTPRO_JWT_SECRET"
	EnvCallMeBotAPIKey = "CALLMEBOT_API_KEY"
	EnvCallMeBotURL    = "CALLMEBOT_BASE_URL"
	EnvDatabaseDSN     = "DATABASE_DSN"
	EnvGoogleClientID  = "GOOGLE_CLIENT_ID"
	EnvGoogleSecret    = "GOOGLE_CLIENT_SECRET"
)

// ICSConfig describes a single external calendar subscription.
type ICSConfig struct {
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Company is stored as the production company of imported events;
	// empty means Name.
	Company string `yaml:"company,omitempty" json:"company,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // text | json
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver          string `yaml:"driver" json:"driver"` // memory | postgres | firestore
	DSN             string `yaml:"dsn,omitempty" json:"-"`
	ProjectID       string `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" json:"-"`
	TokenTTL  time.Duration `yaml:"token_ttl" json:"token_ttl"`
}

type RemindersConfig struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string `yaml:"schedule" json:"schedule"`
	Disabled bool   `yaml:"disabled" json:"disabled"`
}

// WhatsAppConfig configures the CallMeBot relay. When Disabled is set or no
// API key is present, messages are only logged.
type WhatsAppConfig struct {
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	APIKey      string        `yaml:"api_key" json:"-"`
	CountryCode string        `yaml:"country_code" json:"country_code"`
	Disabled    bool          `yaml:"disabled" json:"disabled"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	// AsyncNotify sends notifications in the background instead of before
	// the HTTP response.
	AsyncNotify bool `yaml:"async_notify" json:"async_notify"`
}

// PDFConfig configures the headless browser used for PDF reports.
type PDFConfig struct {
	// RemoteURL is a DevTools websocket URL; empty launches a local browser.
	RemoteURL string        `yaml:"remote_url,omitempty" json:"remote_url,omitempty"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	Disabled  bool          `yaml:"disabled" json:"disabled"`
}

// GoogleConfig links a Google Calendar that mirrors every event. Sync is
// off while the client id or secret is missing.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	// RedirectURL must point at /auth/callback of this server.
	RedirectURL string `yaml:"redirect_url" json:"redirect_url"`
	CalendarID  string `yaml:"calendar_id" json:"calendar_id"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the API.
	Listen string `yaml:"listen" json:"listen"`

	// AllowedOrigin enables CORS for a browser UI served elsewhere; "*"
	// allows any origin.
	AllowedOrigin string `yaml:"allowed_origin,omitempty" json:"allowed_origin,omitempty"`

	// Timezone is the IANA zone used for dates, reminders and messages.
	Timezone string `yaml:"timezone" json:"timezone"`

	Log       LogConfig       `yaml:"log" json:"log"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Reminders RemindersConfig `yaml:"reminders" json:"reminders"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp" json:"whatsapp"`
	PDF       PDFConfig       `yaml:"pdf" json:"pdf"`
	Google    GoogleConfig    `yaml:"google" json:"google"`

	// ICS is the list of subscribed external calendars.
	ICS []ICSConfig `yaml:"ics" json:"ics"`
	// ICSCacheDir holds the last body and validators of every feed.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`
	// ImportHorizonDays is how far ahead external occurrences are imported.
	ImportHorizonDays int `yaml:"import_horizon_days" json:"import_horizon_days"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
		c.Log.Format = strings.ToLower(c.Log.Format)
	default:
		c.Log.Format = DefaultLogFormat
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}

	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Reminders.Schedule == "" {
		c.Reminders.Schedule = DefaultReminderCron
	}

	if c.WhatsApp.BaseURL == "" {
		c.WhatsApp.BaseURL = DefaultCallMeBotURL
	}
	if c.WhatsApp.CountryCode == "" {
		c.WhatsApp.CountryCode = DefaultCountryCode
	}
	if c.WhatsApp.Timeout <= 0 {
		c.WhatsApp.Timeout = DefaultRelayTimeout
	}
	if c.PDF.Timeout <= 0 {
		c.PDF.Timeout = DefaultPDFPrintTimeout
	}

	if c.Google.CalendarID == "" {
		c.Google.CalendarID = DefaultGoogleCalendar
	}

	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		src := &c.ICS[i]
		if src.ID == "" {
			if src.Name != "" {
				src.ID = src.Name
			} else {
				src.ID = src.URL
			}
		}
		if src.Company == "" {
			src.Company = src.Name
		}
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = DefaultICSCacheDir
	}
	if c.ImportHorizonDays <= 0 {
		c.ImportHorizonDays = DefaultImportHorizon
	}
}

// Validate reports settings the process cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		problems = append(problems, "unknown timezone "+c.Timezone)
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			problems = append(problems, "store.dsn is required for postgres")
		}
	case "firestore":
		if c.Store.ProjectID == "" {
			problems = append(problems, "store.project_id is required for firestore")
		}
	default:
		problems = append(problems, "unknown store driver "+c.Store.Driver)
	}
	if c.GoogleEnabled() && c.Google.RedirectURL == "" {
		problems = append(problems, "google.redirect_url is required when google sync is configured")
	}
	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// RelayEnabled reports whether messages are actually sent.
func (c *Config) RelayEnabled() bool {
	return !c.WhatsApp.Disabled && c.WhatsApp.APIKey != ""
}

// GoogleEnabled reports whether Google Calendar sync can be linked.
func (c *Config) GoogleEnabled() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

// LoadEnv reads KEY=VALUE pairs from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEnv overrides secrets with the environment as read by getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv(EnvCallMeBotAPIKey); v != "" {
		c.WhatsApp.APIKey = v
	}
	if v := getenv(EnvCallMeBotURL); v != "" {
		c.WhatsApp.BaseURL = v
	}
	if v := getenv(EnvDatabaseDSN); v != "" {
		c.Store.DSN = v
	}
	if v := getenv(EnvGoogleClientID); v != "" {
		c.Google.ClientID = v
	}
	if v := getenv(EnvGoogleSecret); v != "" {
		c.Google.ClientSecret = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and defaults are filled in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file and rename. The parent
// directory is created with 0700 and the file ends up 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventpro-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
