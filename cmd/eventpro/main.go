package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"eventpro/internal/calendar"
	"eventpro/internal/config"
	"eventpro/internal/docstore"
	"eventpro/internal/events"
	"eventpro/internal/export"
	"eventpro/internal/gcal"
	"eventpro/internal/ics"
	"eventpro/internal/identity"
	appLog "eventpro/internal/log"
	"eventpro/internal/notify"
	"eventpro/internal/reminder"
	"eventpro/internal/session"
	"eventpro/internal/technicians"
	"eventpro/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	envPath    string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	if err := config.LoadEnv(flags.envPath); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envPath)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(os.Getenv)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		conf.Log.Level = "debug"
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.Configure(os.Stderr, conf.Log.Format, appLog.ParseLevel(conf.Log.Level))
	appLog.Info("eventpro starting", "version", version)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"store", conf.Store.Driver,
		"reminders", !conf.Reminders.Disabled,
		"reminder_schedule", conf.Reminders.Schedule,
		"relay", conf.RelayEnabled(),
		"pdf", !conf.PDF.Disabled,
		"google_calendar", conf.GoogleEnabled(),
		"ics_count", len(conf.ICS),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("eventpro failed", err)
		os.Exit(1)
	}
	appLog.Info("eventpro exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	loc := notify.LoadLocation(conf.Timezone)

	store, err := docstore.Open(ctx, docstore.Options{
		Driver:          conf.Store.Driver,
		DSN:             conf.Store.DSN,
		ProjectID:       conf.Store.ProjectID,
		CredentialsFile: conf.Store.CredentialsFile,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var relay notify.Relay = notify.LogRelay{}
	if conf.RelayEnabled() {
		relay = notify.NewCallMeBot(conf.WhatsApp.BaseURL, conf.WhatsApp.APIKey, conf.WhatsApp.Timeout)
	} else {
		appLog.Warn("whatsapp relay disabled, messages are only logged")
	}
	notifier := notify.NewNotifier(store, relay, notify.Options{
		CountryCode: conf.WhatsApp.CountryCode,
		Location:    loc,
	})

	sched := reminder.NewScheduler(store, notifier)
	reminders, err := reminder.NewService(sched, conf.Reminders.Schedule, loc)
	if err != nil {
		return err
	}

	if once {
		res, err := reminders.TriggerCheck(ctx)
		if err != nil {
			return err
		}
		appLog.Info("reminder check done",
			"checked", res.Checked, "sent48h", res.Sent48h, "sent24h", res.Sent24h, "failed", res.Failed, "failed_recipients", res.FailedRecipients)
		return nil
	}

	secret, err := jwtSecret(conf.Auth.JWTSecret)
	if err != nil {
		return err
	}

	var google *gcal.Client
	evOpts := events.Options{
		Location:    loc,
		AsyncNotify: conf.WhatsApp.AsyncNotify,
	}
	if conf.GoogleEnabled() {
		google = gcal.New(store, gcal.Options{
			ClientID:     conf.Google.ClientID,
			ClientSecret: conf.Google.ClientSecret,
			RedirectURL:  conf.Google.RedirectURL,
			CalendarID:   conf.Google.CalendarID,
			Location:     loc,
		})
		evOpts.Sync = google
	}
	evs := events.NewService(store, notifier, sched, evOpts)
	defer evs.Wait()
	techs := technicians.NewService(store, evs, notifier.Validator())
	ids := identity.NewService(store, secret, conf.Auth.TokenTTL, notifier.Validator())
	sessions := session.NewManager(ids, evs, techs, conf.Auth.TokenTTL)

	var printer export.Printer
	if !conf.PDF.Disabled {
		printer = export.NewChromium(export.ChromiumOptions{
			RemoteURL: conf.PDF.RemoteURL,
			Timeout:   conf.PDF.Timeout,
		})
	}

	deps := web.Deps{
		Identity:      ids,
		Sessions:      sessions,
		Events:        evs,
		Technicians:   techs,
		Calendar:      calendar.NewAdapter(evs),
		Importer:      newImporter(conf, loc),
		Exporter:      export.NewExporter(printer, loc),
		Relay:         notifier,
		Feed:          calendar.FeedOptions{Name: "EventPro", Timezone: conf.Timezone},
		AllowedOrigin: conf.AllowedOrigin,
		Location:      loc,
	}
	if !conf.Reminders.Disabled {
		deps.Reminders = reminders
	}
	if google != nil {
		deps.Google = google
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if !conf.Reminders.Disabled {
		if err := reminders.Start(gctx); err != nil {
			return err
		}
		defer reminders.Stop()
	}
	g.Go(func() error {
		sessions.Run(gctx, 10*time.Minute)
		return nil
	})
	g.Go(func() error {
		appLog.Info("http server listening", "addr", conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newImporter returns nil when no subscription is configured.
func newImporter(conf *config.Config, loc *time.Location) *ics.Importer {
	if len(conf.ICS) == 0 {
		return nil
	}
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, c := range conf.ICS {
		sources = append(sources, ics.Source{ID: c.ID, URL: c.URL, Company: c.Company})
	}
	fetcher := ics.NewFetcher(conf.ICSCacheDir, 0)
	return ics.NewImporter(fetcher, sources, loc, time.Duration(conf.ImportHorizonDays)*24*time.Hour)
}

// jwtSecret returns the configured secret, or a random one that does not
// survive restarts.
func jwtSecret(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	appLog.Warn("no JWT secret configured, tokens will not survive a restart", "env", config.EnvJWTSecret)
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	return b, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/eventpro/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envPath, "env", ".env", "Path to an optional .env file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one reminder check and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
