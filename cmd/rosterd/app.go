package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/joestump/congress-roster/internal/alert"
	"github.com/joestump/congress-roster/internal/calendar"
	"github.com/joestump/congress-roster/internal/config"
	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/fetch"
	"github.com/joestump/congress-roster/internal/hub"
	"github.com/joestump/congress-roster/internal/monitor"
	"github.com/joestump/congress-roster/internal/reconcile"
	"github.com/joestump/congress-roster/internal/redact"
	"github.com/joestump/congress-roster/internal/refresh"
	"github.com/joestump/congress-roster/internal/resolve"
	"github.com/joestump/congress-roster/internal/source"
)

// app holds every long-lived component of one rosterd process.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	store     *db.DB
	sources   *source.Registry
	alerts    *alert.Manager
	hub       *hub.Hub
	refresher *refresh.Refresher
	monitor   *monitor.Monitor
	manager   *monitor.Manager
}

// newLogger builds the process logger. Logs go to w so the mcp subcommand
// can keep stdout for the protocol.
func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// fetchConfig overlays the configured politeness settings on the fetcher
// defaults.
func fetchConfig(cfg config.Config) fetch.Config {
	fc := fetch.DefaultConfig()
	fc.UserAgent = cfg.Fetch.UserAgent
	fc.DefaultDelay = cfg.Fetch.PerHostDelay
	fc.HostDelays = cfg.Fetch.HostDelays
	fc.Timeout = cfg.Fetch.Timeout
	fc.MaxRetries = cfg.Fetch.MaxRetries
	if len(cfg.Fetch.DailyQuota) > 0 {
		fc.DailyQuotas = cfg.Fetch.DailyQuota
	}
	fc.Location = cfg.Location()
	return fc
}

// loadAliases reads the committee alias table from path, or returns the
// built-in table when path is empty.
func loadAliases(path string) (*resolve.Aliases, error) {
	if path == "" {
		return resolve.DefaultAliases(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read aliases: %w", err)
	}
	aliases, err := resolve.ParseAliases(data)
	if err != nil {
		return nil, fmt.Errorf("parse aliases %s: %w", path, err)
	}
	return aliases, nil
}

// newApp opens the store and wires fetcher, adapters, alerting, refresher
// and monitor together. The caller must call close.
func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	store, err := db.Open(filepath.Join(cfg.StateDir, "rosterd.db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: store, hub: hub.New()}
	if err := a.wire(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	redactor := redact.FromEnv()
	fetcher := fetch.New(fetchConfig(cfg),
		fetch.WithRegisterer(a.registry),
		fetch.WithLogger(a.logger),
		fetch.WithRedactor(redactor),
	)

	sources, err := source.NewRegistry(source.Settings{
		Enabled:        cfg.Sources.Enabled,
		Authority:      cfg.Sources.Authority,
		SenateURL:      cfg.Sources.SenateURL,
		HousePages:     cfg.Sources.HousePages,
		CongressAPIURL: cfg.Sources.CongressAPIURL,
		CongressAPIKey: cfg.Sources.CongressAPIKey,
		MirrorURL:      cfg.Sources.MirrorURL,
	}, fetcher, a.logger)
	if err != nil {
		return fmt.Errorf("build sources: %w", err)
	}
	a.sources = sources

	notifiers, err := alert.NewNotifiers(alert.Settings{
		Channels: cfg.Alerts.Channels,
		Email: alert.EmailConfig{
			Host:     cfg.Alerts.SMTPHost,
			Port:     cfg.Alerts.SMTPPort,
			Username: cfg.Alerts.Username,
			Password: cfg.Alerts.Password,
			From:     cfg.Alerts.EmailFrom,
			To:       cfg.Alerts.EmailTo,
		},
		SlackURL:   cfg.Alerts.SlackURL,
		WebhookURL: cfg.Alerts.WebhookURL,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("build notifiers: %w", err)
	}
	a.alerts = alert.New(a.store, notifiers,
		alert.WithLogger(a.logger),
		alert.WithRedactor(redactor),
	)

	aliases, err := loadAliases(cfg.Reconcile.AliasesFile)
	if err != nil {
		return err
	}
	ropts := reconcile.DefaultOptions()
	ropts.ConfidencePerSource = cfg.Reconcile.ConfidencePerSource
	engine := reconcile.New(sources.Authorities(), ropts)

	a.refresher = refresh.New(a.store, sources.Adapters(), engine,
		refresh.WithOptions(refresh.Options{
			Concurrency:    cfg.Refresh.Concurrency,
			AdapterTimeout: cfg.Refresh.AdapterTimeout,
			CycleTimeout:   cfg.Refresh.CycleTimeout,
			Resolve: resolve.Options{
				MembershipTTL: cfg.Reconcile.MembershipTTL,
				ProfileTTL:    cfg.Reconcile.ProfileTTL,
			},
		}),
		refresh.WithAliases(aliases),
		refresh.WithProgress(a.hub),
		refresh.WithAlerter(a.alerts),
		refresh.WithLogger(a.logger),
		refresh.WithRegisterer(a.registry),
	)

	var fps []source.Fingerprint
	for _, ad := range sources.Adapters() {
		fps = append(fps, ad.Fingerprint())
	}
	a.monitor = monitor.New(a.store, calendar.New(cfg.Location()),
		monitor.WithAlerter(a.alerts),
		monitor.WithLogger(a.logger),
		monitor.WithExpected(monitor.Expected{House: cfg.Monitor.ExpectedHouse, Senate: cfg.Monitor.ExpectedSenate}),
		monitor.WithSources(fps...),
		monitor.WithRegisterer(a.registry),
	)

	triggers, err := monitor.Triggers(monitor.Schedules{
		Daily:   cfg.Monitor.DailySchedule,
		Weekly:  cfg.Monitor.WeeklySchedule,
		Monthly: cfg.Monitor.MonthlySchedule,
	}, cfg.Monitor.Cooldown, cfg.Location())
	if err != nil {
		return fmt.Errorf("build triggers: %w", err)
	}
	a.manager = monitor.NewManager(a.store, a.monitor, a.refresher, triggers,
		monitor.WithEscalator(a.alerts),
		monitor.WithManagerLogger(a.logger),
	)
	return nil
}

func (a *app) close() error {
	return a.store.Close()
}

// sourceIDs lists the registered adapters, marking static ones.
func (a *app) sourceIDs() string {
	var ids []string
	for _, ad := range a.sources.Adapters() {
		fp := ad.Fingerprint()
		id := fmt.Sprintf("%s(%.2f)", fp.ID, fp.Authority)
		if fp.Static {
			id += "[static]"
		}
		ids = append(ids, id)
	}
	return strings.Join(ids, ", ")
}

// follow prints the progress lines of runID to w until the run's stream
// closes.
func (a *app) follow(runID string, w io.Writer) (done <-chan struct{}) {
	lines, unsubscribe := a.hub.Subscribe(runID)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer unsubscribe()
		for line := range lines {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}()
	return finished
}
