package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // monitor.timezone must resolve in minimal containers

	"github.com/spf13/viper"

	"github.com/joestump/congress-roster/internal/source"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// KnownSources are the source ids that may be enabled.
var KnownSources = []string{"senate", "house", "congressapi", "mirror", "static"}

// KnownChannels are the alert channels that may be configured.
var KnownChannels = []string{"log", "email", "webhook_slack", "webhook_json"}

// Config holds all runtime configuration for rosterd.
type Config struct {
	StateDir   string
	ListenPort int
	LogLevel   string
	LogFormat  string

	Sources   Sources
	Fetch     Fetch
	Reconcile Reconcile
	Refresh   Refresh
	Monitor   Monitor
	Alerts    Alerts
}

// Sources selects and weights the upstream adapters.
type Sources struct {
	Enabled        []string
	Authority      map[string]float64
	SenateURL      string
	HousePages     []source.HousePage // empty means source.DefaultHousePages
	CongressAPIURL string
	MirrorURL      string
	CongressAPIKey string // CONGRESS_API_KEY, env only
}

// Fetch holds the outbound politeness settings.
type Fetch struct {
	PerHostDelay time.Duration
	HostDelays   map[string]time.Duration
	Timeout      time.Duration
	MaxRetries   int
	DailyQuota   map[string]int
	UserAgent    string
}

// Reconcile tunes fact lifetimes and confidence.
type Reconcile struct {
	MembershipTTL       time.Duration
	ProfileTTL          time.Duration
	ConfidencePerSource float64
	AliasesFile         string
}

// Refresh bounds a refresh cycle.
type Refresh struct {
	Concurrency    int
	AdapterTimeout time.Duration
	CycleTimeout   time.Duration
}

// Monitor configures health evaluation and triggers.
type Monitor struct {
	DailySchedule   string
	WeeklySchedule  string
	MonthlySchedule string
	ExpectedHouse   int
	ExpectedSenate  int
	Cooldown        time.Duration
	Timezone        string
}

// Alerts configures notification channels. Secrets come from the
// environment only.
type Alerts struct {
	Channels   []string
	EmailTo    []string
	EmailFrom  string
	SMTPHost   string
	SMTPPort   int
	Username   string
	Password   string // SMTP_PASSWORD
	SlackURL   string // SLACK_WEBHOOK_URL
	WebhookURL string // GENERIC_WEBHOOK_URL
}

// SetDefaults registers the default of every key that has no flag.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("sources.enabled", []string{"senate", "house", "congressapi", "mirror"})
	v.SetDefault("fetch.per_host_delay_seconds", 2.0)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.daily_quota", map[string]any{"api.congress.gov": 5000})
	v.SetDefault("fetch.user_agent", "rosterd/"+Version+" (+https://github.com/joestump/congress-roster)")
	v.SetDefault("reconcile.membership_ttl_hours", 24)
	v.SetDefault("reconcile.profile_ttl_days", 7)
	v.SetDefault("reconcile.confidence_per_source", 35.0)
	v.SetDefault("refresh.concurrency", 3)
	v.SetDefault("refresh.adapter_timeout_minutes", 10)
	v.SetDefault("refresh.cycle_timeout_minutes", 30)
	v.SetDefault("monitor.schedule.daily", "0 6 * * *")
	v.SetDefault("monitor.schedule.weekly", "0 7 * * 1")
	v.SetDefault("monitor.schedule.monthly", "0 8 1 * *")
	v.SetDefault("monitor.expected.house_total", 441)
	v.SetDefault("monitor.expected.senate_total", 100)
	v.SetDefault("monitor.cooldown_minutes", 60)
	v.SetDefault("monitor.timezone", "America/New_York")
	v.SetDefault("alerts.channels", []string{"log"})
	v.SetDefault("alerts.email.smtp_port", 587)
}

// Load reads configuration from v, which merges flag values, env vars, the
// optional config file and defaults (set up by the cobra command in
// cmd/rosterd).
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		StateDir:   v.GetString("state_dir"),
		ListenPort: v.GetInt("listen_port"),
		LogLevel:   strings.ToLower(v.GetString("log.level")),
		LogFormat:  strings.ToLower(v.GetString("log.format")),
		Sources: Sources{
			Enabled:        v.GetStringSlice("sources.enabled"),
			Authority:      map[string]float64{},
			SenateURL:      v.GetString("sources.senate.url"),
			CongressAPIURL: v.GetString("sources.congressapi.url"),
			MirrorURL:      v.GetString("sources.mirror.url"),
			CongressAPIKey: os.Getenv("CONGRESS_API_KEY"),
		},
		Fetch: Fetch{
			PerHostDelay: seconds(v.GetFloat64("fetch.per_host_delay_seconds")),
			Timeout:      seconds(v.GetFloat64("fetch.timeout_seconds")),
			MaxRetries:   v.GetInt("fetch.max_retries"),
			UserAgent:    v.GetString("fetch.user_agent"),
		},
		Reconcile: Reconcile{
			MembershipTTL:       time.Duration(v.GetFloat64("reconcile.membership_ttl_hours") * float64(time.Hour)),
			ProfileTTL:          time.Duration(v.GetFloat64("reconcile.profile_ttl_days") * float64(24*time.Hour)),
			ConfidencePerSource: v.GetFloat64("reconcile.confidence_per_source"),
			AliasesFile:         v.GetString("reconcile.aliases_file"),
		},
		Refresh: Refresh{
			Concurrency:    v.GetInt("refresh.concurrency"),
			AdapterTimeout: time.Duration(v.GetInt("refresh.adapter_timeout_minutes")) * time.Minute,
			CycleTimeout:   time.Duration(v.GetInt("refresh.cycle_timeout_minutes")) * time.Minute,
		},
		Monitor: Monitor{
			DailySchedule:   v.GetString("monitor.schedule.daily"),
			WeeklySchedule:  v.GetString("monitor.schedule.weekly"),
			MonthlySchedule: v.GetString("monitor.schedule.monthly"),
			ExpectedHouse:   v.GetInt("monitor.expected.house_total"),
			ExpectedSenate:  v.GetInt("monitor.expected.senate_total"),
			Cooldown:        time.Duration(v.GetInt("monitor.cooldown_minutes")) * time.Minute,
			Timezone:        v.GetString("monitor.timezone"),
		},
		Alerts: Alerts{
			Channels:   v.GetStringSlice("alerts.channels"),
			EmailTo:    v.GetStringSlice("alerts.email.to"),
			EmailFrom:  v.GetString("alerts.email.from"),
			SMTPHost:   v.GetString("alerts.email.smtp_host"),
			SMTPPort:   v.GetInt("alerts.email.smtp_port"),
			Username:   v.GetString("alerts.email.username"),
			Password:   os.Getenv("SMTP_PASSWORD"),
			SlackURL:   os.Getenv("SLACK_WEBHOOK_URL"),
			WebhookURL: os.Getenv("GENERIC_WEBHOOK_URL"),
		},
	}

	for _, id := range KnownSources {
		key := "sources." + id + ".authority_weight"
		if v.IsSet(key) {
			cfg.Sources.Authority[id] = v.GetFloat64(key)
		}
	}

	if err := v.UnmarshalKey("sources.house.pages", &cfg.Sources.HousePages); err != nil {
		return Config{}, fmt.Errorf("sources.house.pages: %w", err)
	}

	var err error
	if cfg.Fetch.HostDelays, err = hostMap(v, "fetch.host_delays", func(s string) (time.Duration, error) {
		f, err := strconv.ParseFloat(s, 64)
		return seconds(f), err
	}); err != nil {
		return Config{}, err
	}
	if cfg.Fetch.DailyQuota, err = hostMap(v, "fetch.daily_quota", strconv.Atoi); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

// hostMap reads a host-keyed table such as fetch.host_delays.
func hostMap[T any](v *viper.Viper, key string, parse func(string) (T, error)) (map[string]T, error) {
	raw := v.GetStringMapString(key)
	out := make(map[string]T, len(raw))
	for host, s := range raw {
		val, err := parse(s)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", key, host, err)
		}
		out[host] = val
	}
	return out, nil
}

// Validate reports every configuration error at once. Any error is fatal at
// startup.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.StateDir == "" {
		bad("state_dir is required")
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		bad("listen_port %d out of range", c.ListenPort)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		bad("log.level %q must be debug, info, warn or error", c.LogLevel)
	}
	if !slices.Contains([]string{"text", "json"}, c.LogFormat) {
		bad("log.format %q must be text or json", c.LogFormat)
	}

	if len(c.Sources.Enabled) == 0 {
		bad("sources.enabled lists no source")
	}
	for _, id := range c.Sources.Enabled {
		if !slices.Contains(KnownSources, id) {
			bad("sources.enabled: unknown source %q", id)
		}
	}
	for id, w := range c.Sources.Authority {
		if w < 0 || w > 1 {
			bad("sources.%s.authority_weight %v outside [0,1]", id, w)
		}
	}

	for i, p := range c.Sources.HousePages {
		if p.Code == "" || p.URL == "" {
			bad("sources.house.pages[%d] needs code and url", i)
		}
	}

	if c.Fetch.PerHostDelay < 0 {
		bad("fetch.per_host_delay_seconds must not be negative")
	}
	if c.Fetch.Timeout <= 0 {
		bad("fetch.timeout_seconds must be positive")
	}
	if c.Fetch.MaxRetries < 0 {
		bad("fetch.max_retries must not be negative")
	}
	for host, n := range c.Fetch.DailyQuota {
		if n <= 0 {
			bad("fetch.daily_quota.%s must be positive", host)
		}
	}

	if c.Reconcile.MembershipTTL <= 0 || c.Reconcile.ProfileTTL <= 0 {
		bad("reconcile TTLs must be positive")
	}
	if c.Reconcile.ConfidencePerSource <= 0 || c.Reconcile.ConfidencePerSource > 100 {
		bad("reconcile.confidence_per_source %v outside (0,100]", c.Reconcile.ConfidencePerSource)
	}
	if c.Refresh.Concurrency < 1 {
		bad("refresh.concurrency must be at least 1")
	}

	if c.Monitor.ExpectedHouse <= 0 || c.Monitor.ExpectedSenate <= 0 {
		bad("monitor.expected totals must be positive")
	}
	if c.Monitor.Cooldown < 0 {
		bad("monitor.cooldown_minutes must not be negative")
	}
	if _, err := time.LoadLocation(c.Monitor.Timezone); err != nil {
		bad("monitor.timezone: %w", err)
	}

	for _, ch := range c.Alerts.Channels {
		if !slices.Contains(KnownChannels, ch) {
			bad("alerts.channels: unknown channel %q", ch)
		}
	}
	if c.Alerts.SMTPPort < 0 || c.Alerts.SMTPPort > 65535 {
		bad("alerts.email.smtp_port %d out of range", c.Alerts.SMTPPort)
	}
	return errors.Join(errs...)
}

// Location returns the monitor's time zone. Validate has checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Monitor.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
