// Package alert raises, delivers, escalates and acknowledges operator
// alerts. Alerts are persisted with one delivery record per channel attempt
// so cooldowns and escalation survive restarts.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/redact"
)

// Severity of an alert.
type Severity string

const (
	Info     Severity = "info"
	Warning  Severity = "warning"
	Error    Severity = "error"
	Critical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case Warning:
		return 1
	case Error:
		return 2
	case Critical:
		return 3
	}
	return 0
}

// Channel names as used in configuration and rules.
const (
	ChannelLog   = "log"
	ChannelEmail = "email"
	ChannelSlack = "webhook_slack"
	ChannelJSON  = "webhook_json"
)

var (
	ErrUnknownRule         = errors.New("unknown alert rule")
	ErrNotFound            = errors.New("alert not found")
	ErrAlreadyAcknowledged = errors.New("alert already acknowledged")
)

// Event is what callers raise. Severity and Title fall back to the rule's.
type Event struct {
	Rule     string
	Severity Severity
	Title    string
	Message  string
	Source   string
	Context  map[string]any
}

// Message is what a Notifier delivers.
type Message struct {
	ID        string
	Rule      string
	Title     string
	Body      string
	Severity  Severity
	Source    string
	CreatedAt time.Time
	Context   map[string]any
}

// Notifier delivers messages on one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRedactor scrubs secrets from titles, messages and context.
func WithRedactor(r *redact.Filter) Option {
	return func(m *Manager) { m.redactor = r }
}

// WithRules replaces rules by name; rules not named keep their defaults.
func WithRules(rules ...Rule) Option {
	return func(m *Manager) {
		for _, r := range rules {
			m.rules[r.Name] = r
		}
	}
}

// Manager routes events through rules to notifiers.
type Manager struct {
	store     *db.DB
	rules     map[string]Rule
	notifiers map[string]Notifier
	redactor  *redact.Filter
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Manager with the built-in rules and the given notifiers.
func New(store *db.DB, notifiers []Notifier, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		rules:     make(map[string]Rule),
		notifiers: make(map[string]Notifier),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, r := range DefaultRules() {
		m.rules[r.Name] = r
	}
	for _, n := range notifiers {
		m.notifiers[n.Name()] = n
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Rule returns the rule registered under name.
func (m *Manager) Rule(name string) (Rule, bool) {
	r, ok := m.rules[name]
	return r, ok
}

// Raise persists and delivers an event. It returns nil, nil when the rule's
// cooldown suppresses the event: an alert for the same rule and source was
// raised within the cooldown at the same or higher severity. A delivery
// failure is returned alongside the persisted alert.
func (m *Manager) Raise(ctx context.Context, ev Event) (*db.Alert, error) {
	rule, ok := m.rules[ev.Rule]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, ev.Rule)
	}
	sev := ev.Severity
	if sev == "" {
		sev = rule.Severity
	}
	title := ev.Title
	if title == "" {
		title = rule.Title
	}
	now := m.now().UTC()

	if rule.Cooldown > 0 {
		last, err := m.store.LastAlert(ctx, rule.Name, ev.Source)
		if err != nil {
			return nil, fmt.Errorf("check cooldown: %w", err)
		}
		if last != nil && now.Sub(last.CreatedAt) < rule.Cooldown && Severity(last.Severity).rank() >= sev.rank() {
			m.logger.Debug("alert suppressed by cooldown", "rule", rule.Name, "source", ev.Source, "last", last.ID)
			return nil, nil
		}
	}

	a := &db.Alert{
		ID:        uuid.NewString(),
		Rule:      rule.Name,
		Severity:  string(sev),
		Title:     m.redactor.Redact(title),
		Message:   m.redactor.Redact(ev.Message),
		Source:    ev.Source,
		CreatedAt: now,
	}
	if len(ev.Context) > 0 {
		raw, err := json.Marshal(ev.Context)
		if err != nil {
			return nil, fmt.Errorf("encode alert context: %w", err)
		}
		s := m.redactor.Redact(string(raw))
		a.Context = &s
	}
	if err := m.store.InsertAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("raise %s: %w", rule.Name, err)
	}
	m.logger.Info("alert raised", "id", a.ID, "rule", a.Rule, "severity", a.Severity, "source", a.Source)

	if _, err := m.deliver(ctx, a, 0, rule.Channels); err != nil {
		return a, fmt.Errorf("deliver %s: %w", a.ID, err)
	}
	return a, nil
}

// deliver sends a on every configured channel concurrently and records one
// delivery per channel, returning how many channels were attempted. Channels
// without a notifier are skipped; when none is configured a single skipped
// delivery marks the step as done.
func (m *Manager) deliver(ctx context.Context, a *db.Alert, step int, channels []string) (int, error) {
	msg := m.message(a)
	var g errgroup.Group
	attempted := 0
	for _, ch := range channels {
		n, ok := m.notifiers[ch]
		if !ok {
			m.logger.Debug("alert channel not configured", "channel", ch, "alert", a.ID)
			continue
		}
		attempted++
		g.Go(func() error {
			sendErr := n.Send(ctx, msg)
			d := &db.Delivery{AlertID: a.ID, Channel: ch, Step: step, Status: "sent", DeliveredAt: m.now().UTC()}
			if sendErr != nil {
				s := m.redactor.Redact(sendErr.Error())
				d.Status, d.Error = "failed", &s
				m.logger.Warn("alert delivery failed", "channel", ch, "alert", a.ID, "error", s)
			}
			if _, err := m.store.InsertDelivery(ctx, d); err != nil {
				return err
			}
			if sendErr != nil {
				return fmt.Errorf("%s: %w", ch, sendErr)
			}
			return nil
		})
	}
	if attempted == 0 {
		_, err := m.store.InsertDelivery(ctx, &db.Delivery{
			AlertID: a.ID, Channel: "none", Step: step, Status: "skipped", DeliveredAt: m.now().UTC(),
		})
		return 0, err
	}
	return attempted, g.Wait()
}

func (m *Manager) message(a *db.Alert) Message {
	msg := Message{
		ID:        a.ID,
		Rule:      a.Rule,
		Title:     a.Title,
		Body:      a.Message,
		Severity:  Severity(a.Severity),
		Source:    a.Source,
		CreatedAt: a.CreatedAt,
	}
	if a.Context != nil {
		_ = json.Unmarshal([]byte(*a.Context), &msg.Context)
	}
	return msg
}

// Acknowledge stops escalation of an alert.
func (m *Manager) Acknowledge(ctx context.Context, id, by string) error {
	ok, err := m.store.AcknowledgeAlert(ctx, id, by, m.now().UTC())
	if err != nil {
		return err
	}
	if ok {
		m.logger.Info("alert acknowledged", "id", id, "by", by)
		return nil
	}
	a, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s", ErrAlreadyAcknowledged, id)
}

// Escalate delivers every escalation step that has come due for an
// unacknowledged alert and has not been attempted yet. It returns the number
// of steps delivered.
func (m *Manager) Escalate(ctx context.Context) (int, error) {
	open, err := m.store.ListAlerts(ctx, true, 500, 0)
	if err != nil {
		return 0, fmt.Errorf("escalate: %w", err)
	}
	now := m.now().UTC()
	sent := 0
	var errs []error
	for i := range open {
		a := &open[i]
		rule, ok := m.rules[a.Rule]
		if !ok || len(rule.Escalation) == 0 {
			continue
		}
		done, err := m.store.DeliveredSteps(ctx, a.ID)
		if err != nil {
			return sent, fmt.Errorf("escalate %s: %w", a.ID, err)
		}
		for n, step := range rule.Escalation {
			stepNo := n + 1
			if done[stepNo] || now.Before(a.CreatedAt.Add(step.Delay)) {
				continue
			}
			m.logger.Info("escalating alert", "id", a.ID, "rule", a.Rule, "step", stepNo, "channels", step.Channels)
			n, err := m.deliver(ctx, a, stepNo, step.Channels)
			if err != nil {
				errs = append(errs, err)
			}
			if n > 0 {
				sent++
			}
		}
	}
	return sent, errors.Join(errs...)
}

// Channels returns the names of the configured notifiers, sorted.
func (m *Manager) Channels() []string {
	out := make([]string, 0, len(m.notifiers))
	for name := range m.notifiers {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
