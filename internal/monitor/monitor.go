// Package monitor evaluates the published roster against the congressional
// calendar, performs Congress transitions, and schedules refreshes.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joestump/congress-roster/internal/alert"
	"github.com/joestump/congress-roster/internal/calendar"
	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/roster"
	"github.com/joestump/congress-roster/internal/source"
)

// Alerter raises operator alerts.
type Alerter interface {
	Raise(ctx context.Context, ev alert.Event) (*db.Alert, error)
}

// Option configures a Monitor.
type Option func(*Monitor)

func WithAlerter(a Alerter) Option          { return func(m *Monitor) { m.alerts = a } }
func WithLogger(l *slog.Logger) Option      { return func(m *Monitor) { m.logger = l } }
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }
func WithExpected(e Expected) Option        { return func(m *Monitor) { m.expected = e } }

// WithSources limits source checks to the registered adapters and flags the
// static ones.
func WithSources(fps ...source.Fingerprint) Option {
	return func(m *Monitor) {
		m.sources = map[string]bool{}
		for _, fp := range fps {
			m.sources[fp.ID] = fp.Static
		}
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Monitor) { m.reg = reg }
}

// Monitor evaluates roster health. It holds no state between evaluations
// beyond what it stores.
type Monitor struct {
	store    *db.DB
	cal      calendar.Calendar
	alerts   Alerter
	expected Expected
	sources  map[string]bool // id -> static
	reg      prometheus.Registerer
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Monitor over store using cal for dates.
func New(store *db.DB, cal calendar.Calendar, opts ...Option) *Monitor {
	m := &Monitor{
		store:    store,
		cal:      cal,
		expected: DefaultExpected(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.reg != nil {
		m.metrics = NewMetrics(m.reg)
	}
	return m
}

// Calendar returns the monitor's calendar.
func (m *Monitor) Calendar() calendar.Calendar { return m.cal }

// EnsureSession creates the calendar's current session when the store has
// none, as on first start.
func (m *Monitor) EnsureSession(ctx context.Context) (*roster.CongressSession, error) {
	cur, err := m.store.CurrentSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	if cur != nil {
		return cur, nil
	}
	now := m.now()
	s := m.cal.Session(m.cal.CongressFor(now), now)
	s.IsCurrent = true
	if err := m.store.UpsertSession(ctx, s); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	m.logger.Info("created congress session", "congress", s.CongressNumber,
		"house_majority", s.MajorityPartyHouse, "senate_majority", s.MajorityPartySenate)
	return &s, nil
}

// DetectTransition closes the stored session and opens the calendar's one
// when the calendar has moved past it. It returns nil when no transition
// happened; repeating it after a transition is a no-op.
func (m *Monitor) DetectTransition(ctx context.Context) (*Transition, error) {
	cur, err := m.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	want := m.cal.CongressFor(now)
	if want <= cur.CongressNumber {
		return nil, nil
	}

	next := m.cal.Session(want, now)
	at := m.cal.Start(want)
	ended, err := m.store.Transition(ctx, cur.CongressNumber, next, at)
	if err != nil {
		return nil, fmt.Errorf("detect transition: %w", err)
	}
	tr := &Transition{From: cur.CongressNumber, To: want, At: at, MembershipsEnded: ended}
	if m.metrics != nil {
		m.metrics.Transitions.Inc()
	}
	m.logger.Warn("congress transition", "from", tr.From, "to", tr.To, "at", at, "memberships_ended", ended)
	m.raise(ctx, alert.Event{
		Rule:  alert.RuleSessionTransition,
		Title: fmt.Sprintf("The %d Congress has convened", want),
		Message: fmt.Sprintf("Session %d closed at %s and %d current memberships were ended. "+
			"The roster stays CRITICAL until a full refresh for the %d Congress publishes.",
			tr.From, at.Format(time.DateOnly), ended, want),
		Source: "calendar",
		Context: map[string]any{
			"from":              tr.From,
			"to":                tr.To,
			"memberships_ended": ended,
			"house_majority":    string(next.MajorityPartyHouse),
			"senate_majority":   string(next.MajorityPartySenate),
		},
	})
	return tr, nil
}

// Evaluate runs every check against the published view, stores the report
// and raises alerts for degraded states.
func (m *Monitor) Evaluate(ctx context.Context) (*Report, error) {
	tr, err := m.DetectTransition(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	snap, meta, err := m.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	checks := []CheckResult{
		checkMemberCurrency(snap, m.cal, m.expected),
		checkCommitteeCoverage(snap),
		checkLeadership(snap),
		checkDatabaseIntegrity(snap),
		checkTransitionProximity(snap, m.cal),
	}
	checks = append(checks, checkSources(snap, m.sources)...)

	state := Classify(checks, snap.transitionPending != 0)
	summary, recs := summarize(checks)
	rep := &Report{
		GeneratedAt:       snap.now,
		State:             state,
		Congress:          m.cal.CongressFor(snap.now),
		DataCongress:      snap.view.Congress,
		TransitionPending: snap.transitionPending,
		Transition:        tr,
		Summary:           summary,
		Checks:            checks,
		Recommendations:   recs,
	}
	if meta != nil {
		published := meta.PublishedAt
		rep.PublishedAt = &published
		rep.PublishedRun = meta.RunID
	}

	body, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	if _, err := m.store.InsertHealthReport(ctx, string(state), snap.now, body); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	m.observe(rep)
	m.logger.Info("health evaluated", "state", state, "congress", rep.Congress,
		"data_congress", rep.DataCongress, "failing", rep.Failing())

	m.alertFor(ctx, rep)
	return rep, nil
}

// Latest returns the most recent stored report, or nil before the first
// evaluation.
func (m *Monitor) Latest(ctx context.Context) (*Report, error) {
	h, err := m.store.LatestHealthReport(ctx)
	if err != nil || h == nil {
		return nil, err
	}
	var rep Report
	if err := json.Unmarshal([]byte(h.Report), &rep); err != nil {
		return nil, fmt.Errorf("decode report %d: %w", h.ID, err)
	}
	return &rep, nil
}

func (m *Monitor) load(ctx context.Context) (*snapshot, *db.ViewMeta, error) {
	snap := &snapshot{now: m.now().UTC()}
	var err error
	if snap.view, err = m.store.LoadView(ctx); err != nil {
		return nil, nil, err
	}
	meta, err := m.store.GetViewMeta(ctx)
	if err != nil {
		return nil, nil, err
	}
	cur, err := m.store.CurrentSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	if cur != nil {
		snap.session = *cur
	}
	if snap.transitionPending, err = m.store.TransitionPending(ctx); err != nil {
		return nil, nil, err
	}
	runs, err := m.store.LatestAdapterRuns(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range runs {
		if m.sources != nil {
			if _, ok := m.sources[r.SourceID]; !ok {
				continue
			}
		}
		snap.adapters = append(snap.adapters, r)
	}
	return snap, meta, nil
}

func (m *Monitor) alertFor(ctx context.Context, rep *Report) {
	if c, ok := rep.Check(CheckTransitionProximity); ok && c.Status == Warn {
		m.raise(ctx, alert.Event{
			Rule:    alert.RuleTransitionApproaching,
			Message: c.Message,
			Source:  "calendar",
			Context: map[string]any{"days_until_transition": c.Metrics["days_until_transition"]},
		})
	}
	if rep.State == Fresh {
		return
	}
	var lines []string
	for _, c := range rep.Checks {
		if c.Status != Pass {
			lines = append(lines, fmt.Sprintf("%s %s: %s", c.Status, c.Name, c.Message))
		}
	}
	msg := fmt.Sprintf("Roster snapshot is %s.", rep.State)
	for _, l := range lines {
		msg += "\n- " + l
	}
	m.raise(ctx, alert.Event{
		Rule:     alert.RuleSnapshotState,
		Severity: rep.State.Severity(),
		Title:    fmt.Sprintf("Roster snapshot %s", rep.State),
		Message:  msg,
		Source:   "monitor",
		Context:  map[string]any{"state": string(rep.State), "failing": rep.Failing()},
	})
}

func (m *Monitor) observe(rep *Report) {
	if m.metrics == nil {
		return
	}
	m.metrics.Evaluations.Inc()
	m.metrics.State.Set(float64(rep.State.Level()))
	for _, c := range rep.Checks {
		m.metrics.Checks.WithLabelValues(c.Name).Set(float64(c.Status.level()))
	}
	if c, ok := rep.Check(CheckTransitionProximity); ok {
		m.metrics.DaysToNext.Set(c.Metrics["days_until_transition"])
	}
	if c, ok := rep.Check(CheckMemberCurrency); ok {
		m.metrics.CurrentCount.WithLabelValues(string(roster.House)).Set(c.Metrics["house_total"])
		m.metrics.CurrentCount.WithLabelValues(string(roster.Senate)).Set(c.Metrics["senate_total"])
	}
}

func (m *Monitor) raise(ctx context.Context, ev alert.Event) {
	if m.alerts == nil {
		return
	}
	if _, err := m.alerts.Raise(ctx, ev); err != nil {
		m.logger.Error("raise alert", "rule", ev.Rule, "error", err)
	}
}
