package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/refresh"
)

var (
	ErrBusy           = errors.New("update already running")
	ErrUnknownTrigger = errors.New("unknown trigger")
)

// Refresher runs refresh cycles.
type Refresher interface {
	Run(ctx context.Context, runID, trigger string) (*refresh.Result, error)
	Running() string
}

// Escalator re-sends unacknowledged alerts whose escalation step is due.
type Escalator interface {
	Escalate(ctx context.Context) (int, error)
}

// maxSleep bounds how long the loop sleeps so transitions and pending
// events are noticed without a scheduled trigger.
const maxSleep = 5 * time.Minute

type emergency struct {
	runID  string
	reason string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithEscalator(e Escalator) ManagerOption { return func(m *Manager) { m.escalator = e } }

func WithManagerLogger(l *slog.Logger) ManagerOption { return func(m *Manager) { m.logger = l } }

// WithTimer replaces time.After in the run loop.
func WithTimer(after func(time.Duration) <-chan time.Time) ManagerOption {
	return func(m *Manager) { m.after = after }
}

// Manager fires triggers: on schedule, on events seen by the monitor, and on
// demand.
type Manager struct {
	store     *db.DB
	mon       *Monitor
	refresher Refresher
	escalator Escalator
	triggers  map[string]Trigger
	order     []string
	logger    *slog.Logger
	after     func(time.Duration) <-chan time.Time

	triggerCh chan emergency
	next      map[string]time.Time

	mu      sync.Mutex
	running string
}

// NewManager wires a monitor and refresher to a trigger set.
func NewManager(store *db.DB, mon *Monitor, r Refresher, triggers []Trigger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		mon:       mon,
		refresher: r,
		triggers:  map[string]Trigger{},
		logger:    slog.Default(),
		after:     time.After,
		triggerCh: make(chan emergency, 1),
		next:      map[string]time.Time{},
	}
	for _, t := range triggers {
		m.triggers[t.Name] = t
		m.order = append(m.order, t.Name)
	}
	for _, o := range opts {
		o(m)
	}
	m.schedule(mon.now())
	return m
}

// schedule computes the next due time of every scheduled trigger after now.
func (m *Manager) schedule(now time.Time) {
	for _, name := range m.order {
		if t := m.triggers[name]; t.Kind == Scheduled {
			m.next[name] = t.Next(now)
		}
	}
}

// Running returns the trigger executing now, or "".
func (m *Manager) Running() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// TriggerEmergency queues an emergency re-ingest and returns its run id.
// It is rejected while any update is running or already queued.
func (m *Manager) TriggerEmergency(reason string) (string, error) {
	if name := m.Running(); name != "" {
		return "", fmt.Errorf("%w: %s", ErrBusy, name)
	}
	if id := m.refresher.Running(); id != "" {
		return "", fmt.Errorf("%w: refresh %s", ErrBusy, id)
	}
	req := emergency{runID: refresh.NewRunID(), reason: reason}
	select {
	case m.triggerCh <- req:
		return req.runID, nil
	default:
		return "", fmt.Errorf("%w: emergency already queued", ErrBusy)
	}
}

// Run is the scheduling loop. Each wake-up escalates alerts, handles a
// Congress transition, fires due scheduled and event triggers, then sleeps
// until the next schedule, at most maxSleep, or until an emergency arrives.
// It returns when ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.schedule(m.mon.now())
	for {
		m.tick(ctx)

		wait := m.untilNext(m.mon.now())
		fmt.Printf("[%s] Sleeping %s until next trigger...\n",
			m.mon.now().UTC().Format(time.RFC3339), wait.Round(time.Second))

		select {
		case <-ctx.Done():
			return nil
		case req := <-m.triggerCh:
			if _, err := m.fire(ctx, TriggerEmergency, req.reason, req.runID); err != nil {
				m.logger.Error("emergency re-ingest", "run", req.runID, "error", err)
			}
		case <-m.after(wait):
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	if m.escalator != nil {
		if n, err := m.escalator.Escalate(ctx); err != nil {
			m.logger.Error("escalate alerts", "error", err)
		} else if n > 0 {
			m.logger.Info("escalated alerts", "deliveries", n)
		}
	}

	tr, err := m.mon.DetectTransition(ctx)
	if err != nil {
		m.logger.Error("detect transition", "error", err)
	}
	if tr != nil {
		reason := fmt.Sprintf("the %d Congress convened", tr.To)
		if _, err := m.fireBypass(ctx, TriggerTransition, reason, ""); err != nil {
			m.logger.Error("transition re-ingest", "error", err)
		}
	}

	now := m.mon.now()
	for _, name := range m.order {
		t := m.triggers[name]
		if t.Kind != Scheduled || now.Before(m.next[name]) {
			continue
		}
		m.next[name] = t.Next(now)
		if _, err := m.Fire(ctx, name, "scheduled"); err != nil {
			m.logger.Error("scheduled trigger", "trigger", name, "error", err)
		}
	}

	if reason, ok := m.transitionDue(ctx); ok {
		if _, err := m.Fire(ctx, TriggerTransition, reason); err != nil {
			m.logger.Error("transition trigger", "error", err)
		}
	}
}

func (m *Manager) untilNext(now time.Time) time.Duration {
	wait := maxSleep
	for _, next := range m.next {
		if d := next.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// transitionDue reports whether the transition detector should fire: a new
// Congress still lacks a full refresh, or one convenes within the
// announcement window and the detector has not completed within a day.
func (m *Manager) transitionDue(ctx context.Context) (string, bool) {
	if _, ok := m.triggers[TriggerTransition]; !ok {
		return "", false
	}
	pending, err := m.store.TransitionPending(ctx)
	if err != nil {
		m.logger.Error("read transition pending", "error", err)
		return "", false
	}
	if pending != 0 {
		return fmt.Sprintf("the %d Congress has not had a full refresh", pending), true
	}
	now := m.mon.now()
	days := m.mon.cal.DaysUntilNext(now)
	if days > transitionWindow {
		return "", false
	}
	last, err := m.store.LastTriggerExecution(ctx, TriggerTransition)
	if err != nil {
		m.logger.Error("read last transition execution", "error", err)
		return "", false
	}
	if last != nil && now.Sub(last.StartedAt) < approachInterval {
		return "", false
	}
	return fmt.Sprintf("the next Congress convenes in %d days", days), true
}

// Fire executes the named trigger now unless it is within its cooldown, in
// which case a skipped execution is recorded.
func (m *Manager) Fire(ctx context.Context, name, reason string) (*db.TriggerExecution, error) {
	return m.fire(ctx, name, reason, "")
}

func (m *Manager) fireBypass(ctx context.Context, name, reason, runID string) (*db.TriggerExecution, error) {
	t, ok := m.triggers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrigger, name)
	}
	t.Bypass = true
	return m.execute(ctx, t, reason, runID)
}

func (m *Manager) fire(ctx context.Context, name, reason, runID string) (*db.TriggerExecution, error) {
	t, ok := m.triggers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrigger, name)
	}
	return m.execute(ctx, t, reason, runID)
}

func (m *Manager) execute(ctx context.Context, t Trigger, reason, runID string) (*db.TriggerExecution, error) {
	now := m.mon.now().UTC()
	exec := &db.TriggerExecution{TriggerName: t.Name, Priority: t.Priority, StartedAt: now}
	if reason != "" {
		exec.Reason = &reason
	}

	if !t.Bypass {
		last, err := m.store.LastTriggerExecution(ctx, t.Name)
		if err != nil {
			return nil, fmt.Errorf("fire %s: %w", t.Name, err)
		}
		if last != nil && now.Sub(last.StartedAt) < t.Cooldown {
			exec.Status = db.TriggerSkipped
			exec.EndedAt = &now
			if exec.ID, err = m.store.InsertTriggerExecution(ctx, exec); err != nil {
				return nil, fmt.Errorf("fire %s: %w", t.Name, err)
			}
			m.count(t.Name, db.TriggerSkipped)
			m.logger.Info("trigger in cooldown", "trigger", t.Name, "last", last.StartedAt, "cooldown", t.Cooldown)
			return exec, nil
		}
	}

	res, err := m.run(ctx, t, exec, runID)
	if err != nil {
		if exec.ID == 0 {
			return nil, err
		}
		return exec, err
	}
	if res != nil && len(res.LeadershipChanges) > 0 && t.Name != TriggerLeadership {
		if _, err := m.Fire(ctx, TriggerLeadership, describeChanges(res)); err != nil {
			m.logger.Error("leadership change trigger", "error", err)
		}
	}
	return exec, nil
}

// run records and performs one execution while holding the busy flag.
func (m *Manager) run(ctx context.Context, t Trigger, exec *db.TriggerExecution, runID string) (*refresh.Result, error) {
	m.mu.Lock()
	if m.running != "" {
		busy := m.running
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBusy, busy)
	}
	m.running = t.Name
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = ""
		m.mu.Unlock()
	}()

	now := exec.StartedAt
	reason := ""
	if exec.Reason != nil {
		reason = *exec.Reason
	}
	exec.Status = db.TriggerRunning
	id, err := m.store.InsertTriggerExecution(ctx, exec)
	if err != nil {
		return nil, fmt.Errorf("fire %s: %w", t.Name, err)
	}
	exec.ID = id
	fmt.Printf("[%s] Trigger %s fired (%s)\n", now.Format(time.RFC3339), t.Name, orDash(reason))

	res, actErr := m.act(ctx, t, runID)
	status := db.TriggerCompleted
	if actErr != nil {
		status = db.TriggerFailed
	}
	var ranID *string
	if res != nil && res.RunID != "" {
		ranID = &res.RunID
	}
	ended := m.mon.now().UTC()
	if err := m.store.FinishTriggerExecution(context.WithoutCancel(ctx), id, status, ranID, ended); err != nil {
		return nil, fmt.Errorf("fire %s: %w", t.Name, err)
	}
	exec.Status, exec.RunID, exec.EndedAt = status, ranID, &ended
	m.count(t.Name, status)
	m.logger.Info("trigger finished", "trigger", t.Name, "status", status, "duration", ended.Sub(now))

	if actErr != nil {
		return res, fmt.Errorf("fire %s: %w", t.Name, actErr)
	}
	return res, nil
}

// act performs a trigger's action. The returned result is nil when no
// refresh ran.
func (m *Manager) act(ctx context.Context, t Trigger, runID string) (*refresh.Result, error) {
	var res *refresh.Result
	switch t.Action {
	case Review:
	case Validate:
		rep, err := m.mon.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		if rep.State == Fresh {
			return nil, nil
		}
		m.logger.Info("roster not fresh, refreshing", "state", rep.State, "failing", rep.Failing())
		fallthrough
	case Ingest:
		var err error
		res, err = m.refresher.Run(ctx, runID, t.Name)
		if err != nil {
			return res, err
		}
	}
	_, err := m.mon.Evaluate(ctx)
	return res, err
}

func (m *Manager) count(name, status string) {
	if m.mon.metrics != nil {
		m.mon.metrics.Triggers.WithLabelValues(name, status).Inc()
	}
}

func describeChanges(res *refresh.Result) string {
	parts := make([]string, 0, len(res.LeadershipChanges))
	for _, c := range res.LeadershipChanges {
		parts = append(parts, fmt.Sprintf("%s %s %s->%s", c.Committee, c.Role, orDash(c.From), orDash(c.To)))
	}
	return strings.Join(parts, "; ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
