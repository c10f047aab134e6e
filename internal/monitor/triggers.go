package monitor

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger names.
const (
	TriggerDaily      = "daily_freshness_check"
	TriggerWeekly     = "weekly_leadership_scan"
	TriggerMonthly    = "monthly_comprehensive_update"
	TriggerTransition = "congress_transition_detector"
	TriggerLeadership = "leadership_change"
	TriggerEmergency  = "emergency_reingest"
)

// Kind says what fires a trigger.
type Kind string

const (
	Scheduled Kind = "scheduled"
	Event     Kind = "event"
	Manual    Kind = "manual"
)

// Action is what a trigger does when it fires.
type Action int

const (
	// Validate evaluates, and refreshes only when the roster is not FRESH.
	Validate Action = iota
	// Ingest refreshes from every source, then evaluates.
	Ingest
	// Review evaluates without refreshing.
	Review
)

// Trigger is one way the monitor starts work.
type Trigger struct {
	Name     string
	Kind     Kind
	Priority string
	Action   Action
	Spec     string
	Cooldown time.Duration
	// Bypass skips the cooldown.
	Bypass bool

	schedule cron.Schedule
}

// Next returns the first scheduled time after t, or the zero time for
// unscheduled triggers.
func (t Trigger) Next(after time.Time) time.Time {
	if t.schedule == nil {
		return time.Time{}
	}
	return t.schedule.Next(after)
}

// Schedules holds the cron specs of the scheduled triggers.
type Schedules struct {
	Daily   string
	Weekly  string
	Monthly string
}

// DefaultSchedules fires daily at 06:00, Mondays at 07:00 and on the first
// of the month at 08:00.
func DefaultSchedules() Schedules {
	return Schedules{Daily: "0 6 * * *", Weekly: "0 7 * * 1", Monthly: "0 8 1 * *"}
}

// DefaultCooldown is the minimum gap between two executions of a trigger.
const DefaultCooldown = 60 * time.Minute

// approachInterval spaces detector runs inside the pre-transition window.
const approachInterval = 24 * time.Hour

// Triggers builds the trigger set. Schedules are standard five-field cron
// specs evaluated in loc.
func Triggers(s Schedules, cooldown time.Duration, loc *time.Location) ([]Trigger, error) {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if loc == nil {
		loc = time.UTC
	}
	ts := []Trigger{
		{Name: TriggerDaily, Kind: Scheduled, Priority: "medium", Action: Validate, Spec: s.Daily},
		{Name: TriggerWeekly, Kind: Scheduled, Priority: "high", Action: Ingest, Spec: s.Weekly},
		{Name: TriggerMonthly, Kind: Scheduled, Priority: "high", Action: Ingest, Spec: s.Monthly},
		{Name: TriggerTransition, Kind: Event, Priority: "critical", Action: Ingest},
		{Name: TriggerLeadership, Kind: Event, Priority: "high", Action: Review},
		{Name: TriggerEmergency, Kind: Manual, Priority: "emergency", Action: Ingest, Bypass: true},
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for i := range ts {
		ts[i].Cooldown = cooldown
		if ts[i].Kind != Scheduled {
			continue
		}
		spec := ts[i].Spec
		if spec == "" {
			return nil, fmt.Errorf("trigger %s: empty schedule", ts[i].Name)
		}
		sched, err := parser.Parse("CRON_TZ=" + loc.String() + " " + spec)
		if err != nil {
			return nil, fmt.Errorf("trigger %s: parse schedule %q: %w", ts[i].Name, spec, err)
		}
		ts[i].schedule = sched
	}
	return ts, nil
}
