package alert

import "time"

// Step is one escalation level: when an alert is still unacknowledged Delay
// after it was raised, it is re-sent on Channels.
type Step struct {
	Delay    time.Duration
	Channels []string
}

// Rule routes one kind of alert.
type Rule struct {
	Name       string
	Title      string
	Severity   Severity
	Channels   []string
	Cooldown   time.Duration
	Escalation []Step
}

// Built-in rule names.
const (
	RuleSnapshotState         = "snapshot_state"
	RuleIntegrityViolation    = "integrity_violation"
	RuleLeadershipConflict    = "leadership_conflict"
	RuleSchemaChanged         = "schema_changed"
	RuleSourceFailure         = "source_failure"
	RuleTransitionApproaching = "transition_approaching"
	RuleSessionTransition     = "session_transition"
	RuleLeadershipChange      = "leadership_change"
)

var (
	allChannels   = []string{ChannelLog, ChannelEmail, ChannelSlack, ChannelJSON}
	criticalSteps = []Step{
		{Delay: 30 * time.Minute, Channels: []string{ChannelEmail}},
		{Delay: 60 * time.Minute, Channels: []string{ChannelSlack}},
	}
)

// DefaultRules returns the built-in rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       RuleSnapshotState,
			Title:      "Roster snapshot degraded",
			Severity:   Warning,
			Channels:   allChannels,
			Cooldown:   60 * time.Minute,
			Escalation: criticalSteps,
		},
		{
			Name:       RuleIntegrityViolation,
			Title:      "Roster integrity violation, publish refused",
			Severity:   Critical,
			Channels:   allChannels,
			Cooldown:   60 * time.Minute,
			Escalation: criticalSteps,
		},
		{
			Name:       RuleLeadershipConflict,
			Title:      "Conflicting committee leadership",
			Severity:   Critical,
			Channels:   allChannels,
			Cooldown:   60 * time.Minute,
			Escalation: criticalSteps,
		},
		{
			Name:     RuleSchemaChanged,
			Title:    "Source schema changed",
			Severity: Error,
			Channels: []string{ChannelLog, ChannelEmail, ChannelJSON},
			Cooldown: 3 * time.Hour,
		},
		{
			Name:     RuleSourceFailure,
			Title:    "Source failed",
			Severity: Error,
			Channels: []string{ChannelLog, ChannelJSON},
			Cooldown: 60 * time.Minute,
		},
		{
			Name:     RuleTransitionApproaching,
			Title:    "Congress transition approaching",
			Severity: Warning,
			Channels: []string{ChannelLog, ChannelEmail},
			Cooldown: 24 * time.Hour,
		},
		{
			Name:       RuleSessionTransition,
			Title:      "Congress session transition",
			Severity:   Critical,
			Channels:   allChannels,
			Cooldown:   24 * time.Hour,
			Escalation: criticalSteps,
		},
		{
			Name:     RuleLeadershipChange,
			Title:    "Committee leadership changed",
			Severity: Warning,
			Channels: []string{ChannelLog, ChannelEmail},
			Cooldown: 3 * time.Hour,
		},
	}
}
