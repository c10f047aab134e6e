package monitor

import "github.com/joestump/congress-roster/internal/alert"

// State summarizes how trustworthy the published roster is.
type State string

const (
	Fresh    State = "FRESH"
	Stale    State = "STALE"
	Outdated State = "OUTDATED"
	Critical State = "CRITICAL"
)

// Classify folds check results into a State. ERROR counts as FAIL: a check
// that could not run proves nothing about the data.
func Classify(results []CheckResult, transitionPending bool) State {
	var warns, fails int
	for _, r := range results {
		switch r.Status {
		case Warn:
			warns++
		case Fail, Error:
			fails++
		}
	}
	switch {
	case transitionPending || fails >= 2:
		return Critical
	case fails == 1:
		return Outdated
	case warns > 0:
		return Stale
	}
	return Fresh
}

// Severity maps a state onto the alert severity used for snapshot_state.
func (s State) Severity() alert.Severity {
	switch s {
	case Stale:
		return alert.Warning
	case Outdated:
		return alert.Error
	case Critical:
		return alert.Critical
	}
	return alert.Info
}

// Level orders states for metrics, FRESH being 0.
func (s State) Level() int {
	switch s {
	case Stale:
		return 1
	case Outdated:
		return 2
	case Critical:
		return 3
	}
	return 0
}
