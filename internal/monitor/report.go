package monitor

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// Transition records a Congress changeover performed during an evaluation.
type Transition struct {
	From             int       `json:"from"`
	To               int       `json:"to"`
	At               time.Time `json:"at"`
	MembershipsEnded int       `json:"memberships_ended"`
}

// Report is one evaluation. It is stored as JSON and served by the health
// endpoint.
type Report struct {
	GeneratedAt       time.Time      `json:"generated_at"`
	State             State          `json:"state"`
	Congress          int            `json:"congress"`
	DataCongress      int            `json:"data_congress"`
	PublishedAt       *time.Time     `json:"published_at,omitempty"`
	PublishedRun      string         `json:"published_run,omitempty"`
	TransitionPending int            `json:"transition_pending,omitempty"`
	Transition        *Transition    `json:"transition,omitempty"`
	Summary           map[Status]int `json:"summary"`
	Checks            []CheckResult  `json:"checks"`
	Recommendations   []string       `json:"recommendations,omitempty"`
}

// Check returns the named result.
func (r *Report) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Failing lists the names of checks that did not pass.
func (r *Report) Failing() []string {
	var out []string
	for _, c := range r.Checks {
		if c.Status != Pass {
			out = append(out, c.Name)
		}
	}
	return out
}

func summarize(checks []CheckResult) (map[Status]int, []string) {
	summary := map[Status]int{Pass: 0, Warn: 0, Fail: 0, Error: 0}
	var recs []string
	for _, c := range checks {
		summary[c.Status]++
		for _, rec := range c.Recommendations {
			if !slices.Contains(recs, rec) {
				recs = append(recs, rec)
			}
		}
	}
	return summary, recs
}

var statusIcon = map[Status]string{Pass: "✅", Warn: "⚠️", Fail: "❌", Error: "💥"}

// Markdown renders the report for people: the /report page and `rosterd
// check` output.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Roster health: %s\n\n", r.State)
	fmt.Fprintf(&b, "Generated %s for the %d Congress.", r.GeneratedAt.UTC().Format(time.RFC3339), r.Congress)
	if r.PublishedAt != nil {
		fmt.Fprintf(&b, " Data for the %d Congress published %s.", r.DataCongress, r.PublishedAt.UTC().Format(time.RFC3339))
	} else {
		b.WriteString(" Nothing has been published yet.")
	}
	b.WriteString("\n\n")
	if r.Transition != nil {
		fmt.Fprintf(&b, "> The %d Congress ended and the %d Congress began at %s; %d memberships were closed.\n\n",
			r.Transition.From, r.Transition.To, r.Transition.At.UTC().Format(time.DateOnly), r.Transition.MembershipsEnded)
	}
	if r.TransitionPending != 0 {
		fmt.Fprintf(&b, "> Waiting for the first full refresh of the %d Congress.\n\n", r.TransitionPending)
	}

	b.WriteString("| Check | Status | Message |\n|---|---|---|\n")
	for _, c := range r.Checks {
		fmt.Fprintf(&b, "| %s | %s %s | %s |\n", c.Name, statusIcon[c.Status], c.Status, cell(c.Message))
	}

	for _, c := range r.Checks {
		if len(c.Metrics) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n\n", c.Name)
		keys := make([]string, 0, len(c.Metrics))
		for k := range c.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, formatMetric(c.Metrics[k]))
		}
	}

	if len(r.Recommendations) > 0 {
		b.WriteString("\n## Recommendations\n\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}
	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func formatMetric(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.3f", v)
}
