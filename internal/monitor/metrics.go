package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the monitor's collectors.
type Metrics struct {
	State        prometheus.Gauge
	Checks       *prometheus.GaugeVec
	Evaluations  prometheus.Counter
	Triggers     *prometheus.CounterVec
	DaysToNext   prometheus.Gauge
	Transitions  prometheus.Counter
	CurrentCount *prometheus.GaugeVec
}

// NewMetrics registers the monitor collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		State: f.NewGauge(prometheus.GaugeOpts{
			Name: "rosterd_snapshot_state",
			Help: "Snapshot state: 0 fresh, 1 stale, 2 outdated, 3 critical",
		}),
		Checks: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rosterd_check_status",
			Help: "Check outcome: 0 pass, 1 warn, 2 fail, 3 error",
		}, []string{"check"}),
		Evaluations: f.NewCounter(prometheus.CounterOpts{
			Name: "rosterd_monitor_evaluations_total",
			Help: "Health evaluations performed",
		}),
		Triggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rosterd_trigger_executions_total",
			Help: "Trigger firings by trigger and status",
		}, []string{"trigger", "status"}),
		DaysToNext: f.NewGauge(prometheus.GaugeOpts{
			Name: "rosterd_days_until_next_congress",
			Help: "Whole days until the next Congress convenes",
		}),
		Transitions: f.NewCounter(prometheus.CounterOpts{
			Name: "rosterd_session_transitions_total",
			Help: "Congress transitions performed",
		}),
		CurrentCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rosterd_current_members",
			Help: "Current members in the published roster by chamber",
		}, []string{"chamber"}),
	}
}
