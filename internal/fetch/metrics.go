package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the fetcher's Prometheus collectors. Each Fetcher registers
// its own set so independent instances never collide.
type Metrics struct {
	Attempts       *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	QuotaRemaining *prometheus.GaugeVec
	CircuitState   *prometheus.GaugeVec
}

// NewMetrics registers the fetcher collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rosterd_fetch_attempts_total",
			Help: "Outbound request attempts by host and outcome",
		}, []string{"host", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rosterd_fetch_duration_seconds",
			Help:    "Outbound request duration by host",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
		QuotaRemaining: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rosterd_fetch_quota_remaining",
			Help: "Requests left in today's quota by host",
		}, []string{"host"}),
		CircuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rosterd_fetch_circuit_state",
			Help: "Circuit breaker state by host (0 closed, 1 half-open, 2 open)",
		}, []string{"host"}),
	}
}
