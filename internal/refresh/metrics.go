package refresh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the refresh pipeline's collectors.
type Metrics struct {
	Runs         *prometheus.CounterVec
	AdapterRuns  *prometheus.CounterVec
	Duration     prometheus.Histogram
	FactsWritten prometheus.Counter
	Pending      prometheus.Gauge
	LastSuccess  prometheus.Gauge
}

// NewMetrics registers the refresh collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rosterd_refresh_runs_total",
			Help: "Refresh runs by final status",
		}, []string{"status"}),
		AdapterRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rosterd_refresh_adapter_runs_total",
			Help: "Adapter collections by source and outcome",
		}, []string{"source", "status"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rosterd_refresh_duration_seconds",
			Help:    "Wall time of a refresh run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		FactsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "rosterd_refresh_facts_written_total",
			Help: "Facts appended to the store",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "rosterd_refresh_pending_identities",
			Help: "Unresolved identities in the last refresh",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "rosterd_refresh_last_publish_timestamp_seconds",
			Help: "Unix time of the last published view",
		}),
	}
}
