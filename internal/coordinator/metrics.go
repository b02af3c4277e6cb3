package coordinator

import "github.com/prometheus/client_golang/prometheus"

var (
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deyehome_coordinator_fetch_duration_seconds",
			Help:    "Duration of upstream fetches per coordinator",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"coordinator"},
	)
	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deyehome_coordinator_fetch_total",
			Help: "Upstream fetches per coordinator by result",
		},
		[]string{"coordinator", "result"},
	)
	joinedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deyehome_coordinator_refresh_joined_total",
			Help: "Refresh calls that joined a fetch already in flight",
		},
		[]string{"coordinator"},
	)
	lastSuccessGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deyehome_coordinator_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful fetch",
		},
		[]string{"coordinator"},
	)
)

// MetricsCollectors exposes shared coordinator collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		fetchDuration,
		fetchTotal,
		joinedTotal,
		lastSuccessGauge,
	}
}
