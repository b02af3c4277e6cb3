package rate

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "deyehome"
	subsystem = "rate_limit"
)

var (
	remainingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "remaining",
		Help:      "Remaining requests as last reported by the provider.",
	}, []string{"provider"})

	blockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "blocked_total",
		Help:      "Requests refused locally before reaching the provider.",
	}, []string{"provider", "reason"})

	lastStatusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "last_status_code",
		Help:      "HTTP status of the most recent provider response.",
	}, []string{"provider"})

	responsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "responses_total",
		Help:      "Provider responses by status class.",
	}, []string{"provider", "class"})
)

// statusClass buckets a status code as "2xx", "4xx" and so on.
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}

// MetricsCollectors returns the collectors shared by every Guard.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{remainingGauge, blockedTotal, lastStatusGauge, responsesTotal}
}
