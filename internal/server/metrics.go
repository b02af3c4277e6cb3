package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// MetricsHandler exposes the Prometheus registry. Collector errors are
// logged and the remaining metrics still served.
func MetricsHandler(registry *prometheus.Registry, log *logrus.Entry) http.Handler {
	opts := promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
		Registry:          registry,
	}
	if log != nil {
		opts.ErrorLog = log
	}
	return promhttp.HandlerFor(registry, opts)
}
