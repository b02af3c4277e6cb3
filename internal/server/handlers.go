package server

import (
	"net/http"
)

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Mux wires the host HTTP surface.
func Mux(metrics http.Handler, dashboards map[string][]byte, entities http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.Handle("/dashboards/", DashboardsHandler(dashboards))
	if entities != nil {
		mux.Handle("/api/entities", entities)
		mux.Handle("/api/entities/", entities)
	}
	return mux
}
