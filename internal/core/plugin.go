package core

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/deyehome/internal/entry"
)

// HealthStatus is what ListPlugins reports per plugin.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Dashboard is an embedded Grafana dashboard, served under DashboardPath.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest is the static part of a plugin's registry entry. Services are
// fully qualified gRPC service names.
type Manifest struct {
	PluginID    string
	DisplayName string
	Version     string
	Services    []string
}

// Plugin is compiled into the binary and switched on by config.
type Plugin interface {
	ID() string
	Manifest() Manifest
	AgentsMD() string
	Dashboards() []Dashboard
	RegisterGRPC(*grpc.Server)
	Collectors() []prometheus.Collector
	Health() HealthStatus
	HealthMessage() string
}

// EntryPlugin owns a config-entry domain; the host registers its handler
// with the entry manager.
type EntryPlugin interface {
	EntryHandler() entry.Handler
}

// HTTPRegistrant mounts extra routes on the metrics/dashboards mux.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}
