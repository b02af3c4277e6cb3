package deye

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/joshp123/deyehome/internal/config"
	"github.com/joshp123/deyehome/internal/core"
	"github.com/joshp123/deyehome/internal/entry"
	"github.com/joshp123/deyehome/internal/logging"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

// PluginID is the deye plugin and config-entry domain.
const PluginID = "deye"

// Plugin wires the deye handler into the host. A broken deye config
// section still yields a plugin so the error shows up in the registry.
type Plugin struct {
	handler *Handler
	broken  error
}

// NewPlugin returns false when the config has no deye section.
func NewPlugin(cfg *config.DeyeConfig, logger *logrus.Logger) (Plugin, bool) {
	if cfg == nil {
		return Plugin{}, false
	}
	runtime, err := ConfigFromYAML(cfg)
	if err != nil {
		return Plugin{broken: err}, true
	}
	handler, err := NewHandler(runtime, logging.Component(logger, PluginID))
	if err != nil {
		return Plugin{broken: err}, true
	}
	return Plugin{handler: handler}, true
}

func (p Plugin) ID() string { return PluginID }

func (p Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    PluginID,
		DisplayName: "Deye Dehumidifier",
		Version:     "0.1.0",
		Services:    []string{ServicePackage + "." + ServiceName},
	}
}

func (p Plugin) AgentsMD() string { return agentsMD }

func (p Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "deye-overview", JSON: dashboardJSON}}
}

func (p Plugin) RegisterGRPC(server *grpc.Server) {
	if p.handler != nil {
		RegisterDeyeService(server, p.handler)
	}
}

// EntryHandler is nil when the config is invalid.
func (p Plugin) EntryHandler() entry.Handler {
	if p.handler == nil {
		return nil
	}
	return p.handler
}

// RegisterHTTP serves GET /deye/accounts, a read-only view of loaded
// accounts for probes that do not speak gRPC.
func (p Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/deye/accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		views := []accountView{}
		if p.handler != nil {
			for _, a := range p.handler.Accounts() {
				views = append(views, viewAccount(a))
			}
		}
		code := http.StatusOK
		if p.Health() != core.HealthHealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"health":   p.Health(),
			"message":  p.HealthMessage(),
			"accounts": views,
		})
	})
}

func (p Plugin) Collectors() []prometheus.Collector {
	if p.handler == nil {
		return nil
	}
	return []prometheus.Collector{NewMetricsCollector(p.handler.accounts), commandsTotal}
}

func (p Plugin) failingAccounts() int {
	n := 0
	for _, a := range p.handler.Accounts() {
		if !a.Healthy() {
			n++
		}
	}
	return n
}

// Health is degraded while any loaded account's last fetch failed.
func (p Plugin) Health() core.HealthStatus {
	switch {
	case p.handler == nil:
		return core.HealthError
	case p.failingAccounts() > 0:
		return core.HealthDegraded
	}
	return core.HealthHealthy
}

func (p Plugin) HealthMessage() string {
	if p.handler == nil {
		if p.broken != nil {
			return p.broken.Error()
		}
		return "deye is not configured"
	}
	if n := p.failingAccounts(); n > 0 {
		return fmt.Sprintf("%d account(s) failing to refresh", n)
	}
	return ""
}
