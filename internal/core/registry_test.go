package core

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joshp123/deyehome/internal/rpc"
)

type stubPlugin struct {
	id            string
	name          string
	version       string
	services      []string
	dashboards    []Dashboard
	agents        string
	health        HealthStatus
	healthMessage string
}

func (s stubPlugin) ID() string { return s.id }

func (s stubPlugin) Manifest() Manifest {
	return Manifest{
		PluginID:    s.id,
		DisplayName: s.name,
		Version:     s.version,
		Services:    s.services,
	}
}

func (s stubPlugin) AgentsMD() string { return s.agents }

func (s stubPlugin) Dashboards() []Dashboard { return s.dashboards }

func (s stubPlugin) RegisterGRPC(*grpc.Server) {}

func (s stubPlugin) Collectors() []prometheus.Collector { return nil }

func (s stubPlugin) Health() HealthStatus { return s.health }

func (s stubPlugin) HealthMessage() string { return s.healthMessage }

func newStubPlugin(id string) stubPlugin {
	return stubPlugin{
		id:         id,
		name:       "Demo",
		version:    "0.1.0",
		services:   []string{"deyehome.plugins.demo.v1.DemoService"},
		agents:     "demo agents",
		health:     HealthHealthy,
		dashboards: []Dashboard{{Name: "demo", JSON: []byte("{}")}},
	}
}

func TestRegistryListPlugins(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})

	plugins := svc.ListPlugins()
	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}

	got := plugins[0]
	if got.PluginID != "demo" || got.DisplayName != "Demo" || got.Version != "0.1.0" {
		t.Fatalf("unexpected plugin summary: %+v", got)
	}
	if got.Status != string(HealthHealthy) {
		t.Fatalf("unexpected health status: %s", got.Status)
	}
}

func TestRegistryDescribePlugin(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})

	descriptor, ok := svc.DescribePlugin("demo")
	if !ok {
		t.Fatalf("expected plugin descriptor")
	}
	if descriptor.PluginID != "demo" {
		t.Fatalf("unexpected plugin id: %s", descriptor.PluginID)
	}
	if len(descriptor.Dashboards) != 1 {
		t.Fatalf("expected 1 dashboard, got %d", len(descriptor.Dashboards))
	}
	if descriptor.Dashboards[0].Path != "/dashboards/demo/demo.json" {
		t.Fatalf("unexpected dashboard path: %s", descriptor.Dashboards[0].Path)
	}
}

func TestRegistryDescribeOverStruct(t *testing.T) {
	svc := NewRegistryService([]Plugin{newStubPlugin("demo")})

	req, err := rpc.Encode(describePluginRequest{PluginID: "demo"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	resp, err := svc.describePlugin(context.Background(), req)
	if err != nil {
		t.Fatalf("describePlugin: %v", err)
	}
	var out describePluginResponse
	if err := rpc.Decode(resp, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Plugin == nil || out.Plugin.AgentsMD != "demo agents" {
		t.Fatalf("unexpected descriptor: %+v", out.Plugin)
	}

	req, _ = rpc.Encode(describePluginRequest{PluginID: "missing"})
	if _, err := svc.describePlugin(context.Background(), req); status.Code(err) != codes.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestFilterPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo"), newStubPlugin("extra")}

	active := FilterPlugins(compiled, map[string]bool{"demo": true}, false)
	if len(active) != 1 || active[0].ID() != "demo" {
		t.Fatalf("unexpected active plugins: %v", active)
	}

	active = FilterPlugins(compiled, map[string]bool{}, true)
	if len(active) != 2 {
		t.Fatalf("expected all plugins, got %d", len(active))
	}
}

func TestValidateEnabledPlugins(t *testing.T) {
	compiled := []Plugin{newStubPlugin("demo")}

	if err := ValidateEnabledPlugins(compiled, map[string]bool{"demo": true}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ValidateEnabledPlugins(compiled, map[string]bool{"missing": true}, false); err == nil {
		t.Fatalf("expected error for missing plugin")
	}
}

func TestValidatePlugins(t *testing.T) {
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("demo")}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("Bad-ID")}); err == nil {
		t.Fatalf("expected pattern error")
	}
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo"), newStubPlugin("extra")}); err == nil {
		t.Fatalf("expected shared service error")
	}

	other := newStubPlugin("extra")
	other.services = []string{"deyehome.plugins.extra.v1.ExtraService"}
	if err := ValidatePlugins([]Plugin{newStubPlugin("demo"), other}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
