package core

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/deyehome/internal/rpc"
)

const (
	RegistryPackage = "deyehome.registry.v1"
	RegistryName    = "Registry"
)

// PluginSummary is one row of ListPlugins.
type PluginSummary struct {
	PluginID    string `json:"plugin_id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
}

// DashboardRef points at a served dashboard.
type DashboardRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// PluginDescriptor is the DescribePlugin payload.
type PluginDescriptor struct {
	PluginID      string         `json:"plugin_id"`
	DisplayName   string         `json:"display_name"`
	Version       string         `json:"version"`
	Services      []string       `json:"services"`
	AgentsMD      string         `json:"agents_md"`
	Status        string         `json:"status"`
	HealthMessage string         `json:"health_message,omitempty"`
	Dashboards    []DashboardRef `json:"dashboards"`
}

type listPluginsResponse struct {
	Plugins []PluginSummary `json:"plugins"`
}

type describePluginRequest struct {
	PluginID string `json:"plugin_id"`
}

type describePluginResponse struct {
	Plugin *PluginDescriptor `json:"plugin,omitempty"`
}

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

// Register exposes the service as deyehome.registry.v1.Registry.
func (r *RegistryService) Register(server *grpc.Server) {
	rpc.MustRegister(server, rpc.Service{
		Package: RegistryPackage,
		Name:    RegistryName,
		Methods: []rpc.Method{
			{Name: "ListPlugins", Handler: r.listPlugins},
			{Name: "DescribePlugin", Handler: r.describePlugin},
		},
	})
}

func (r *RegistryService) ListPlugins() []PluginSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		manifest := p.Manifest()
		out = append(out, PluginSummary{
			PluginID:    manifest.PluginID,
			DisplayName: manifest.DisplayName,
			Version:     manifest.Version,
			Status:      string(p.Health()),
		})
	}
	return out
}

func (r *RegistryService) DescribePlugin(id string) (*PluginDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != id {
			continue
		}

		descriptor := &PluginDescriptor{
			PluginID:      manifest.PluginID,
			DisplayName:   manifest.DisplayName,
			Version:       manifest.Version,
			Services:      manifest.Services,
			AgentsMD:      p.AgentsMD(),
			Status:        string(p.Health()),
			HealthMessage: p.HealthMessage(),
		}
		for _, d := range p.Dashboards() {
			descriptor.Dashboards = append(descriptor.Dashboards, DashboardRef{
				Name: d.Name,
				Path: DashboardPath(manifest.PluginID, d.Name),
			})
		}
		return descriptor, true
	}
	return nil, false
}

func (r *RegistryService) listPlugins(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return rpc.Encode(listPluginsResponse{Plugins: r.ListPlugins()})
}

func (r *RegistryService) describePlugin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in describePluginRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	descriptor, ok := r.DescribePlugin(in.PluginID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "plugin %q not found", in.PluginID)
	}
	return rpc.Encode(describePluginResponse{Plugin: descriptor})
}
