package router

import (
	"google.golang.org/grpc"

	"github.com/joshp123/deyehome/internal/core"
	"github.com/joshp123/deyehome/internal/entity"
	"github.com/joshp123/deyehome/internal/entry"
)

// RegisterPlugins registers core services and plugin services on the gRPC server.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin, entities *entity.Registry, entries *entry.Manager) {
	core.NewRegistryService(plugins).Register(server)
	if entities != nil {
		entities.RegisterGRPC(server)
	}
	if entries != nil {
		entries.RegisterGRPC(server)
	}

	for _, p := range plugins {
		p.RegisterGRPC(server)
	}
}

// RegisterHandlers hands every entry-owning plugin's handler to the manager.
func RegisterHandlers(entries *entry.Manager, plugins []core.Plugin) {
	for _, p := range plugins {
		if ep, ok := p.(core.EntryPlugin); ok {
			entries.RegisterHandler(ep.EntryHandler())
		}
	}
}
