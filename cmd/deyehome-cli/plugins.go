package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/grpc"

	"github.com/joshp123/deyehome/internal/core"
	"github.com/joshp123/deyehome/internal/rpc"
)

func registryMethod(name string) string {
	return rpc.FullMethod(core.RegistryPackage, core.RegistryName, name)
}

func pluginsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	switch args[0] {
	case "list":
		var resp struct {
			Plugins []core.PluginSummary `json:"plugins"`
		}
		if err := rpc.Invoke(ctx, conn, registryMethod("ListPlugins"), map[string]any{}, &resp); err != nil {
			fatal("list plugins", err)
		}
		rows := [][]string{{"ID", "NAME", "VERSION", "STATUS"}}
		for _, p := range resp.Plugins {
			rows = append(rows, []string{p.PluginID, p.DisplayName, p.Version, p.Status})
		}
		outputMode{}.table(rows)
	case "describe":
		if len(args) < 2 {
			fatal("describe", fmt.Errorf("missing plugin id"))
		}
		var resp struct {
			Plugin *core.PluginDescriptor `json:"plugin"`
		}
		if err := rpc.Invoke(ctx, conn, registryMethod("DescribePlugin"), map[string]any{"plugin_id": args[1]}, &resp); err != nil {
			fatal("describe plugin", err)
		}
		if resp.Plugin == nil {
			fatal("describe", fmt.Errorf("plugin %q not found", args[1]))
		}
		describePlugin(resp.Plugin)
	default:
		usage()
		os.Exit(2)
	}
}

func describePlugin(p *core.PluginDescriptor) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s)\n", p.PluginID, p.Version, p.Status)
	fmt.Fprintf(&b, "  %s\n", p.DisplayName)
	if p.HealthMessage != "" {
		fmt.Fprintf(&b, "  health: %s\n", p.HealthMessage)
	}
	if len(p.Services) > 0 {
		fmt.Fprintf(&b, "  grpc: %s\n", strings.Join(p.Services, ", "))
	}
	for _, dash := range p.Dashboards {
		fmt.Fprintf(&b, "  dashboard: %s -> %s\n", dash.Name, dash.Path)
	}
	if p.AgentsMD != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(p.AgentsMD))
		b.WriteString("\n")
	}
	fmt.Print(b.String())
}
