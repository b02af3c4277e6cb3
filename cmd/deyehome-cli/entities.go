package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"google.golang.org/grpc"

	"github.com/joshp123/deyehome/internal/entity"
	"github.com/joshp123/deyehome/internal/rpc"
)

func entitiesMethod(name string) string {
	return rpc.FullMethod(entity.ServicePackage, entity.ServiceName, name)
}

func entitiesCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		flags := flag.NewFlagSet("entities list", flag.ExitOnError)
		platform := flags.String("platform", "", "Only this platform")
		entryID := flags.String("entry", "", "Only entities of this entry")
		jsonOut := flags.Bool("json", false, "Output JSON")
		_ = flags.Parse(args[1:])

		states := listEntities(ctx, conn, *platform, *entryID)
		out := outputMode{json: *jsonOut}
		if out.json {
			out.printJSON(states)
			return
		}
		rows := [][]string{{"ENTITY", "NAME", "STATE"}}
		for _, s := range states {
			rows = append(rows, []string{s.EntityID, friendlyName(s), s.State})
		}
		out.table(rows)
	case "get":
		if len(args) < 2 {
			fatal("get", fmt.Errorf("missing entity"))
		}
		id := resolveEntity(ctx, conn, args[1])
		var state entity.State
		if err := rpc.Invoke(ctx, conn, entitiesMethod("GetEntity"), map[string]any{"entity_id": id}, &state); err != nil {
			fatal("get entity", err)
		}
		outputMode{json: true}.printJSON(state)
	case "call":
		if len(args) < 3 {
			fatal("call", fmt.Errorf("usage: entities call <entity> <service> [key=value ...]"))
		}
		id := resolveEntity(ctx, conn, args[1])
		data, err := parseServiceData(args[3:])
		if err != nil {
			fatal("call", err)
		}
		var resp struct {
			State entity.State `json:"state"`
		}
		req := map[string]any{"entity_id": id, "service": args[2], "data": data}
		if err := rpc.Invoke(ctx, conn, entitiesMethod("CallService"), req, &resp); err != nil {
			fatal("call service", err)
		}
		fmt.Printf("%s\t%s\n", resp.State.EntityID, resp.State.State)
	default:
		usage()
		os.Exit(2)
	}
}

func listEntities(ctx context.Context, conn *grpc.ClientConn, platform, entryID string) []entity.State {
	var resp struct {
		Entities []entity.State `json:"entities"`
	}
	req := map[string]any{"platform": platform, "entry_id": entryID}
	if err := rpc.Invoke(ctx, conn, entitiesMethod("ListEntities"), req, &resp); err != nil {
		fatal("list entities", err)
	}
	sort.Slice(resp.Entities, func(i, j int) bool { return resp.Entities[i].EntityID < resp.Entities[j].EntityID })
	return resp.Entities
}

// resolveEntity accepts an entity id or a friendly name.
func resolveEntity(ctx context.Context, conn *grpc.ClientConn, input string) string {
	if strings.Contains(input, ".") {
		return input
	}
	options := make(map[string]string)
	for _, s := range listEntities(ctx, conn, "", "") {
		options[friendlyName(s)] = s.EntityID
	}
	id, err := resolveNamedID("entity", input, options)
	if err != nil {
		fatal("resolve entity", err)
	}
	return id
}

func friendlyName(s entity.State) string {
	if name, ok := s.Attributes["friendly_name"].(string); ok {
		return name
	}
	return s.EntityID
}

// parseServiceData turns key=value pairs into service data. Values stay
// strings; the hub coerces numbers and booleans.
func parseServiceData(pairs []string) (map[string]any, error) {
	data := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid service data %q, want key=value", pair)
		}
		data[key] = value
	}
	return data, nil
}
