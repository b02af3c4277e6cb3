package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"google.golang.org/grpc"

	"github.com/joshp123/deyehome/internal/rpc"
	"github.com/joshp123/deyehome/plugins/deye"
)

type deyeDevice struct {
	EntryID     string         `json:"entry_id"`
	DeviceID    string         `json:"device_id"`
	DeviceName  string         `json:"device_name"`
	ProductName string         `json:"product_name"`
	Online      bool           `json:"online"`
	Stale       bool           `json:"stale"`
	State       map[string]any `json:"state"`
}

func deyeMethod(name string) string {
	return rpc.FullMethod(deye.ServicePackage, deye.ServiceName, name)
}

func deyeCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "devices":
		flags := flag.NewFlagSet("deye devices", flag.ExitOnError)
		entryID := flags.String("entry", "", "Only devices of this entry")
		jsonOut := flags.Bool("json", false, "Output JSON")
		_ = flags.Parse(args[1:])

		var resp struct {
			Devices []deyeDevice `json:"devices"`
		}
		if err := rpc.Invoke(ctx, conn, deyeMethod("ListDevices"), map[string]any{"entry_id": *entryID}, &resp); err != nil {
			fatal("list devices", err)
		}
		out := outputMode{json: *jsonOut}
		if out.json {
			out.printJSON(resp.Devices)
			return
		}
		rows := [][]string{{"DEVICE", "NAME", "PRODUCT", "ONLINE", "STALE", "HUMIDITY", "TARGET"}}
		for _, d := range resp.Devices {
			rows = append(rows, []string{
				d.DeviceID, d.DeviceName, d.ProductName,
				strconv.FormatBool(d.Online), strconv.FormatBool(d.Stale),
				fmt.Sprint(d.State["environment_humidity"]), fmt.Sprint(d.State["target_humidity"]),
			})
		}
		out.table(rows)
	case "refresh":
		if len(args) < 2 {
			fatal("refresh", fmt.Errorf("missing entry id"))
		}
		var resp map[string]any
		if err := rpc.Invoke(ctx, conn, deyeMethod("Refresh"), map[string]any{"entry_id": args[1]}, &resp); err != nil {
			fatal("refresh", err)
		}
		outputMode{json: true}.printJSON(resp)
	default:
		usage()
		os.Exit(2)
	}
}
