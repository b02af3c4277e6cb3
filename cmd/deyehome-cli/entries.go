package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"google.golang.org/grpc"

	"github.com/joshp123/deyehome/internal/config"
	"github.com/joshp123/deyehome/internal/entry"
	"github.com/joshp123/deyehome/internal/rpc"
)

func entriesMethod(name string) string {
	return rpc.FullMethod(entry.ServicePackage, entry.ServiceName, name)
}

func entriesCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "list":
		flags := flag.NewFlagSet("entries list", flag.ExitOnError)
		domain := flags.String("domain", "", "Only entries of this domain")
		jsonOut := flags.Bool("json", false, "Output JSON")
		_ = flags.Parse(args[1:])

		var resp struct {
			Entries []entry.Entry `json:"entries"`
		}
		if err := rpc.Invoke(ctx, conn, entriesMethod("ListEntries"), map[string]any{"domain": *domain}, &resp); err != nil {
			fatal("list entries", err)
		}
		out := outputMode{json: *jsonOut}
		if out.json {
			out.printJSON(resp.Entries)
			return
		}
		rows := [][]string{{"ID", "DOMAIN", "TITLE", "STATE", "REASON"}}
		for _, e := range resp.Entries {
			rows = append(rows, []string{e.ID, e.Domain, e.Title, string(e.State), e.Reason})
		}
		out.table(rows)
	case "create":
		flags := flag.NewFlagSet("entries create", flag.ExitOnError)
		domain := flags.String("domain", "deye", "Entry domain")
		username := flags.String("username", "", "Account username")
		passwordFile := flags.String("password-file", "", "File holding the account password")
		_ = flags.Parse(args[1:])
		if *username == "" || *passwordFile == "" {
			fatal("create", fmt.Errorf("--username and --password-file are required"))
		}
		password := readPassword("create", *passwordFile)

		var resp entry.FlowOutcome
		req := map[string]any{
			"domain": *domain,
			"data":   map[string]string{entry.DataUsername: *username, entry.DataPassword: password},
		}
		if err := rpc.Invoke(ctx, conn, entriesMethod("CreateEntry"), req, &resp); err != nil {
			fatal("create entry", err)
		}
		printOutcome(resp)
	case "reauth":
		flags := flag.NewFlagSet("entries reauth", flag.ExitOnError)
		passwordFile := flags.String("password-file", "", "File holding the new password")
		_ = flags.Parse(args[1:])
		if flags.NArg() < 1 || *passwordFile == "" {
			fatal("reauth", fmt.Errorf("usage: entries reauth <entry_id> --password-file <path>"))
		}
		password := readPassword("reauth", *passwordFile)

		var resp entry.FlowOutcome
		req := map[string]any{
			"entry_id": flags.Arg(0),
			"data":     map[string]string{entry.DataPassword: password},
		}
		if err := rpc.Invoke(ctx, conn, entriesMethod("Reauth"), req, &resp); err != nil {
			fatal("reauth", err)
		}
		printOutcome(resp)
	case "reload", "unload":
		if len(args) < 2 {
			fatal(args[0], fmt.Errorf("missing entry id"))
		}
		method := "ReloadEntry"
		if args[0] == "unload" {
			method = "UnloadEntry"
		}
		var resp struct {
			Entry entry.Entry `json:"entry"`
		}
		if err := rpc.Invoke(ctx, conn, entriesMethod(method), map[string]any{"entry_id": args[1]}, &resp); err != nil {
			fatal(args[0], err)
		}
		fmt.Printf("%s\t%s\t%s\n", resp.Entry.ID, resp.Entry.State, resp.Entry.Reason)
	case "remove":
		if len(args) < 2 {
			fatal("remove", fmt.Errorf("missing entry id"))
		}
		if err := rpc.Invoke(ctx, conn, entriesMethod("RemoveEntry"), map[string]any{"entry_id": args[1]}, nil); err != nil {
			fatal("remove", err)
		}
		fmt.Printf("removed %s\n", args[1])
	default:
		usage()
		os.Exit(2)
	}
}

func readPassword(action, path string) string {
	password, err := config.ReadSecretFile(path)
	if err != nil {
		fatal(action, fmt.Errorf("read password: %w", err))
	}
	return password
}

func printOutcome(outcome entry.FlowOutcome) {
	if outcome.Entry == nil {
		fmt.Printf("%s: %s\n", outcome.Type, outcome.Reason)
		return
	}
	fmt.Printf("%s: %s (%s) %s\n", outcome.Type, outcome.Entry.ID, outcome.Entry.Title, outcome.Entry.State)
}
