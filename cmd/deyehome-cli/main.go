// Command deyehome-cli talks to a running deyehome over gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fullstorydev/grpcurl"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/deyehome/internal/config"
)

type command func(ctx context.Context, conn *grpc.ClientConn, args []string)

var commands = map[string]command{
	"plugins":  pluginsCmd,
	"entries":  entriesCmd,
	"entities": entitiesCmd,
	"deye":     deyeCmd,
	"services": servicesCmd,
	"methods":  methodsCmd,
	"call":     callCmd,
}

func main() {
	global := flag.NewFlagSet("deyehome-cli", flag.ExitOnError)
	addr := global.String("addr", "", "gRPC address (default: $DEYEHOME_GRPC_ADDR, then config)")
	timeout := global.Duration("timeout", 30*time.Second, "deadline for the whole command")
	global.Usage = usage
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	run, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}

	target := *addr
	if target == "" {
		target = resolveAddr()
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := grpcurl.BlockingDial(ctx, "tcp", target, insecure.NewCredentials())
	if err != nil {
		fatal("dial "+target, err)
	}
	defer conn.Close()

	run(ctx, conn, args[1:])
}

// resolveAddr prefers the environment, then the first readable config.
func resolveAddr() string {
	if value := os.Getenv("DEYEHOME_GRPC_ADDR"); value != "" {
		return value
	}
	candidates := []string{os.Getenv("DEYEHOME_CONFIG"), config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "deyehome", "config.yaml"))
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		cfg, err := config.Load(path)
		if err != nil || cfg == nil || cfg.Core.GRPCAddr == "" {
			continue
		}
		return loopback(cfg.Core.GRPCAddr)
	}
	return "deyehome:9000"
}

// loopback rewrites a wildcard listen address into something dialable.
func loopback(addr string) string {
	if port, ok := strings.CutPrefix(addr, "0.0.0.0:"); ok {
		return "127.0.0.1:" + port
	}
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}

const usageText = `deyehome-cli [--addr host:port] [--timeout 30s] <command> [args]

Commands:
  plugins list
  plugins describe <plugin_id>
  entries list [--domain deye] [--json]
  entries create --username <user> --password-file <path>
  entries reauth <entry_id> --password-file <path>
  entries reload|unload|remove <entry_id>
  entities list [--platform humidifier] [--entry <entry_id>] [--json]
  entities get <entity_id|name>
  entities call <entity_id|name> <service> [key=value ...]
  deye devices [--entry <entry_id>] [--json]
  deye refresh <entry_id>
  services
  methods <service>
  call <service/method> --data '{}' (or pipe JSON via stdin)
`

func usage() {
	fmt.Fprint(os.Stderr, usageText)
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
