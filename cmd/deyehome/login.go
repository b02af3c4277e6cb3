package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joshp123/deyehome/internal/config"
	"github.com/joshp123/deyehome/internal/entry"
	"github.com/joshp123/deyehome/internal/logging"
)

func loginUsage() {
	fmt.Println("deyehome login --username <user> --password-file <path> [--config path]")
	fmt.Println("")
	fmt.Println("Runs the Deye config flow and stores the resulting entry.")
}

func loginMain(args []string) {
	flags := flag.NewFlagSet("login", flag.ExitOnError)
	flags.Usage = loginUsage
	username := flags.String("username", "", "Deye cloud username")
	passwordFile := flags.String("password-file", "", "File holding the Deye cloud password")
	configPath := flags.String("config", envOrDefault("DEYEHOME_CONFIG", config.DefaultPath), "Path to config.yaml")
	timeout := flags.Duration("timeout", 2*time.Minute, "Timeout for login and first refresh")
	_ = flags.Parse(args)

	if *username == "" || *passwordFile == "" {
		loginUsage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("login", err)
	}
	if cfg.Deye == nil {
		fatal("login", fmt.Errorf("config has no deye section"))
	}
	password, err := config.ReadSecretFile(*passwordFile)
	if err != nil {
		fatal("login", fmt.Errorf("read password: %w", err))
	}

	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: "text", Output: os.Stderr})
	h, err := newHub(cfg, logger)
	if err != nil {
		fatal("login", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := h.entries.Load(ctx); err != nil {
		fatal("login", err)
	}
	defer func() { _ = h.entries.Close(context.Background()) }()

	outcome, err := h.entries.Create(ctx, "deye", map[string]string{
		entry.DataUsername: *username,
		entry.DataPassword: password,
	})
	if err != nil {
		fatal("login", err)
	}
	if outcome.Entry != nil {
		redacted := outcome.Entry.Redacted()
		outcome.Entry = &redacted
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		fatal("login", err)
	}
}
