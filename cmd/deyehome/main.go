package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/deyehome/internal/config"
	"github.com/joshp123/deyehome/internal/coordinator"
	"github.com/joshp123/deyehome/internal/core"
	"github.com/joshp123/deyehome/internal/entity"
	"github.com/joshp123/deyehome/internal/entry"
	"github.com/joshp123/deyehome/internal/hass"
	"github.com/joshp123/deyehome/internal/logging"
	"github.com/joshp123/deyehome/internal/plugins"
	"github.com/joshp123/deyehome/internal/rate"
	"github.com/joshp123/deyehome/internal/router"
	"github.com/joshp123/deyehome/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "login" {
		loginMain(os.Args[2:])
		return
	}

	flags := flag.NewFlagSet("deyehome", flag.ExitOnError)
	configPath := flags.String("config", envOrDefault("DEYEHOME_CONFIG", config.DefaultPath), "Path to config.yaml")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config", err)
	}
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("deyehome stopped")
	}
}

// hub is the wired host: plugins, entities and config entries.
type hub struct {
	plugins  []core.Plugin
	entities *entity.Registry
	entries  *entry.Manager
}

func newHub(cfg *config.Config, logger *logrus.Logger) (*hub, error) {
	compiled := plugins.Compiled(cfg, logger)
	if err := core.ValidatePlugins(compiled); err != nil {
		return nil, err
	}
	enabled := config.EnabledPlugins(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, cfg.Plugins.EnableAll); err != nil {
		return nil, err
	}
	active := core.FilterPlugins(compiled, enabled, cfg.Plugins.EnableAll)

	var blob entry.BlobStore
	if cfg.Storage.BlobEnabled() {
		s3, err := entry.NewS3Store(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("entries blob: %w", err)
		}
		blob = s3
	}
	store := entry.NewStore(cfg.Storage.EntriesFile, blob, logging.Component(logger, "store"))

	entities := entity.NewRegistry(logging.Component(logger, "entity"))
	entries := entry.NewManager(store, entities, entry.Options{Logger: logging.Component(logger, "entries")})
	router.RegisterHandlers(entries, active)
	return &hub{plugins: active, entities: entities, entries: entries}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	log := logging.Component(logger, "main")

	h, err := newHub(cfg, logger)
	if err != nil {
		return err
	}
	if err := h.entries.Load(ctx); err != nil {
		return fmt.Errorf("load entries: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logging.Component(logger, "grpc"))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	router.RegisterPlugins(grpcServer.Server, h.plugins, h.entities, h.entries)

	metricsRegistry := core.MetricsRegistry(h.plugins, coordinator.MetricsCollectors(), rate.MetricsCollectors())
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "deyehome_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "deyehome_entities",
		Help: "Registered entities",
	}, func() float64 { return float64(len(h.entities.List())) }))

	dashboards := core.DashboardsMap(h.plugins)
	if cfg.Core.DashboardDir != "" {
		if err := core.WriteDashboards(cfg.Core.DashboardDir, h.plugins); err != nil {
			log.WithError(err).Warn("write dashboards failed")
		}
	}
	mux := server.Mux(server.MetricsHandler(metricsRegistry, logging.Component(logger, "metrics")), dashboards, server.EntitiesHandler(h.entities))
	for _, p := range h.plugins {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(mux)
		}
	}
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, mux)

	var bridge *hass.Bridge
	var broker *hass.MQTTBroker
	if cfg.Hass != nil {
		broker, bridge, err = startBridge(ctx, cfg.Hass, h.entities, logger)
		if err != nil {
			return err
		}
	}

	seedAccounts(ctx, cfg, h.entries, log)
	h.entries.SetupAll(ctx)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithField("addr", cfg.Core.GRPCAddr).Info("grpc listening")
		return grpcServer.Serve()
	})
	group.Go(func() error {
		log.WithField("addr", cfg.Core.HTTPAddr).Info("http listening")
		return httpServer.ListenAndServe()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if bridge != nil {
			bridge.Stop()
			broker.Close()
		}
		if err := h.entries.Close(shutdownCtx); err != nil {
			log.WithError(err).Warn("unload entries")
		}
		grpcServer.Server.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func startBridge(ctx context.Context, cfg *config.HassConfig, entities *entity.Registry, logger *logrus.Logger) (*hass.MQTTBroker, *hass.Bridge, error) {
	password := ""
	if cfg.PasswordFile != "" {
		secret, err := config.ReadSecretFile(cfg.PasswordFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read hass password: %w", err)
		}
		password = secret
	}
	log := logging.Component(logger, "hass")
	broker, err := hass.Dial(*cfg, password, hass.BridgeAvailabilityTopic(cfg.BaseTopic), log)
	if err != nil {
		return nil, nil, err
	}
	bridge := hass.New(broker, entities, hass.Options{
		DiscoveryPrefix: cfg.DiscoveryPrefix,
		BaseTopic:       cfg.BaseTopic,
		NodeID:          cfg.NodeID,
		Logger:          log,
	})
	if err := bridge.Start(ctx); err != nil {
		broker.Close()
		return nil, nil, err
	}
	return broker, bridge, nil
}

// seedAccounts creates entries for configured accounts that have none yet.
func seedAccounts(ctx context.Context, cfg *config.Config, entries *entry.Manager, log *logrus.Entry) {
	if cfg.Deye == nil {
		return
	}
	known := make(map[string]bool)
	for _, e := range entries.List() {
		if e.Domain == "deye" {
			known[strings.ToLower(e.Data[entry.DataUsername])] = true
		}
	}
	for _, account := range cfg.Deye.Accounts {
		if known[strings.ToLower(account.Username)] {
			continue
		}
		password, err := config.ReadSecretFile(account.PasswordFile)
		if err != nil {
			log.WithError(err).WithField("username", account.Username).Error("read account password")
			continue
		}
		outcome, err := entries.Create(ctx, "deye", map[string]string{
			entry.DataUsername: account.Username,
			entry.DataPassword: password,
		})
		if err != nil {
			log.WithError(err).WithField("username", account.Username).Error("seed account")
			continue
		}
		log.WithFields(logrus.Fields{"username": account.Username, "outcome": outcome.Type}).Info("account seeded")
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
