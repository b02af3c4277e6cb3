package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion              = 1
	DefaultPath                = "/etc/deyehome/config.yaml"
	DefaultGRPCAddr            = "0.0.0.0:9000"
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultDashboardDir        = "/var/lib/deyehome/dashboards"
	DefaultEntriesFile         = "/var/lib/deyehome/entries.json"
	DefaultBlobPrefix          = "deyehome/entries"
	DefaultDiscoveryPrefix     = "homeassistant"
	DefaultBaseTopic           = "deyehome"
	DefaultNodeID              = "deyehome"
	DefaultDeyeBaseURL         = "https://api.deye.com.cn/v3/enduser"
	DefaultPollIntervalSeconds = 5
	DefaultRefreshCooldownMS   = 1000
	DefaultMuteSeconds         = 10
	DefaultStateTimeoutSeconds = 10
	DefaultRequestsPerMinute   = 60
)

// Config is the root of config.yaml.
type Config struct {
	SchemaVersion int            `yaml:"schema_version"`
	Core          CoreConfig     `yaml:"core"`
	Logging       LoggingConfig  `yaml:"logging"`
	Storage       StorageConfig  `yaml:"storage"`
	Hass          *HassConfig    `yaml:"hass"`
	Deye          *DeyeConfig    `yaml:"deye"`
	Plugins       PluginsSection `yaml:"plugins"`
}

type CoreConfig struct {
	GRPCAddr     string `yaml:"grpc_addr"`
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig locates the config-entry store and its optional blob mirror.
type StorageConfig struct {
	EntriesFile       string `yaml:"entries_file"`
	BlobEndpoint      string `yaml:"blob_endpoint"`
	BlobBucket        string `yaml:"blob_bucket"`
	BlobPrefix        string `yaml:"blob_prefix"`
	BlobRegion        string `yaml:"blob_region"`
	BlobAccessKeyFile string `yaml:"blob_access_key_file"`
	BlobSecretKeyFile string `yaml:"blob_secret_key_file"`
	// BlobSSE asks the bucket to encrypt the mirror at rest (SSE-S3).
	BlobSSE bool `yaml:"blob_sse"`
}

// BlobEnabled reports whether any blob mirror setting is present.
func (s StorageConfig) BlobEnabled() bool {
	return s.BlobEndpoint != "" || s.BlobBucket != ""
}

// HassConfig enables the Home Assistant MQTT discovery bridge.
type HassConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	PasswordFile    string `yaml:"password_file"`
	ClientID        string `yaml:"client_id"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	BaseTopic       string `yaml:"base_topic"`
	NodeID          string `yaml:"node_id"`
}

// DeyeConfig configures the Deye dehumidifier plugin.
type DeyeConfig struct {
	BaseURL             string                   `yaml:"base_url"`
	PollIntervalSeconds int                      `yaml:"poll_interval_seconds"`
	RefreshCooldownMS   int                      `yaml:"refresh_cooldown_ms"`
	MuteSeconds         *int                     `yaml:"mute_seconds"`
	StateTimeoutSeconds int                      `yaml:"state_timeout_seconds"`
	RequestsPerMinute   int                      `yaml:"requests_per_minute"`
	Accounts            []DeyeAccount            `yaml:"accounts"`
	Products            map[string]ProductConfig `yaml:"products"`
}

// DeyeAccount seeds a config entry at startup when none exists for the user.
type DeyeAccount struct {
	Username     string `yaml:"username"`
	PasswordFile string `yaml:"password_file"`
}

// ProductConfig overrides the built-in feature catalog for one product id.
type ProductConfig struct {
	Modes             []string `yaml:"modes"`
	FanSpeeds         []string `yaml:"fan_speeds"`
	MinTargetHumidity int      `yaml:"min_target_humidity"`
	MaxTargetHumidity int      `yaml:"max_target_humidity"`
	Oscillating       bool     `yaml:"oscillating"`
	Anion             bool     `yaml:"anion"`
	WaterPump         bool     `yaml:"water_pump"`
}

// PluginsSection controls which compiled plugins are active.
type PluginsSection struct {
	EnableAll bool     `yaml:"enable_all"`
	Enabled   []string `yaml:"enabled"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Storage.EntriesFile == "" {
		cfg.Storage.EntriesFile = DefaultEntriesFile
	}
	if cfg.Storage.BlobPrefix == "" {
		cfg.Storage.BlobPrefix = DefaultBlobPrefix
	}

	if cfg.Hass != nil {
		if cfg.Hass.DiscoveryPrefix == "" {
			cfg.Hass.DiscoveryPrefix = DefaultDiscoveryPrefix
		}
		if cfg.Hass.BaseTopic == "" {
			cfg.Hass.BaseTopic = DefaultBaseTopic
		}
		if cfg.Hass.NodeID == "" {
			cfg.Hass.NodeID = DefaultNodeID
		}
	}

	if cfg.Deye != nil {
		if cfg.Deye.BaseURL == "" {
			cfg.Deye.BaseURL = DefaultDeyeBaseURL
		}
		if cfg.Deye.PollIntervalSeconds == 0 {
			cfg.Deye.PollIntervalSeconds = DefaultPollIntervalSeconds
		}
		if cfg.Deye.RefreshCooldownMS == 0 {
			cfg.Deye.RefreshCooldownMS = DefaultRefreshCooldownMS
		}
		if cfg.Deye.MuteSeconds == nil {
			mute := DefaultMuteSeconds
			cfg.Deye.MuteSeconds = &mute
		}
		if cfg.Deye.StateTimeoutSeconds == 0 {
			cfg.Deye.StateTimeoutSeconds = DefaultStateTimeoutSeconds
		}
		if cfg.Deye.RequestsPerMinute == 0 {
			cfg.Deye.RequestsPerMinute = DefaultRequestsPerMinute
		}
	}
}

func applyEnv(cfg *Config) {
	if value := os.Getenv("DEYEHOME_GRPC_ADDR"); value != "" {
		cfg.Core.GRPCAddr = value
	}
	if value := os.Getenv("DEYEHOME_HTTP_ADDR"); value != "" {
		cfg.Core.HTTPAddr = value
	}
	if value := os.Getenv("DEYEHOME_LOG_LEVEL"); value != "" {
		cfg.Logging.Level = value
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}
	if cfg.Storage.EntriesFile == "" {
		return fmt.Errorf("storage.entries_file is required")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}

	if cfg.Storage.BlobEnabled() {
		if cfg.Storage.BlobEndpoint == "" {
			return fmt.Errorf("storage.blob_endpoint is required")
		}
		if cfg.Storage.BlobBucket == "" {
			return fmt.Errorf("storage.blob_bucket is required")
		}
		if cfg.Storage.BlobAccessKeyFile == "" {
			return fmt.Errorf("storage.blob_access_key_file is required")
		}
		if cfg.Storage.BlobSecretKeyFile == "" {
			return fmt.Errorf("storage.blob_secret_key_file is required")
		}
	}

	if cfg.Hass != nil && cfg.Hass.Broker == "" {
		return fmt.Errorf("hass.broker is required")
	}

	if cfg.Deye != nil {
		if cfg.Deye.PollIntervalSeconds < 1 {
			return fmt.Errorf("deye.poll_interval_seconds must be positive")
		}
		if cfg.Deye.MuteSeconds != nil && *cfg.Deye.MuteSeconds < 0 {
			return fmt.Errorf("deye.mute_seconds must not be negative")
		}
		for i, account := range cfg.Deye.Accounts {
			if account.Username == "" {
				return fmt.Errorf("deye.accounts[%d].username is required", i)
			}
			if account.PasswordFile == "" {
				return fmt.Errorf("deye.accounts[%d].password_file is required", i)
			}
		}
		for id, product := range cfg.Deye.Products {
			if product.MinTargetHumidity > product.MaxTargetHumidity && product.MaxTargetHumidity != 0 {
				return fmt.Errorf("deye.products[%s]: min_target_humidity exceeds max_target_humidity", id)
			}
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	for _, id := range cfg.Plugins.Enabled {
		enabled[id] = true
	}
	if cfg.Deye != nil {
		enabled["deye"] = true
	}
	return enabled
}

// ReadSecretFile reads a trimmed secret from disk.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
