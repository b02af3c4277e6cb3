package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalConfig = `
schema_version: 1
deye:
  accounts:
    - username: alice@example.com
      password_file: /run/secrets/deye
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Core.GRPCAddr != DefaultGRPCAddr || cfg.Core.HTTPAddr != DefaultHTTPAddr {
		t.Fatalf("unexpected core addrs: %+v", cfg.Core)
	}
	if cfg.Storage.EntriesFile != DefaultEntriesFile {
		t.Fatalf("unexpected entries file: %s", cfg.Storage.EntriesFile)
	}
	if cfg.Deye == nil {
		t.Fatalf("expected deye section")
	}
	if cfg.Deye.PollIntervalSeconds != DefaultPollIntervalSeconds {
		t.Fatalf("unexpected poll interval: %d", cfg.Deye.PollIntervalSeconds)
	}
	if cfg.Deye.MuteSeconds == nil || *cfg.Deye.MuteSeconds != DefaultMuteSeconds {
		t.Fatalf("unexpected mute seconds: %v", cfg.Deye.MuteSeconds)
	}
	if cfg.Deye.BaseURL != DefaultDeyeBaseURL {
		t.Fatalf("unexpected base url: %s", cfg.Deye.BaseURL)
	}
	if cfg.Hass != nil {
		t.Fatalf("hass should stay disabled")
	}
}

func TestParseKeepsExplicitZeroMute(t *testing.T) {
	cfg, err := Parse([]byte("schema_version: 1\ndeye:\n  mute_seconds: 0\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *cfg.Deye.MuteSeconds != 0 {
		t.Fatalf("expected mute disabled, got %d", *cfg.Deye.MuteSeconds)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"schema":   "schema_version: 2\n",
		"format":   "schema_version: 1\nlogging:\n  format: xml\n",
		"hass":     "schema_version: 1\nhass:\n  node_id: x\n",
		"blob":     "schema_version: 1\nstorage:\n  blob_endpoint: http://minio:9000\n",
		"account":  "schema_version: 1\ndeye:\n  accounts:\n    - username: bob\n",
		"products": "schema_version: 1\ndeye:\n  products:\n    abc:\n      min_target_humidity: 80\n      max_target_humidity: 30\n",
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestHassDefaults(t *testing.T) {
	cfg, err := Parse([]byte("schema_version: 1\nhass:\n  broker: tcp://mqtt:1883\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Hass.DiscoveryPrefix != "homeassistant" || cfg.Hass.BaseTopic != "deyehome" || cfg.Hass.NodeID != "deyehome" {
		t.Fatalf("unexpected hass defaults: %+v", cfg.Hass)
	}
}

func TestEnvOverridesAddr(t *testing.T) {
	t.Setenv("DEYEHOME_GRPC_ADDR", "127.0.0.1:9999")
	cfg, err := Parse([]byte("schema_version: 1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Core.GRPCAddr != "127.0.0.1:9999" {
		t.Fatalf("env override ignored: %s", cfg.Core.GRPCAddr)
	}
}

func TestEnabledPlugins(t *testing.T) {
	cfg, err := Parse([]byte(minimalConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	enabled := EnabledPlugins(cfg)
	if !enabled["deye"] {
		t.Fatalf("expected deye enabled")
	}
}

func TestLoadAndReadSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalConfig), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	secretPath := filepath.Join(dir, "secret")
	if err := os.WriteFile(secretPath, []byte("  hunter2\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	secret, err := ReadSecretFile(secretPath)
	if err != nil {
		t.Fatalf("ReadSecretFile: %v", err)
	}
	if secret != "hunter2" {
		t.Fatalf("unexpected secret %q", secret)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read error, got %v", err)
	}
}
