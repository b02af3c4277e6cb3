package deye

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joshp123/deyehome/internal/config"
)

// Config is the runtime configuration of the plugin.
type Config struct {
	BaseURL           string
	PollInterval      time.Duration
	RefreshCooldown   time.Duration
	Mute              time.Duration
	StateTimeout      time.Duration
	RequestsPerMinute int
	Products          map[string]config.ProductConfig
}

// ConfigFromYAML converts the deye section of config.yaml.
func ConfigFromYAML(cfg *config.DeyeConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("deye config is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return Config{}, fmt.Errorf("deye base_url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return Config{}, fmt.Errorf("deye base_url: %w", err)
	}
	if cfg.PollIntervalSeconds <= 0 {
		return Config{}, fmt.Errorf("deye poll_interval_seconds must be positive")
	}

	mute := config.DefaultMuteSeconds
	if cfg.MuteSeconds != nil {
		mute = *cfg.MuteSeconds
	}
	stateTimeout := cfg.StateTimeoutSeconds
	if stateTimeout <= 0 {
		stateTimeout = config.DefaultStateTimeoutSeconds
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = config.DefaultRequestsPerMinute
	}

	return Config{
		BaseURL:           baseURL,
		PollInterval:      time.Duration(cfg.PollIntervalSeconds) * time.Second,
		RefreshCooldown:   time.Duration(cfg.RefreshCooldownMS) * time.Millisecond,
		Mute:              time.Duration(mute) * time.Second,
		StateTimeout:      time.Duration(stateTimeout) * time.Second,
		RequestsPerMinute: rpm,
		Products:          cfg.Products,
	}, nil
}
