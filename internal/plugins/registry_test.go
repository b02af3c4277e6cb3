package plugins

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshp123/deyehome/internal/config"
	"github.com/joshp123/deyehome/internal/core"
	"github.com/joshp123/deyehome/internal/logging"
)

func TestCompiledBuildsConfiguredPlugins(t *testing.T) {
	logger := logging.Discard()
	require.Nil(t, Compiled(nil, logger))
	require.Empty(t, Compiled(&config.Config{}, logger))

	cfg := &config.Config{Deye: &config.DeyeConfig{BaseURL: config.DefaultDeyeBaseURL, PollIntervalSeconds: 5}}
	got := Compiled(cfg, logger)
	require.Len(t, got, 1)
	require.Equal(t, "deye", got[0].ID())
	require.Equal(t, core.HealthHealthy, got[0].Health())

	entryPlugin, ok := got[0].(core.EntryPlugin)
	require.True(t, ok)
	require.Equal(t, "deye", entryPlugin.EntryHandler().Domain())
}

func TestCompiledReportsBadConfig(t *testing.T) {
	cfg := &config.Config{Deye: &config.DeyeConfig{PollIntervalSeconds: 5}}
	got := Compiled(cfg, logging.Discard())
	require.Len(t, got, 1)
	require.Equal(t, core.HealthError, got[0].Health())
	require.Contains(t, got[0].HealthMessage(), "base_url")
	require.Nil(t, got[0].(core.EntryPlugin).EntryHandler())
}
