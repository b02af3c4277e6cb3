package deye

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshp123/deyehome/internal/config"
)

func TestCatalogLookup(t *testing.T) {
	c, err := LoadCatalog(nil)
	require.NoError(t, err)

	w20 := c.Lookup("unknown-id", "DYD-W20A3")
	require.True(t, w20.HasFan())
	require.True(t, w20.WaterPump)
	require.Equal(t, []FanSpeed{FanLow, FanMiddle, FanHigh, FanFull}, w20.FanSpeeds)
	require.True(t, w20.supportsMode(ModeAuto))

	fallback := c.Lookup("unknown-id", "unknown-name")
	require.False(t, fallback.HasFan())
	require.Equal(t, 25, fallback.MinTargetHumidity)
	require.Equal(t, 80, fallback.MaxTargetHumidity)
}

func TestCatalogOverrides(t *testing.T) {
	c, err := LoadCatalog(map[string]config.ProductConfig{
		"p-123": {Modes: []string{"manual", "sleep"}, FanSpeeds: []string{"low", "high"}, Anion: true, MaxTargetHumidity: 70},
	})
	require.NoError(t, err)

	f := c.Lookup("p-123", "DYD-612")
	require.Equal(t, []Mode{ModeManual, ModeSleep}, f.Modes)
	require.Equal(t, []FanSpeed{FanLow, FanHigh}, f.FanSpeeds)
	require.True(t, f.Anion)
	require.Equal(t, 25, f.MinTargetHumidity)
	require.Equal(t, 70, f.MaxTargetHumidity)

	_, err = LoadCatalog(map[string]config.ProductConfig{"bad": {Modes: []string{"turbo"}}})
	require.Error(t, err)
	_, err = LoadCatalog(map[string]config.ProductConfig{"bad": {FanSpeeds: []string{"warp"}}})
	require.Error(t, err)
}
