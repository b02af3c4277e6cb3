package deye

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultPayload(t *testing.T) {
	state := DefaultState()
	require.False(t, state.PowerSwitch)
	require.Equal(t, 20, state.EnvironmentTemperature)
	require.Equal(t, 60, state.EnvironmentHumidity)
	require.Equal(t, 60, state.TargetHumidity)
	require.Equal(t, ModeManual, state.Mode)
	require.Equal(t, FanStopped, state.FanSpeed)
}

func TestParseBytesDecodesEveryField(t *testing.T) {
	raw := make([]byte, 22)
	raw[2] = 0x3D
	raw[3] = 0x6D
	raw[4] = 0x03
	raw[5] = 35 + 22
	raw[15] = 45
	raw[16] = 72

	state, err := ParseHex(hex.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, DeviceState{
		PowerSwitch:            true,
		ChildLockSwitch:        true,
		OscillatingSwitch:      true,
		WaterPumpSwitch:        true,
		AnionSwitch:            true,
		FanRunning:             true,
		Mode:                   ModeSleep,
		FanSpeed:               FanHigh,
		TargetHumidity:         45,
		EnvironmentHumidity:    72,
		EnvironmentTemperature: 22,
		WaterTankFull:          true,
		Defrosting:             true,
	}, state)

	require.Equal(t, []byte{0x08, 0x02, 0x3D, 0x6C, 45, 0, 0, 0, 0, 0}, state.Command().Bytes())
}

func TestParseRejectsBadPayloads(t *testing.T) {
	_, err := ParseHex("zz")
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseBytes(make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestCommandProperties(t *testing.T) {
	state := DefaultState()
	state.PowerSwitch = true
	state.Mode = ModeClothesDryer
	state.FanSpeed = FanMiddle
	state.TargetHumidity = 120

	props := state.Command().Properties()
	require.Equal(t, 1, props["Power"])
	require.Equal(t, 0, props["ChildLock"])
	require.Equal(t, int(ModeClothesDryer), props["Mode"])
	require.Equal(t, int(FanMiddle), props["WindSpeed"])
	require.Equal(t, 100, props["SetHumidity"])
}

func TestParseProperties(t *testing.T) {
	state, err := ParseProperties(map[string]any{
		"Power":              float64(1),
		"Mode":               "3",
		"WindSpeed":          float64(4),
		"SetHumidity":        float64(40),
		"CurrentHumidity":    float64(58),
		"CurrentTemperature": float64(17),
		"Defrost":            true,
	})
	require.NoError(t, err)
	require.True(t, state.PowerSwitch)
	require.Equal(t, ModeAuto, state.Mode)
	require.Equal(t, FanFull, state.FanSpeed)
	require.Equal(t, 40, state.TargetHumidity)
	require.Equal(t, 58, state.EnvironmentHumidity)
	require.Equal(t, 17, state.EnvironmentTemperature)
	require.True(t, state.Defrosting)
	require.False(t, state.WaterTankFull)

	_, err = ParseProperties(map[string]any{"Power": []any{1}})
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDeviceInitialState(t *testing.T) {
	d := Device{Payload: []byte(`"1411010000390000000000000000002D480000000000"`)}
	state := d.InitialState()
	require.True(t, state.PowerSwitch)
	require.Equal(t, 22, state.EnvironmentTemperature)
	require.Equal(t, 45, state.TargetHumidity)

	for _, payload := range []string{``, `null`, `{"foo":1}`, `"nothex"`} {
		d := Device{Payload: []byte(payload)}
		require.Equal(t, DefaultState(), d.InitialState(), payload)
	}
}

func TestModeNames(t *testing.T) {
	for _, name := range []string{"manual", "clothes_dryer", "air_purifier", "auto", "sleep"} {
		mode, err := ParseMode(name)
		require.NoError(t, err)
		require.Equal(t, name, mode.String())
	}
	_, err := ParseMode("turbo")
	require.Error(t, err)
	require.Equal(t, "manual", Mode(5).String())
}
