package deye

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPayload is the state assumed for devices that report no usable
// payload: powered off, 20°C, 60%RH, target 60%.
const DefaultPayload = "1411000000370000000000000000003C3C0000000000"

// ErrInvalidPayload is returned for state payloads that cannot be decoded.
var ErrInvalidPayload = errors.New("invalid device state payload")

// QueryStateCommand asks a classic device to publish its state.
var QueryStateCommand = []byte{0x00, 0x01}

// Mode is the device operating mode as encoded on the wire.
type Mode int

const (
	ModeManual       Mode = 0
	ModeClothesDryer Mode = 1
	ModeAirPurifier  Mode = 2
	ModeAuto         Mode = 3
	ModeSleep        Mode = 6
)

var modeNames = map[Mode]string{
	ModeManual:       "manual",
	ModeClothesDryer: "clothes_dryer",
	ModeAirPurifier:  "air_purifier",
	ModeAuto:         "auto",
	ModeSleep:        "sleep",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "manual"
}

func ParseMode(s string) (Mode, error) {
	for mode, name := range modeNames {
		if name == s {
			return mode, nil
		}
	}
	return ModeManual, fmt.Errorf("unknown mode %q", s)
}

func (m *Mode) UnmarshalYAML(node *yaml.Node) error {
	mode, err := ParseMode(node.Value)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// FanSpeed is the fan level as encoded on the wire.
type FanSpeed int

const (
	FanStopped FanSpeed = 0
	FanLow     FanSpeed = 1
	FanMiddle  FanSpeed = 2
	FanHigh    FanSpeed = 3
	FanFull    FanSpeed = 4
)

var fanSpeedNames = map[FanSpeed]string{
	FanStopped: "stopped",
	FanLow:     "low",
	FanMiddle:  "middle",
	FanHigh:    "high",
	FanFull:    "full",
}

func (f FanSpeed) String() string {
	if name, ok := fanSpeedNames[f]; ok {
		return name
	}
	return "stopped"
}

func ParseFanSpeed(s string) (FanSpeed, error) {
	for speed, name := range fanSpeedNames {
		if name == s {
			return speed, nil
		}
	}
	return FanStopped, fmt.Errorf("unknown fan speed %q", s)
}

func (f *FanSpeed) UnmarshalYAML(node *yaml.Node) error {
	speed, err := ParseFanSpeed(node.Value)
	if err != nil {
		return err
	}
	*f = speed
	return nil
}

// DeviceState is the decoded state of one dehumidifier. It is a plain value;
// copies are independent.
type DeviceState struct {
	PowerSwitch            bool     `json:"power_switch"`
	ChildLockSwitch        bool     `json:"child_lock_switch"`
	OscillatingSwitch      bool     `json:"oscillating_switch"`
	WaterPumpSwitch        bool     `json:"water_pump_switch"`
	AnionSwitch            bool     `json:"anion_switch"`
	FanRunning             bool     `json:"fan_running"`
	Mode                   Mode     `json:"mode"`
	FanSpeed               FanSpeed `json:"fan_speed"`
	TargetHumidity         int      `json:"target_humidity"`
	EnvironmentHumidity    int      `json:"environment_humidity"`
	EnvironmentTemperature int      `json:"environment_temperature"`
	WaterTankFull          bool     `json:"water_tank_full"`
	Defrosting             bool     `json:"defrosting"`
}

// Classic payload layout.
const (
	byteSwitches    = 2
	byteModeFan     = 3
	byteFaults      = 4
	byteTemperature = 5
	byteTarget      = 15
	byteHumidity    = 16
	minPayloadLen   = 17

	bitPower     = 1 << 0
	bitChildLock = 1 << 2
	bitOscillate = 1 << 3
	bitWaterPump = 1 << 4
	bitAnion     = 1 << 5

	bitFanRunning = 1 << 0
	bitTankFull   = 1 << 0
	bitDefrost    = 1 << 1

	temperatureOffset = 35
)

// ParseHex decodes a classic hex state payload.
func ParseHex(payload string) (DeviceState, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return DeviceState{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return ParseBytes(raw)
}

// ParseBytes decodes a classic binary state payload.
func ParseBytes(raw []byte) (DeviceState, error) {
	if len(raw) < minPayloadLen {
		return DeviceState{}, fmt.Errorf("%w: %d bytes", ErrInvalidPayload, len(raw))
	}
	switches := raw[byteSwitches]
	modeFan := raw[byteModeFan]
	faults := raw[byteFaults]
	return DeviceState{
		PowerSwitch:            switches&bitPower != 0,
		ChildLockSwitch:        switches&bitChildLock != 0,
		OscillatingSwitch:      switches&bitOscillate != 0,
		WaterPumpSwitch:        switches&bitWaterPump != 0,
		AnionSwitch:            switches&bitAnion != 0,
		FanRunning:             modeFan&bitFanRunning != 0,
		Mode:                   Mode((modeFan >> 1) & 0x07),
		FanSpeed:               FanSpeed((modeFan >> 5) & 0x07),
		TargetHumidity:         int(raw[byteTarget]),
		EnvironmentHumidity:    int(raw[byteHumidity]),
		EnvironmentTemperature: int(raw[byteTemperature]) - temperatureOffset,
		WaterTankFull:          faults&bitTankFull != 0,
		Defrosting:             faults&bitDefrost != 0,
	}, nil
}

// DefaultState decodes DefaultPayload.
func DefaultState() DeviceState {
	state, err := ParseHex(DefaultPayload)
	if err != nil {
		panic(err)
	}
	return state
}

// Command is the writable subset of a DeviceState.
type Command struct {
	PowerSwitch       bool
	ChildLockSwitch   bool
	OscillatingSwitch bool
	WaterPumpSwitch   bool
	AnionSwitch       bool
	Mode              Mode
	FanSpeed          FanSpeed
	TargetHumidity    int
}

// Command builds a command that sets the device to this state.
func (s DeviceState) Command() Command {
	return Command{
		PowerSwitch:       s.PowerSwitch,
		ChildLockSwitch:   s.ChildLockSwitch,
		OscillatingSwitch: s.OscillatingSwitch,
		WaterPumpSwitch:   s.WaterPumpSwitch,
		AnionSwitch:       s.AnionSwitch,
		Mode:              s.Mode,
		FanSpeed:          s.FanSpeed,
		TargetHumidity:    s.TargetHumidity,
	}
}

// Bytes encodes the command for classic devices.
func (c Command) Bytes() []byte {
	var switches byte
	if c.PowerSwitch {
		switches |= bitPower
	}
	if c.ChildLockSwitch {
		switches |= bitChildLock
	}
	if c.OscillatingSwitch {
		switches |= bitOscillate
	}
	if c.WaterPumpSwitch {
		switches |= bitWaterPump
	}
	if c.AnionSwitch {
		switches |= bitAnion
	}
	modeFan := byte(c.FanSpeed&0x07)<<5 | byte(c.Mode&0x07)<<1
	return []byte{0x08, 0x02, switches, modeFan, byte(clamp(c.TargetHumidity, 0, 100)), 0, 0, 0, 0, 0}
}

// Fog platform property names.
const (
	propPower       = "Power"
	propChildLock   = "ChildLock"
	propSwing       = "Swing"
	propAnion       = "NegativeIon"
	propWaterPump   = "WaterPump"
	propMode        = "Mode"
	propWindSpeed   = "WindSpeed"
	propSetHumidity = "SetHumidity"
	propHumidity    = "CurrentHumidity"
	propTemperature = "CurrentTemperature"
	propFanRunning  = "FanRunning"
	propTankFull    = "WaterTankFull"
	propDefrost     = "Defrost"
)

// Properties encodes the command for fog platform devices.
func (c Command) Properties() map[string]any {
	return map[string]any{
		propPower:       boolInt(c.PowerSwitch),
		propChildLock:   boolInt(c.ChildLockSwitch),
		propSwing:       boolInt(c.OscillatingSwitch),
		propAnion:       boolInt(c.AnionSwitch),
		propWaterPump:   boolInt(c.WaterPumpSwitch),
		propMode:        int(c.Mode),
		propWindSpeed:   int(c.FanSpeed),
		propSetHumidity: clamp(c.TargetHumidity, 0, 100),
	}
}

// ParseProperties decodes fog platform device properties. Missing properties
// keep their DefaultPayload values.
func ParseProperties(props map[string]any) (DeviceState, error) {
	state := DefaultState()
	var errs []error
	read := func(key string, set func(int)) {
		raw, ok := props[key]
		if !ok {
			return
		}
		v, err := propertyInt(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		set(v)
	}
	read(propPower, func(v int) { state.PowerSwitch = v != 0 })
	read(propChildLock, func(v int) { state.ChildLockSwitch = v != 0 })
	read(propSwing, func(v int) { state.OscillatingSwitch = v != 0 })
	read(propAnion, func(v int) { state.AnionSwitch = v != 0 })
	read(propWaterPump, func(v int) { state.WaterPumpSwitch = v != 0 })
	read(propMode, func(v int) { state.Mode = Mode(v) })
	read(propWindSpeed, func(v int) { state.FanSpeed = FanSpeed(v) })
	read(propSetHumidity, func(v int) { state.TargetHumidity = v })
	read(propHumidity, func(v int) { state.EnvironmentHumidity = v })
	read(propTemperature, func(v int) { state.EnvironmentTemperature = v })
	read(propFanRunning, func(v int) { state.FanRunning = v != 0 })
	read(propTankFull, func(v int) { state.WaterTankFull = v != 0 })
	read(propDefrost, func(v int) { state.Defrosting = v != 0 })
	if len(errs) > 0 {
		return DeviceState{}, fmt.Errorf("%w: %w", ErrInvalidPayload, errors.Join(errs...))
	}
	return state, nil
}

func propertyInt(raw any) (int, error) {
	switch v := raw.(type) {
	case bool:
		return boolInt(v), nil
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	default:
		return 0, fmt.Errorf("unexpected type %T", raw)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
