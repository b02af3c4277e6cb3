package deye

import (
	"context"
	"fmt"
	"strings"

	"github.com/joshp123/deyehome/internal/entity"
)

const manufacturer = "Deye"

// deviceEntity is embedded by every entity of one device. It holds no
// device state of its own; every read goes to the account snapshot.
type deviceEntity struct {
	entity.Base
	account  *Account
	deviceID string
}

func newDeviceEntity(a *Account, d Device, platform entity.Platform, desc entity.Description) deviceEntity {
	mac := d.MAC
	if mac == "" {
		mac = d.DeviceID
	}
	uniqueID := mac + "-" + strings.ReplaceAll(desc.Key, "_", "-")
	objectID := "deye_" + strings.ToLower(mac) + "_" + desc.Key
	device := entity.DeviceInfo{
		Identifier:   d.DeviceID,
		Name:         d.DeviceName,
		Manufacturer: manufacturer,
		Model:        d.ProductName,
	}
	return deviceEntity{
		Base:     entity.NewBase(platform, uniqueID, objectID, desc, device),
		account:  a,
		deviceID: d.DeviceID,
	}
}

func (e *deviceEntity) status() DeviceStatus {
	status, _ := e.account.Status(e.deviceID)
	return status
}

func (e *deviceEntity) state() DeviceState {
	return e.status().State
}

func (e *deviceEntity) features() Features {
	return e.account.features[e.deviceID]
}

// Available is false while the account's last fetch failed or the device is
// offline.
func (e *deviceEntity) Available() bool {
	status, ok := e.account.Status(e.deviceID)
	return ok && e.account.Healthy() && status.Available()
}

func (e *deviceEntity) Subscribe(fn func()) func() {
	return e.account.coordinator.AddListener(fn)
}

func (e *deviceEntity) send(ctx context.Context, mutate func(*DeviceState)) error {
	return e.account.SendCommand(ctx, e.deviceID, mutate)
}

func (e *deviceEntity) checkHumidity(humidity int) error {
	f := e.features()
	if humidity < f.MinTargetHumidity || humidity > f.MaxTargetHumidity {
		return fmt.Errorf("%w: humidity %d outside %d-%d", entity.ErrInvalidData, humidity, f.MinTargetHumidity, f.MaxTargetHumidity)
	}
	return nil
}

func buildEntities(a *Account) []entity.Entity {
	var out []entity.Entity
	for _, d := range a.devices {
		f := a.features[d.DeviceID]
		out = append(out, newHumidifier(a, d))
		if f.HasFan() {
			out = append(out, newClimate(a, d), newFan(a, d))
		}
		out = append(out, newSwitches(a, d, f)...)
		out = append(out, newBinarySensors(a, d)...)
		out = append(out, newSensors(a, d)...)
	}
	return out
}

func actionFor(s DeviceState) string {
	switch {
	case !s.PowerSwitch:
		return "off"
	case s.FanRunning:
		return "drying"
	default:
		return "idle"
	}
}

type humidifier struct {
	deviceEntity
}

func newHumidifier(a *Account, d Device) *humidifier {
	return &humidifier{newDeviceEntity(a, d, entity.Humidifier, entity.Description{
		Key:         "dehumidifier",
		DeviceClass: "dehumidifier",
	})}
}

func (h *humidifier) IsOn() bool           { return h.state().PowerSwitch }
func (h *humidifier) TargetHumidity() int  { return h.state().TargetHumidity }
func (h *humidifier) CurrentHumidity() int { return h.state().EnvironmentHumidity }
func (h *humidifier) MinHumidity() int     { return h.features().MinTargetHumidity }
func (h *humidifier) MaxHumidity() int     { return h.features().MaxTargetHumidity }
func (h *humidifier) Mode() string         { return h.state().Mode.String() }
func (h *humidifier) Action() string       { return actionFor(h.state()) }

func (h *humidifier) AvailableModes() []string {
	modes := h.features().Modes
	if len(modes) == 0 {
		return []string{ModeManual.String()}
	}
	out := make([]string, len(modes))
	for i, m := range modes {
		out[i] = m.String()
	}
	return out
}

func (h *humidifier) TurnOn(ctx context.Context) error {
	return h.send(ctx, func(s *DeviceState) { s.PowerSwitch = true })
}

func (h *humidifier) TurnOff(ctx context.Context) error {
	return h.send(ctx, func(s *DeviceState) { s.PowerSwitch = false })
}

func (h *humidifier) SetHumidity(ctx context.Context, humidity int) error {
	if err := h.checkHumidity(humidity); err != nil {
		return err
	}
	return h.send(ctx, func(s *DeviceState) { s.TargetHumidity = humidity })
}

func (h *humidifier) SetMode(ctx context.Context, name string) error {
	mode, err := ParseMode(name)
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrInvalidData, err)
	}
	if mode != ModeManual && !h.features().supportsMode(mode) {
		return fmt.Errorf("%w: mode %s", entity.ErrUnsupported, name)
	}
	return h.send(ctx, func(s *DeviceState) { s.Mode = mode })
}

// Climate mode names.
const (
	hvacOff  = "off"
	hvacDry  = "dry"
	hvacAuto = "auto"

	presetNone    = "none"
	presetSleep   = "sleep"
	presetComfort = "comfort"
	presetBoost   = "boost"

	swingOn  = "on"
	swingOff = "off"
)

var presetForMode = map[Mode]string{
	ModeSleep:        presetSleep,
	ModeAirPurifier:  presetComfort,
	ModeClothesDryer: presetBoost,
}

var fanModeForSpeed = map[FanSpeed]string{
	FanStopped: "off",
	FanLow:     "low",
	FanMiddle:  "middle",
	FanHigh:    "high",
	FanFull:    "top",
}

type climate struct {
	deviceEntity
}

func newClimate(a *Account, d Device) *climate {
	return &climate{newDeviceEntity(a, d, entity.Climate, entity.Description{
		Key:  "climate",
		Name: "Climate",
	})}
}

func (c *climate) HVACModes() []string {
	modes := []string{hvacOff, hvacDry}
	if c.features().supportsMode(ModeAuto) {
		modes = append(modes, hvacAuto)
	}
	return modes
}

func (c *climate) HVACMode() string {
	s := c.state()
	switch {
	case !s.PowerSwitch:
		return hvacOff
	case s.Mode == ModeAuto:
		return hvacAuto
	default:
		return hvacDry
	}
}

func (c *climate) HVACAction() string {
	return actionFor(c.state())
}

func (c *climate) PresetModes() []string {
	presets := []string{presetNone}
	for _, m := range c.features().Modes {
		if p, ok := presetForMode[m]; ok {
			presets = append(presets, p)
		}
	}
	return presets
}

func (c *climate) PresetMode() string {
	if p, ok := presetForMode[c.state().Mode]; ok {
		return p
	}
	return presetNone
}

// FanModes lists "off" first: the device reports a stopped fan whenever
// it is idle, and the reported mode must be one of the listed ones.
func (c *climate) FanModes() []string {
	speeds := c.features().FanSpeeds
	if len(speeds) == 0 {
		return nil
	}
	out := []string{fanModeForSpeed[FanStopped]}
	for _, speed := range speeds {
		if speed != FanStopped {
			out = append(out, fanModeForSpeed[speed])
		}
	}
	return out
}

func (c *climate) FanMode() string {
	speed := c.state().FanSpeed
	speeds := c.features().FanSpeeds
	if speed == FanStopped || len(speeds) == 0 {
		return fanModeForSpeed[FanStopped]
	}
	for _, listed := range speeds {
		if listed == speed {
			return fanModeForSpeed[speed]
		}
	}
	// A speed the catalog does not list reads as the nearest slower one.
	nearest := speeds[0]
	for _, listed := range speeds {
		if listed <= speed && listed > nearest {
			nearest = listed
		}
	}
	return fanModeForSpeed[nearest]
}

func (c *climate) SwingModes() []string {
	if !c.features().Oscillating {
		return nil
	}
	return []string{swingOn, swingOff}
}

func (c *climate) SwingMode() string {
	if c.state().OscillatingSwitch {
		return swingOn
	}
	return swingOff
}

func (c *climate) CurrentTemperature() int { return c.state().EnvironmentTemperature }
func (c *climate) CurrentHumidity() int    { return c.state().EnvironmentHumidity }
func (c *climate) TargetHumidity() int     { return c.state().TargetHumidity }
func (c *climate) MinHumidity() int        { return c.features().MinTargetHumidity }
func (c *climate) MaxHumidity() int        { return c.features().MaxTargetHumidity }

// SetHVACMode powers the device for any mode but off. Leaving auto for dry
// drops back to manual.
func (c *climate) SetHVACMode(ctx context.Context, mode string) error {
	switch mode {
	case hvacOff:
		return c.send(ctx, func(s *DeviceState) { s.PowerSwitch = false })
	case hvacDry:
		return c.send(ctx, func(s *DeviceState) {
			s.PowerSwitch = true
			if s.Mode == ModeAuto {
				s.Mode = ModeManual
			}
		})
	case hvacAuto:
		if !c.features().supportsMode(ModeAuto) {
			return fmt.Errorf("%w: hvac mode %s", entity.ErrUnsupported, mode)
		}
		return c.send(ctx, func(s *DeviceState) {
			s.PowerSwitch = true
			s.Mode = ModeAuto
		})
	default:
		return fmt.Errorf("%w: unknown hvac mode %q", entity.ErrInvalidData, mode)
	}
}

func (c *climate) SetPresetMode(ctx context.Context, preset string) error {
	mode := ModeManual
	if preset != presetNone {
		found := false
		for m, p := range presetForMode {
			if p == preset {
				mode, found = m, true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: unknown preset %q", entity.ErrInvalidData, preset)
		}
		if !c.features().supportsMode(mode) {
			return fmt.Errorf("%w: preset %s", entity.ErrUnsupported, preset)
		}
	}
	return c.send(ctx, func(s *DeviceState) { s.Mode = mode })
}

// SetFanMode "off" powers the device down; the wire protocol has no way to
// stop only the fan.
func (c *climate) SetFanMode(ctx context.Context, name string) error {
	if name == fanModeForSpeed[FanStopped] {
		return c.send(ctx, func(s *DeviceState) { s.PowerSwitch = false })
	}
	for _, speed := range c.features().FanSpeeds {
		if fanModeForSpeed[speed] == name {
			return c.send(ctx, func(s *DeviceState) { s.FanSpeed = speed })
		}
	}
	return fmt.Errorf("%w: fan mode %q", entity.ErrInvalidData, name)
}

func (c *climate) SetSwingMode(ctx context.Context, mode string) error {
	if !c.features().Oscillating {
		return fmt.Errorf("%w: swing", entity.ErrUnsupported)
	}
	switch mode {
	case swingOn, swingOff:
		on := mode == swingOn
		return c.send(ctx, func(s *DeviceState) { s.OscillatingSwitch = on })
	default:
		return fmt.Errorf("%w: swing mode %q", entity.ErrInvalidData, mode)
	}
}

func (c *climate) SetHumidity(ctx context.Context, humidity int) error {
	if err := c.checkHumidity(humidity); err != nil {
		return err
	}
	return c.send(ctx, func(s *DeviceState) { s.TargetHumidity = humidity })
}

type fan struct {
	deviceEntity
}

func newFan(a *Account, d Device) *fan {
	return &fan{newDeviceEntity(a, d, entity.Fan, entity.Description{
		Key:  "fan",
		Name: "Fan",
	})}
}

func (f *fan) IsOn() bool                { return f.state().PowerSwitch }
func (f *fan) SpeedCount() int           { return len(f.features().FanSpeeds) }
func (f *fan) SupportsOscillation() bool { return f.features().Oscillating }
func (f *fan) Oscillating() bool         { return f.state().OscillatingSwitch }

// Percentage maps the speed onto its position in the product's ordered speed
// list.
func (f *fan) Percentage() int {
	speeds := f.features().FanSpeeds
	current := f.state().FanSpeed
	for i, speed := range speeds {
		if speed == current {
			return (i + 1) * 100 / len(speeds)
		}
	}
	return 0
}

func (f *fan) speedFor(percentage int) FanSpeed {
	speeds := f.features().FanSpeeds
	percentage = clamp(percentage, 1, 100)
	idx := (percentage*len(speeds)+99)/100 - 1
	return speeds[clamp(idx, 0, len(speeds)-1)]
}

func (f *fan) TurnOn(ctx context.Context, percentage *int) error {
	if percentage == nil {
		return f.send(ctx, func(s *DeviceState) { s.PowerSwitch = true })
	}
	if *percentage <= 0 {
		return f.TurnOff(ctx)
	}
	speed := f.speedFor(*percentage)
	return f.send(ctx, func(s *DeviceState) {
		s.PowerSwitch = true
		s.FanSpeed = speed
	})
}

func (f *fan) TurnOff(ctx context.Context) error {
	return f.send(ctx, func(s *DeviceState) { s.PowerSwitch = false })
}

func (f *fan) SetPercentage(ctx context.Context, percentage int) error {
	if percentage <= 0 {
		return f.TurnOff(ctx)
	}
	speed := f.speedFor(percentage)
	return f.send(ctx, func(s *DeviceState) { s.FanSpeed = speed })
}

func (f *fan) Oscillate(ctx context.Context, on bool) error {
	return f.send(ctx, func(s *DeviceState) { s.OscillatingSwitch = on })
}

// toggle is a config switch backed by one DeviceState field.
type toggle struct {
	deviceEntity
	get func(DeviceState) bool
	set func(*DeviceState, bool)
}

func newToggle(a *Account, d Device, key, name, icon string, get func(DeviceState) bool, set func(*DeviceState, bool)) *toggle {
	return &toggle{
		deviceEntity: newDeviceEntity(a, d, entity.Switch, entity.Description{
			Key:      key,
			Name:     name,
			Category: entity.CategoryConfig,
			Icon:     icon,
		}),
		get: get,
		set: set,
	}
}

func (t *toggle) IsOn() bool { return t.get(t.state()) }

func (t *toggle) TurnOn(ctx context.Context) error {
	return t.send(ctx, func(s *DeviceState) { t.set(s, true) })
}

func (t *toggle) TurnOff(ctx context.Context) error {
	return t.send(ctx, func(s *DeviceState) { t.set(s, false) })
}

// continuousHumidity is the target humidity used when continuous
// dehumidification is switched off.
const continuousHumidity = 50

// continuous runs the device without a humidity target by pinning the
// target at the product minimum. Only meaningful in manual mode.
type continuous struct {
	deviceEntity
}

func newContinuous(a *Account, d Device) *continuous {
	return &continuous{newDeviceEntity(a, d, entity.Switch, entity.Description{
		Key:      "continuous",
		Name:     "Continuous Dehumidification",
		Category: entity.CategoryConfig,
		Icon:     "mdi:water-plus",
	})}
}

func (c *continuous) Available() bool {
	return c.deviceEntity.Available() && c.state().Mode == ModeManual
}

func (c *continuous) IsOn() bool {
	return c.state().TargetHumidity <= c.features().MinTargetHumidity
}

func (c *continuous) TurnOn(ctx context.Context) error {
	target := c.features().MinTargetHumidity
	return c.send(ctx, func(s *DeviceState) { s.TargetHumidity = target })
}

func (c *continuous) TurnOff(ctx context.Context) error {
	return c.send(ctx, func(s *DeviceState) { s.TargetHumidity = continuousHumidity })
}

func newSwitches(a *Account, d Device, f Features) []entity.Entity {
	out := []entity.Entity{
		newToggle(a, d, "child_lock", "Child Lock", "mdi:account-lock",
			func(s DeviceState) bool { return s.ChildLockSwitch },
			func(s *DeviceState, on bool) { s.ChildLockSwitch = on }),
	}
	if f.Anion {
		out = append(out, newToggle(a, d, "anion", "Anion", "mdi:atom",
			func(s DeviceState) bool { return s.AnionSwitch },
			func(s *DeviceState, on bool) { s.AnionSwitch = on }))
	}
	if f.WaterPump {
		out = append(out, newToggle(a, d, "water_pump", "Water Pump", "mdi:water-pump",
			func(s DeviceState) bool { return s.WaterPumpSwitch },
			func(s *DeviceState, on bool) { s.WaterPumpSwitch = on }))
	}
	return append(out, newContinuous(a, d))
}

type binarySensor struct {
	deviceEntity
	get func(DeviceState) bool
}

func (b *binarySensor) IsOn() bool { return b.get(b.state()) }

func newBinarySensors(a *Account, d Device) []entity.Entity {
	return []entity.Entity{
		&binarySensor{
			deviceEntity: newDeviceEntity(a, d, entity.BinarySensor, entity.Description{
				Key:         "water_tank",
				Name:        "Water Tank",
				Category:    entity.CategoryDiagnostic,
				DeviceClass: "problem",
				Icon:        "mdi:cup-water",
			}),
			get: func(s DeviceState) bool { return s.WaterTankFull },
		},
		&binarySensor{
			deviceEntity: newDeviceEntity(a, d, entity.BinarySensor, entity.Description{
				Key:         "defrosting",
				Name:        "Defrosting",
				Category:    entity.CategoryDiagnostic,
				DeviceClass: "running",
				Icon:        "mdi:snowflake-melt",
			}),
			get: func(s DeviceState) bool { return s.Defrosting },
		},
	}
}

type sensor struct {
	deviceEntity
	get func(DeviceState) int
}

func (s *sensor) NativeValue() any { return s.get(s.state()) }

func newSensors(a *Account, d Device) []entity.Entity {
	return []entity.Entity{
		&sensor{
			deviceEntity: newDeviceEntity(a, d, entity.Sensor, entity.Description{
				Key:         "humidity",
				Name:        "Humidity",
				DeviceClass: "humidity",
				Unit:        "%",
				StateClass:  "measurement",
			}),
			get: func(s DeviceState) int { return s.EnvironmentHumidity },
		},
		&sensor{
			deviceEntity: newDeviceEntity(a, d, entity.Sensor, entity.Description{
				Key:         "temperature",
				Name:        "Temperature",
				DeviceClass: "temperature",
				Unit:        "°C",
				StateClass:  "measurement",
			}),
			get: func(s DeviceState) int { return s.EnvironmentTemperature },
		},
	}
}
