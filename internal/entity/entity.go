// Package entity defines the platform-native entity model exposed by the hub:
// typed platform interfaces, state rendering, a registry keyed by entity id and
// service dispatch for commands.
package entity

import (
	"context"
	"strings"
)

// Platform is the entity domain, matching Home Assistant platform names.
type Platform string

const (
	Humidifier   Platform = "humidifier"
	Climate      Platform = "climate"
	Fan          Platform = "fan"
	Switch       Platform = "switch"
	BinarySensor Platform = "binary_sensor"
	Sensor       Platform = "sensor"
)

// Category marks configuration and diagnostic entities.
type Category string

const (
	CategoryNone       Category = ""
	CategoryConfig     Category = "config"
	CategoryDiagnostic Category = "diagnostic"
)

// DeviceInfo groups entities under one physical device.
type DeviceInfo struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SWVersion    string `json:"sw_version,omitempty"`
}

// Description is the static part of an entity.
type Description struct {
	Key         string
	Name        string
	Category    Category
	DeviceClass string
	Unit        string
	StateClass  string
	Icon        string
}

// Entity is implemented by every platform entity.
type Entity interface {
	UniqueID() string
	EntityID() string
	Platform() Platform
	Name() string
	Description() Description
	Device() DeviceInfo
	Available() bool
	// Subscribe registers fn to run whenever the entity state may have
	// changed.
	Subscribe(fn func()) (remove func())
}

type HumidifierEntity interface {
	Entity
	IsOn() bool
	TargetHumidity() int
	CurrentHumidity() int
	MinHumidity() int
	MaxHumidity() int
	Mode() string
	AvailableModes() []string
	Action() string
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	SetHumidity(ctx context.Context, humidity int) error
	SetMode(ctx context.Context, mode string) error
}

type ClimateEntity interface {
	Entity
	HVACMode() string
	HVACModes() []string
	HVACAction() string
	PresetMode() string
	PresetModes() []string
	FanMode() string
	FanModes() []string
	SwingMode() string
	SwingModes() []string
	CurrentTemperature() int
	CurrentHumidity() int
	TargetHumidity() int
	MinHumidity() int
	MaxHumidity() int
	SetHVACMode(ctx context.Context, mode string) error
	SetPresetMode(ctx context.Context, preset string) error
	SetFanMode(ctx context.Context, mode string) error
	SetSwingMode(ctx context.Context, mode string) error
	SetHumidity(ctx context.Context, humidity int) error
}

type FanEntity interface {
	Entity
	IsOn() bool
	Percentage() int
	SpeedCount() int
	SupportsOscillation() bool
	Oscillating() bool
	// TurnOn starts the fan; percentage is optional.
	TurnOn(ctx context.Context, percentage *int) error
	TurnOff(ctx context.Context) error
	SetPercentage(ctx context.Context, percentage int) error
	Oscillate(ctx context.Context, on bool) error
}

type SwitchEntity interface {
	Entity
	IsOn() bool
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

type BinarySensorEntity interface {
	Entity
	IsOn() bool
}

type SensorEntity interface {
	Entity
	NativeValue() any
}

// Base carries the static identity of an entity. Plugins embed it.
type Base struct {
	uniqueID string
	entityID string
	platform Platform
	desc     Description
	device   DeviceInfo
}

// NewBase builds an entity identity. objectID becomes the part after the
// platform in the entity id.
func NewBase(platform Platform, uniqueID, objectID string, desc Description, device DeviceInfo) Base {
	return Base{
		uniqueID: uniqueID,
		entityID: ID(platform, objectID),
		platform: platform,
		desc:     desc,
		device:   device,
	}
}

func (b Base) UniqueID() string         { return b.uniqueID }
func (b Base) EntityID() string         { return b.entityID }
func (b Base) Platform() Platform       { return b.platform }
func (b Base) Description() Description { return b.desc }
func (b Base) Device() DeviceInfo       { return b.device }

// Name is the device name followed by the entity name, if any.
func (b Base) Name() string {
	if b.desc.Name == "" {
		return b.device.Name
	}
	if b.device.Name == "" {
		return b.desc.Name
	}
	return b.device.Name + " " + b.desc.Name
}

// ID formats "<platform>.<slug>".
func ID(platform Platform, objectID string) string {
	return string(platform) + "." + Slug(objectID)
}

// ObjectID strips the platform prefix from an entity id.
func ObjectID(entityID string) string {
	if _, after, ok := strings.Cut(entityID, "."); ok {
		return after
	}
	return entityID
}

// Slug lowercases and replaces anything outside [a-z0-9] with '_'.
func Slug(value string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
