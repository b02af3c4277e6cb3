package entity

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Service names accepted by Call.
const (
	ServiceTurnOn        = "turn_on"
	ServiceTurnOff       = "turn_off"
	ServiceSetHumidity   = "set_humidity"
	ServiceSetMode       = "set_mode"
	ServiceSetHVACMode   = "set_hvac_mode"
	ServiceSetPresetMode = "set_preset_mode"
	ServiceSetFanMode    = "set_fan_mode"
	ServiceSetSwingMode  = "set_swing_mode"
	ServiceSetPercentage = "set_percentage"
	ServiceOscillate     = "oscillate"
)

// Services lists the services an entity accepts.
func Services(e Entity) []string {
	switch e.(type) {
	case HumidifierEntity:
		return []string{ServiceTurnOn, ServiceTurnOff, ServiceSetHumidity, ServiceSetMode}
	case ClimateEntity:
		return []string{ServiceTurnOn, ServiceTurnOff, ServiceSetHVACMode, ServiceSetPresetMode, ServiceSetFanMode, ServiceSetSwingMode, ServiceSetHumidity}
	case FanEntity:
		return []string{ServiceTurnOn, ServiceTurnOff, ServiceSetPercentage, ServiceOscillate}
	case SwitchEntity:
		return []string{ServiceTurnOn, ServiceTurnOff}
	default:
		return nil
	}
}

// Call runs a service on an entity. Command failures come back as
// *CommandError.
func (r *Registry) Call(ctx context.Context, entityID, service string, data map[string]any) error {
	e, ok := r.Get(entityID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, entityID)
	}
	if !e.Available() {
		return &CommandError{EntityID: entityID, Service: service, Err: fmt.Errorf("entity is unavailable")}
	}

	err := dispatch(ctx, e, service, data)
	if err == nil {
		r.log.WithFields(logrus.Fields{"entity_id": entityID, "service": service}).Debug("service called")
		return nil
	}
	return &CommandError{EntityID: entityID, Service: service, Err: err}
}

func dispatch(ctx context.Context, e Entity, service string, data map[string]any) error {
	switch v := e.(type) {
	case HumidifierEntity:
		switch service {
		case ServiceTurnOn:
			return v.TurnOn(ctx)
		case ServiceTurnOff:
			return v.TurnOff(ctx)
		case ServiceSetHumidity:
			humidity, err := intArg(data, "humidity")
			if err != nil {
				return err
			}
			return v.SetHumidity(ctx, humidity)
		case ServiceSetMode:
			mode, err := stringArg(data, "mode")
			if err != nil {
				return err
			}
			return v.SetMode(ctx, mode)
		}
	case ClimateEntity:
		switch service {
		case ServiceTurnOn:
			return v.SetHVACMode(ctx, "dry")
		case ServiceTurnOff:
			return v.SetHVACMode(ctx, "off")
		case ServiceSetHVACMode:
			mode, err := stringArg(data, "hvac_mode")
			if err != nil {
				return err
			}
			return v.SetHVACMode(ctx, mode)
		case ServiceSetPresetMode:
			preset, err := stringArg(data, "preset_mode")
			if err != nil {
				return err
			}
			return v.SetPresetMode(ctx, preset)
		case ServiceSetFanMode:
			mode, err := stringArg(data, "fan_mode")
			if err != nil {
				return err
			}
			return v.SetFanMode(ctx, mode)
		case ServiceSetSwingMode:
			mode, err := stringArg(data, "swing_mode")
			if err != nil {
				return err
			}
			return v.SetSwingMode(ctx, mode)
		case ServiceSetHumidity:
			humidity, err := intArg(data, "humidity")
			if err != nil {
				return err
			}
			return v.SetHumidity(ctx, humidity)
		}
	case FanEntity:
		switch service {
		case ServiceTurnOn:
			if _, ok := data["percentage"]; !ok {
				return v.TurnOn(ctx, nil)
			}
			pct, err := intArg(data, "percentage")
			if err != nil {
				return err
			}
			return v.TurnOn(ctx, &pct)
		case ServiceTurnOff:
			return v.TurnOff(ctx)
		case ServiceSetPercentage:
			pct, err := intArg(data, "percentage")
			if err != nil {
				return err
			}
			return v.SetPercentage(ctx, pct)
		case ServiceOscillate:
			if !v.SupportsOscillation() {
				return fmt.Errorf("%w: %s", ErrUnsupported, service)
			}
			on, err := boolArg(data, "oscillating")
			if err != nil {
				return err
			}
			return v.Oscillate(ctx, on)
		}
	case SwitchEntity:
		switch service {
		case ServiceTurnOn:
			return v.TurnOn(ctx)
		case ServiceTurnOff:
			return v.TurnOff(ctx)
		}
	}
	return fmt.Errorf("%w: %s on %s", ErrUnsupported, service, e.Platform())
}

func stringArg(data map[string]any, key string) (string, error) {
	raw, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidData, key)
	}
	value, ok := raw.(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidData, key)
	}
	return value, nil
}

func intArg(data map[string]any, key string) (int, error) {
	raw, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidData, key)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(math.Round(v)), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidData, key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidData, key)
	}
}

func boolArg(data map[string]any, key string) (bool, error) {
	raw, ok := data[key]
	if !ok {
		return false, fmt.Errorf("%w: %s is required", ErrInvalidData, key)
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidData, key)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidData, key)
	}
}
