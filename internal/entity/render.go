package entity

import "fmt"

const StateUnavailable = "unavailable"

// State is the rendered view of an entity.
type State struct {
	EntityID   string         `json:"entity_id"`
	UniqueID   string         `json:"unique_id"`
	Platform   Platform       `json:"platform"`
	State      string         `json:"state"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes"`
	Device     DeviceInfo     `json:"device"`
}

// Render projects the entity's current values. Unavailable entities keep
// their static attributes but report state "unavailable".
func Render(e Entity) State {
	desc := e.Description()
	attrs := map[string]any{
		"friendly_name": e.Name(),
	}
	if desc.Category != CategoryNone {
		attrs["entity_category"] = string(desc.Category)
	}
	if desc.Icon != "" {
		attrs["icon"] = desc.Icon
	}
	if desc.DeviceClass != "" {
		attrs["device_class"] = desc.DeviceClass
	}

	state := State{
		EntityID:   e.EntityID(),
		UniqueID:   e.UniqueID(),
		Platform:   e.Platform(),
		Available:  e.Available(),
		Attributes: attrs,
		Device:     e.Device(),
	}

	switch v := e.(type) {
	case HumidifierEntity:
		attrs["min_humidity"] = v.MinHumidity()
		attrs["max_humidity"] = v.MaxHumidity()
		attrs["available_modes"] = v.AvailableModes()
		if state.Available {
			state.State = onOff(v.IsOn())
			attrs["humidity"] = v.TargetHumidity()
			attrs["current_humidity"] = v.CurrentHumidity()
			attrs["mode"] = v.Mode()
			attrs["action"] = v.Action()
		}
	case ClimateEntity:
		attrs["hvac_modes"] = v.HVACModes()
		attrs["preset_modes"] = v.PresetModes()
		attrs["fan_modes"] = v.FanModes()
		attrs["swing_modes"] = v.SwingModes()
		attrs["min_humidity"] = v.MinHumidity()
		attrs["max_humidity"] = v.MaxHumidity()
		if state.Available {
			state.State = v.HVACMode()
			attrs["hvac_action"] = v.HVACAction()
			attrs["preset_mode"] = v.PresetMode()
			attrs["fan_mode"] = v.FanMode()
			attrs["swing_mode"] = v.SwingMode()
			attrs["current_temperature"] = v.CurrentTemperature()
			attrs["current_humidity"] = v.CurrentHumidity()
			attrs["humidity"] = v.TargetHumidity()
		}
	case FanEntity:
		if count := v.SpeedCount(); count > 0 {
			attrs["percentage_step"] = 100.0 / float64(count)
		}
		if state.Available {
			state.State = onOff(v.IsOn())
			attrs["percentage"] = v.Percentage()
			if v.SupportsOscillation() {
				attrs["oscillating"] = v.Oscillating()
			}
		}
	case SwitchEntity:
		if state.Available {
			state.State = onOff(v.IsOn())
		}
	case BinarySensorEntity:
		if state.Available {
			state.State = onOff(v.IsOn())
		}
	case SensorEntity:
		if desc.Unit != "" {
			attrs["unit_of_measurement"] = desc.Unit
		}
		if desc.StateClass != "" {
			attrs["state_class"] = desc.StateClass
		}
		if state.Available {
			state.State = formatValue(v.NativeValue())
		}
	}

	if !state.Available {
		state.State = StateUnavailable
	}
	return state
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "unknown"
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}
