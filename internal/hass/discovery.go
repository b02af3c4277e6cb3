package hass

import (
	"github.com/joshp123/deyehome/internal/entity"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
	payloadOn      = "ON"
	payloadOff     = "OFF"

	oscillateOn  = "oscillate_on"
	oscillateOff = "oscillate_off"
)

// Command topic suffixes.
const (
	cmdPower       = "power"
	cmdHumidity    = "humidity"
	cmdMode        = "mode"
	cmdPresetMode  = "preset_mode"
	cmdFanMode     = "fan_mode"
	cmdSwingMode   = "swing_mode"
	cmdPercentage  = "percentage"
	cmdOscillation = "oscillation"
)

type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type availability struct {
	Topic string `json:"topic"`
}

// discoveryConfig builds the retained config payload for one entity. Keys
// follow the Home Assistant MQTT discovery schema.
func (b *Bridge) discoveryConfig(e entity.Entity) map[string]any {
	obj := entity.ObjectID(e.EntityID())
	desc := e.Description()
	stateTopic := b.stateTopic(obj)
	dev := e.Device()

	cfg := map[string]any{
		"name":              nameOrNil(desc.Name),
		"unique_id":         e.UniqueID(),
		"object_id":         obj,
		"availability":      []availability{{Topic: b.bridgeTopic()}, {Topic: b.availabilityTopic(obj)}},
		"availability_mode": "all",
		"device": device{
			Identifiers:  []string{dev.Identifier},
			Name:         dev.Name,
			Manufacturer: dev.Manufacturer,
			Model:        dev.Model,
			SWVersion:    dev.SWVersion,
		},
	}
	if desc.Category != entity.CategoryNone {
		cfg["entity_category"] = string(desc.Category)
	}
	if desc.Icon != "" {
		cfg["icon"] = desc.Icon
	}
	if desc.DeviceClass != "" {
		cfg["device_class"] = desc.DeviceClass
	}

	switch v := e.(type) {
	case entity.HumidifierEntity:
		cfg["command_topic"] = b.commandTopic(obj, cmdPower)
		cfg["state_topic"] = stateTopic
		cfg["state_value_template"] = `{{ 'ON' if value_json.state == 'on' else 'OFF' }}`
		cfg["payload_on"] = payloadOn
		cfg["payload_off"] = payloadOff
		cfg["target_humidity_command_topic"] = b.commandTopic(obj, cmdHumidity)
		cfg["target_humidity_state_topic"] = stateTopic
		cfg["target_humidity_state_template"] = `{{ value_json.attributes.humidity }}`
		cfg["current_humidity_topic"] = stateTopic
		cfg["current_humidity_template"] = `{{ value_json.attributes.current_humidity }}`
		cfg["action_topic"] = stateTopic
		cfg["action_template"] = `{{ value_json.attributes.action }}`
		cfg["min_humidity"] = v.MinHumidity()
		cfg["max_humidity"] = v.MaxHumidity()
		if modes := v.AvailableModes(); len(modes) > 1 {
			cfg["modes"] = modes
			cfg["mode_command_topic"] = b.commandTopic(obj, cmdMode)
			cfg["mode_state_topic"] = stateTopic
			cfg["mode_state_template"] = `{{ value_json.attributes.mode }}`
		}
	case entity.ClimateEntity:
		cfg["modes"] = v.HVACModes()
		cfg["mode_command_topic"] = b.commandTopic(obj, cmdMode)
		cfg["mode_state_topic"] = stateTopic
		cfg["mode_state_template"] = `{{ value_json.state }}`
		cfg["action_topic"] = stateTopic
		cfg["action_template"] = `{{ value_json.attributes.hvac_action }}`
		cfg["current_temperature_topic"] = stateTopic
		cfg["current_temperature_template"] = `{{ value_json.attributes.current_temperature }}`
		cfg["current_humidity_topic"] = stateTopic
		cfg["current_humidity_template"] = `{{ value_json.attributes.current_humidity }}`
		cfg["target_humidity_command_topic"] = b.commandTopic(obj, cmdHumidity)
		cfg["target_humidity_state_topic"] = stateTopic
		cfg["target_humidity_state_template"] = `{{ value_json.attributes.humidity }}`
		cfg["min_humidity"] = v.MinHumidity()
		cfg["max_humidity"] = v.MaxHumidity()
		cfg["temperature_unit"] = "C"
		// Home Assistant adds "none" to preset lists itself.
		if presets := withoutNone(v.PresetModes()); len(presets) > 0 {
			cfg["preset_modes"] = presets
			cfg["preset_mode_command_topic"] = b.commandTopic(obj, cmdPresetMode)
			cfg["preset_mode_state_topic"] = stateTopic
			cfg["preset_mode_value_template"] = `{{ value_json.attributes.preset_mode }}`
		}
		if fans := v.FanModes(); len(fans) > 0 {
			cfg["fan_modes"] = fans
			cfg["fan_mode_command_topic"] = b.commandTopic(obj, cmdFanMode)
			cfg["fan_mode_state_topic"] = stateTopic
			cfg["fan_mode_state_template"] = `{{ value_json.attributes.fan_mode }}`
		}
		if swings := v.SwingModes(); len(swings) > 0 {
			cfg["swing_modes"] = swings
			cfg["swing_mode_command_topic"] = b.commandTopic(obj, cmdSwingMode)
			cfg["swing_mode_state_topic"] = stateTopic
			cfg["swing_mode_state_template"] = `{{ value_json.attributes.swing_mode }}`
		}
	case entity.FanEntity:
		cfg["command_topic"] = b.commandTopic(obj, cmdPower)
		cfg["state_topic"] = stateTopic
		cfg["state_value_template"] = `{{ 'ON' if value_json.state == 'on' else 'OFF' }}`
		cfg["payload_on"] = payloadOn
		cfg["payload_off"] = payloadOff
		if count := v.SpeedCount(); count > 0 {
			cfg["percentage_command_topic"] = b.commandTopic(obj, cmdPercentage)
			cfg["percentage_state_topic"] = stateTopic
			cfg["percentage_value_template"] = `{{ value_json.attributes.percentage }}`
		}
		if v.SupportsOscillation() {
			cfg["oscillation_command_topic"] = b.commandTopic(obj, cmdOscillation)
			cfg["oscillation_state_topic"] = stateTopic
			cfg["oscillation_value_template"] = `{{ 'oscillate_on' if value_json.attributes.oscillating else 'oscillate_off' }}`
		}
	case entity.SwitchEntity:
		cfg["command_topic"] = b.commandTopic(obj, cmdPower)
		cfg["state_topic"] = stateTopic
		cfg["value_template"] = `{{ value_json.state }}`
		cfg["payload_on"] = payloadOn
		cfg["payload_off"] = payloadOff
		cfg["state_on"] = "on"
		cfg["state_off"] = "off"
	case entity.BinarySensorEntity:
		cfg["state_topic"] = stateTopic
		cfg["value_template"] = `{{ value_json.state }}`
		cfg["payload_on"] = "on"
		cfg["payload_off"] = "off"
	case entity.SensorEntity:
		cfg["state_topic"] = stateTopic
		cfg["value_template"] = `{{ value_json.state }}`
		if desc.Unit != "" {
			cfg["unit_of_measurement"] = desc.Unit
		}
		if desc.StateClass != "" {
			cfg["state_class"] = desc.StateClass
		}
	}
	return cfg
}

// nameOrNil makes Home Assistant use the device name for the main entity.
func nameOrNil(name string) any {
	if name == "" {
		return nil
	}
	return name
}

func withoutNone(modes []string) []string {
	out := make([]string, 0, len(modes))
	for _, m := range modes {
		if m != "none" {
			out = append(out, m)
		}
	}
	return out
}
