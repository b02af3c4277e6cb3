package hass

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshp123/deyehome/internal/entity"
)

type message struct {
	topic    string
	retained bool
	payload  string
}

type fakeBroker struct {
	mu       sync.Mutex
	messages []message
	subs     map[string]func(string, []byte)
}

func (f *fakeBroker) Publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{topic: topic, retained: retained, payload: string(payload)})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, fn func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string]func(string, []byte))
	}
	f.subs[topic] = fn
	return nil
}

func (f *fakeBroker) Close() {}

// deliver routes a message through the wildcard command subscription.
func (f *fakeBroker) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	f.mu.Lock()
	fn := f.subs["deyehome/+/+/set"]
	f.mu.Unlock()
	require.NotNil(t, fn, "command subscription missing")
	fn(topic, []byte(payload))
}

func (f *fakeBroker) last(topic string) (message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].topic == topic {
			return f.messages[i], true
		}
	}
	return message{}, false
}

func (f *fakeBroker) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if m.topic == topic {
			n++
		}
	}
	return n
}

type stubSwitch struct {
	entity.Base

	mu        sync.Mutex
	on        bool
	available bool
	listeners []func()
	failNext  error
}

func newStubSwitch() *stubSwitch {
	return &stubSwitch{
		Base: entity.NewBase(entity.Switch, "AABB-child-lock", "basement child lock",
			entity.Description{Key: "child_lock", Name: "Child Lock", Category: entity.CategoryConfig},
			entity.DeviceInfo{Identifier: "dev-1", Name: "Basement", Manufacturer: "Deye", Model: "DYD-W20A3"}),
		available: true,
	}
}

func (s *stubSwitch) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *stubSwitch) IsOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

func (s *stubSwitch) Subscribe(fn func()) func() {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.listeners = nil
		s.mu.Unlock()
	}
}

func (s *stubSwitch) set(on, available bool) {
	s.mu.Lock()
	s.on = on
	s.available = available
	fns := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *stubSwitch) TurnOn(ctx context.Context) error {
	s.mu.Lock()
	err := s.failNext
	s.failNext = nil
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.set(true, true)
	return nil
}

func (s *stubSwitch) TurnOff(ctx context.Context) error {
	s.set(false, true)
	return nil
}

type stubSensor struct {
	entity.Base
}

func (s *stubSensor) Available() bool            { return true }
func (s *stubSensor) Subscribe(fn func()) func() { return func() {} }
func (s *stubSensor) NativeValue() any           { return 55 }

func newStubSensor() *stubSensor {
	return &stubSensor{Base: entity.NewBase(entity.Sensor, "AABB-humidity", "basement humidity",
		entity.Description{Key: "humidity", Name: "Humidity", DeviceClass: "humidity", Unit: "%", StateClass: "measurement"},
		entity.DeviceInfo{Identifier: "dev-1", Name: "Basement"})}
}

const (
	switchConfig = "homeassistant/switch/deyehome/basement_child_lock/config"
	switchState  = "deyehome/basement_child_lock/state"
	switchAvail  = "deyehome/basement_child_lock/availability"
	sensorConfig = "homeassistant/sensor/deyehome/basement_humidity/config"
)

func startBridge(t *testing.T, registry *entity.Registry) (*Bridge, *fakeBroker) {
	t.Helper()
	broker := &fakeBroker{}
	bridge := New(broker, registry, Options{DiscoveryPrefix: "homeassistant", BaseTopic: "deyehome", NodeID: "deyehome"})
	require.NoError(t, bridge.Start(context.Background()))
	t.Cleanup(bridge.Stop)
	return bridge, broker
}

func decode(t *testing.T, payload string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &out))
	return out
}

func TestStartAnnouncesExistingEntities(t *testing.T) {
	registry := entity.NewRegistry(nil)
	sw := newStubSwitch()
	require.NoError(t, registry.Add("e1", sw))

	_, broker := startBridge(t, registry)

	bridgeAvail, ok := broker.last("deyehome/bridge/availability")
	require.True(t, ok)
	require.Equal(t, "online", bridgeAvail.payload)

	cfgMsg, ok := broker.last(switchConfig)
	require.True(t, ok)
	require.True(t, cfgMsg.retained)
	cfg := decode(t, cfgMsg.payload)
	require.Equal(t, "AABB-child-lock", cfg["unique_id"])
	require.Equal(t, "Child Lock", cfg["name"])
	require.Equal(t, "config", cfg["entity_category"])
	require.Equal(t, "deyehome/basement_child_lock/power/set", cfg["command_topic"])
	require.Equal(t, switchState, cfg["state_topic"])
	device := cfg["device"].(map[string]any)
	require.Equal(t, []any{"dev-1"}, device["identifiers"])
	require.Equal(t, "Deye", device["manufacturer"])

	stateMsg, ok := broker.last(switchState)
	require.True(t, ok)
	require.True(t, stateMsg.retained)
	require.Equal(t, "off", decode(t, stateMsg.payload)["state"])

	avail, ok := broker.last(switchAvail)
	require.True(t, ok)
	require.Equal(t, "online", avail.payload)
}

func TestLaterEntitiesAreAnnouncedAndWithdrawn(t *testing.T) {
	registry := entity.NewRegistry(nil)
	_, broker := startBridge(t, registry)

	require.NoError(t, registry.Add("e1", newStubSensor()))
	cfgMsg, ok := broker.last(sensorConfig)
	require.True(t, ok)
	cfg := decode(t, cfgMsg.payload)
	require.Equal(t, "%", cfg["unit_of_measurement"])
	require.Equal(t, "measurement", cfg["state_class"])
	require.Equal(t, "humidity", cfg["device_class"])

	stateMsg, ok := broker.last("deyehome/basement_humidity/state")
	require.True(t, ok)
	require.Equal(t, "55", decode(t, stateMsg.payload)["state"])

	registry.RemoveEntry("e1")
	cfgMsg, ok = broker.last(sensorConfig)
	require.True(t, ok)
	require.Empty(t, cfgMsg.payload)
	require.True(t, cfgMsg.retained)
}

func TestCommandTopicCallsService(t *testing.T) {
	registry := entity.NewRegistry(nil)
	sw := newStubSwitch()
	require.NoError(t, registry.Add("e1", sw))
	_, broker := startBridge(t, registry)

	broker.deliver(t, "deyehome/basement_child_lock/power/set", "ON")
	require.True(t, sw.IsOn())

	stateMsg, ok := broker.last(switchState)
	require.True(t, ok)
	require.Equal(t, "on", decode(t, stateMsg.payload)["state"])

	broker.deliver(t, "deyehome/basement_child_lock/power/set", "OFF")
	require.False(t, sw.IsOn())

	// Unknown objects and malformed payloads are dropped.
	broker.deliver(t, "deyehome/nothing_here/power/set", "ON")
	broker.deliver(t, "deyehome/basement_child_lock/power/set", "maybe")
	require.False(t, sw.IsOn())

	sw.mu.Lock()
	sw.failNext = errors.New("device timeout")
	sw.mu.Unlock()
	broker.deliver(t, "deyehome/basement_child_lock/power/set", "ON")
	require.False(t, sw.IsOn())
}

func TestStatePublishedOnlyOnChange(t *testing.T) {
	registry := entity.NewRegistry(nil)
	sw := newStubSwitch()
	require.NoError(t, registry.Add("e1", sw))
	_, broker := startBridge(t, registry)

	require.Equal(t, 1, broker.count(switchState))
	sw.set(false, true)
	require.Equal(t, 1, broker.count(switchState))
	require.Equal(t, 1, broker.count(switchAvail))

	sw.set(false, false)
	require.Equal(t, 2, broker.count(switchState))
	avail, _ := broker.last(switchAvail)
	require.Equal(t, "offline", avail.payload)
	stateMsg, _ := broker.last(switchState)
	require.Equal(t, entity.StateUnavailable, decode(t, stateMsg.payload)["state"])
}

func TestStopDetachesFromRegistry(t *testing.T) {
	registry := entity.NewRegistry(nil)
	broker := &fakeBroker{}
	bridge := New(broker, registry, Options{DiscoveryPrefix: "homeassistant", BaseTopic: "deyehome", NodeID: "deyehome"})
	require.NoError(t, bridge.Start(context.Background()))
	bridge.Stop()

	avail, _ := broker.last("deyehome/bridge/availability")
	require.Equal(t, "offline", avail.payload)

	require.NoError(t, registry.Add("e1", newStubSensor()))
	_, announced := broker.last(sensorConfig)
	require.False(t, announced)
}

func TestServiceFor(t *testing.T) {
	cases := []struct {
		platform entity.Platform
		command  string
		payload  string
		service  string
		data     map[string]any
	}{
		{entity.Humidifier, "power", "on", entity.ServiceTurnOn, nil},
		{entity.Humidifier, "mode", "sleep", entity.ServiceSetMode, map[string]any{"mode": "sleep"}},
		{entity.Climate, "mode", "dry", entity.ServiceSetHVACMode, map[string]any{"hvac_mode": "dry"}},
		{entity.Climate, "fan_mode", "high", entity.ServiceSetFanMode, map[string]any{"fan_mode": "high"}},
		{entity.Climate, "humidity", "45", entity.ServiceSetHumidity, map[string]any{"humidity": "45"}},
		{entity.Fan, "percentage", "50", entity.ServiceSetPercentage, map[string]any{"percentage": "50"}},
		{entity.Fan, "oscillation", "oscillate_off", entity.ServiceOscillate, map[string]any{"oscillating": false}},
	}
	for _, tc := range cases {
		service, data, err := serviceFor(tc.platform, tc.command, tc.payload)
		require.NoError(t, err, tc.command)
		require.Equal(t, tc.service, service, tc.command)
		require.Equal(t, tc.data, data, tc.command)
	}

	_, _, err := serviceFor(entity.Fan, "oscillation", "sideways")
	require.ErrorIs(t, err, entity.ErrInvalidData)
	_, _, err = serviceFor(entity.Switch, "brightness", "10")
	require.ErrorIs(t, err, entity.ErrUnsupported)
}

func TestParseCommandTopic(t *testing.T) {
	b := New(&fakeBroker{}, entity.NewRegistry(nil), Options{BaseTopic: "deyehome"})
	obj, command, ok := b.parseCommandTopic("deyehome/fan_x/percentage/set")
	require.True(t, ok)
	require.Equal(t, "fan_x", obj)
	require.Equal(t, "percentage", command)

	for _, topic := range []string{"other/fan_x/percentage/set", "deyehome/fan_x/set", "deyehome/fan_x/percentage/get"} {
		_, _, ok := b.parseCommandTopic(topic)
		require.False(t, ok, topic)
	}
	require.True(t, strings.HasSuffix(b.commandTopic("fan_x", "power"), "/power/set"))
}
