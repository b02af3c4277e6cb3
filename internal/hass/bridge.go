// Package hass mirrors the entity registry into Home Assistant through MQTT
// discovery and routes command topics back to entity services.
package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/deyehome/internal/entity"
	"github.com/joshp123/deyehome/internal/logging"
)

const commandTimeout = 30 * time.Second

// Options names the topic layout.
type Options struct {
	DiscoveryPrefix string
	BaseTopic       string
	NodeID          string
	Logger          *logrus.Entry
}

type published struct {
	state        string
	availability string
}

// Bridge publishes discovery, state and availability for every registry
// entity and turns "<base>/<object_id>/<command>/set" messages into
// registry calls.
type Bridge struct {
	broker   Broker
	registry *entity.Registry
	opts     Options
	log      *logrus.Entry

	mu      sync.Mutex
	objects map[string]string
	last    map[string]published
	remove  func()
}

func New(broker Broker, registry *entity.Registry, opts Options) *Bridge {
	log := opts.Logger
	if log == nil {
		log = logging.Component(nil, "hass")
	}
	return &Bridge{
		broker:   broker,
		registry: registry,
		opts:     opts,
		log:      log,
		objects:  make(map[string]string),
		last:     make(map[string]published),
	}
}

// BridgeAvailabilityTopic is where the bridge reports itself online. Dial
// uses it as the last will.
func BridgeAvailabilityTopic(baseTopic string) string {
	return baseTopic + "/bridge/availability"
}

func (b *Bridge) bridgeTopic() string { return BridgeAvailabilityTopic(b.opts.BaseTopic) }

func (b *Bridge) configTopic(platform entity.Platform, obj string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", b.opts.DiscoveryPrefix, platform, b.opts.NodeID, obj)
}

func (b *Bridge) stateTopic(obj string) string {
	return b.opts.BaseTopic + "/" + obj + "/state"
}

func (b *Bridge) availabilityTopic(obj string) string {
	return b.opts.BaseTopic + "/" + obj + "/availability"
}

func (b *Bridge) commandTopic(obj, command string) string {
	return b.opts.BaseTopic + "/" + obj + "/" + command + "/set"
}

// Start subscribes to command topics and announces every entity already
// in the registry. Later registry changes are followed until Stop.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.broker.Subscribe(b.opts.BaseTopic+"/+/+/set", b.handleCommand); err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	if err := b.broker.Publish(b.bridgeTopic(), true, []byte(payloadOnline)); err != nil {
		return fmt.Errorf("publish bridge availability: %w", err)
	}

	remove := b.registry.AddListener(b.onEvent)
	b.mu.Lock()
	b.remove = remove
	b.mu.Unlock()

	for _, e := range b.registry.List() {
		b.announce(e, entity.Render(e))
	}
	b.log.WithField("entities", len(b.registry.List())).Info("hass bridge started")
	return nil
}

// Stop detaches from the registry and marks the bridge offline. The
// broker is left to the caller.
func (b *Bridge) Stop() {
	b.mu.Lock()
	remove := b.remove
	b.remove = nil
	b.mu.Unlock()
	if remove != nil {
		remove()
	}
	if err := b.broker.Publish(b.bridgeTopic(), true, []byte(payloadOffline)); err != nil {
		b.log.WithError(err).Warn("publish bridge offline failed")
	}
}

func (b *Bridge) onEvent(event entity.Event) {
	switch event.Kind {
	case entity.EventAdded:
		b.announce(event.Entity, event.State)
	case entity.EventUpdated:
		b.publishState(entity.ObjectID(event.Entity.EntityID()), event.State)
	case entity.EventRemoved:
		b.withdraw(event.Entity)
	}
}

func (b *Bridge) announce(e entity.Entity, state entity.State) {
	obj := entity.ObjectID(e.EntityID())
	payload, err := json.Marshal(b.discoveryConfig(e))
	if err != nil {
		b.log.WithError(err).WithField("entity_id", e.EntityID()).Error("encode discovery config")
		return
	}

	b.mu.Lock()
	b.objects[obj] = e.EntityID()
	delete(b.last, obj)
	b.mu.Unlock()

	if err := b.broker.Publish(b.configTopic(e.Platform(), obj), true, payload); err != nil {
		b.log.WithError(err).WithField("entity_id", e.EntityID()).Warn("publish discovery config failed")
	}
	b.publishState(obj, state)
}

func (b *Bridge) withdraw(e entity.Entity) {
	obj := entity.ObjectID(e.EntityID())
	b.mu.Lock()
	delete(b.objects, obj)
	delete(b.last, obj)
	b.mu.Unlock()

	// An empty retained config removes the entity from Home Assistant.
	if err := b.broker.Publish(b.configTopic(e.Platform(), obj), true, nil); err != nil {
		b.log.WithError(err).WithField("entity_id", e.EntityID()).Warn("withdraw discovery config failed")
	}
	if err := b.broker.Publish(b.availabilityTopic(obj), true, []byte(payloadOffline)); err != nil {
		b.log.WithError(err).WithField("entity_id", e.EntityID()).Debug("publish offline failed")
	}
}

// publishState sends state and availability when they differ from what
// was last published for the object.
func (b *Bridge) publishState(obj string, state entity.State) {
	payload, err := json.Marshal(state)
	if err != nil {
		b.log.WithError(err).WithField("entity_id", state.EntityID).Error("encode state")
		return
	}
	avail := payloadOffline
	if state.Available {
		avail = payloadOnline
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, known := b.objects[obj]; !known {
		return
	}
	prev := b.last[obj]
	next := prev
	if prev.state != string(payload) {
		if err := b.broker.Publish(b.stateTopic(obj), true, payload); err != nil {
			b.log.WithError(err).WithField("entity_id", state.EntityID).Warn("publish state failed")
		} else {
			next.state = string(payload)
		}
	}
	if prev.availability != avail {
		if err := b.broker.Publish(b.availabilityTopic(obj), true, []byte(avail)); err != nil {
			b.log.WithError(err).WithField("entity_id", state.EntityID).Warn("publish availability failed")
		} else {
			next.availability = avail
		}
	}
	b.last[obj] = next
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	obj, command, ok := b.parseCommandTopic(topic)
	if !ok {
		return
	}
	log := b.log.WithFields(logrus.Fields{"object_id": obj, "command": command})

	b.mu.Lock()
	entityID, known := b.objects[obj]
	b.mu.Unlock()
	if !known {
		log.Debug("command for unknown entity")
		return
	}
	e, found := b.registry.Get(entityID)
	if !found {
		return
	}

	service, data, err := serviceFor(e.Platform(), command, strings.TrimSpace(string(payload)))
	if err != nil {
		log.WithError(err).Warn("rejected command")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := b.registry.Call(ctx, entityID, service, data); err != nil {
		log.WithError(err).Warn("command failed")
		return
	}
	log.WithField("service", service).Debug("command applied")
}

func (b *Bridge) parseCommandTopic(topic string) (obj, command string, ok bool) {
	rest, found := strings.CutPrefix(topic, b.opts.BaseTopic+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "set" || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// serviceFor maps a command topic and payload onto an entity service call.
func serviceFor(platform entity.Platform, command, payload string) (string, map[string]any, error) {
	switch command {
	case cmdPower:
		switch strings.ToUpper(payload) {
		case payloadOn:
			return entity.ServiceTurnOn, nil, nil
		case payloadOff:
			return entity.ServiceTurnOff, nil, nil
		}
		return "", nil, fmt.Errorf("%w: power payload %q", entity.ErrInvalidData, payload)
	case cmdHumidity:
		return entity.ServiceSetHumidity, map[string]any{"humidity": payload}, nil
	case cmdMode:
		if platform == entity.Climate {
			return entity.ServiceSetHVACMode, map[string]any{"hvac_mode": payload}, nil
		}
		return entity.ServiceSetMode, map[string]any{"mode": payload}, nil
	case cmdPresetMode:
		return entity.ServiceSetPresetMode, map[string]any{"preset_mode": payload}, nil
	case cmdFanMode:
		return entity.ServiceSetFanMode, map[string]any{"fan_mode": payload}, nil
	case cmdSwingMode:
		return entity.ServiceSetSwingMode, map[string]any{"swing_mode": payload}, nil
	case cmdPercentage:
		return entity.ServiceSetPercentage, map[string]any{"percentage": payload}, nil
	case cmdOscillation:
		switch payload {
		case oscillateOn:
			return entity.ServiceOscillate, map[string]any{"oscillating": true}, nil
		case oscillateOff:
			return entity.ServiceOscillate, map[string]any{"oscillating": false}, nil
		}
		return "", nil, fmt.Errorf("%w: oscillation payload %q", entity.ErrInvalidData, payload)
	}
	return "", nil, fmt.Errorf("%w: command %s", entity.ErrUnsupported, command)
}
