package hass

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/joshp123/deyehome/internal/config"
)

const (
	connectTimeout = 15 * time.Second
	publishTimeout = 5 * time.Second
)

var ErrNotConnected = errors.New("mqtt not connected")

// Broker is the slice of an MQTT client the bridge needs.
type Broker interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, fn func(topic string, payload []byte)) error
	Close()
}

// MQTTBroker is a paho client that restores its subscriptions after a
// reconnect.
type MQTTBroker struct {
	client mqtt.Client
	log    *logrus.Entry

	mu   sync.Mutex
	subs map[string]func(string, []byte)
}

// Dial connects to the broker named in cfg. availabilityTopic, when set,
// receives a retained "offline" last will.
func Dial(cfg config.HassConfig, password, availabilityTopic string, log *logrus.Entry) (*MQTTBroker, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("hass broker is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "deyehome-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	// Command handlers publish state; they must not block the router.
	opts.SetOrderMatters(false)
	if availabilityTopic != "" {
		opts.SetWill(availabilityTopic, payloadOffline, 1, true)
	}

	b := &MQTTBroker{log: log, subs: make(map[string]func(string, []byte))}
	opts.OnConnect = func(_ mqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("hass mqtt connected")
		b.resubscribeAll()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("hass mqtt connection lost")
	}

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		b.client.Disconnect(0)
		return nil, fmt.Errorf("hass mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("hass mqtt connect: %w", err)
	}
	return b, nil
}

func (b *MQTTBroker) Publish(topic string, retained bool, payload []byte) error {
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := b.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (b *MQTTBroker) Subscribe(topic string, fn func(string, []byte)) error {
	b.mu.Lock()
	b.subs[topic] = fn
	b.mu.Unlock()
	return b.subscribe(topic, fn)
}

func (b *MQTTBroker) subscribe(topic string, fn func(string, []byte)) error {
	token := b.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	return token.Error()
}

func (b *MQTTBroker) resubscribeAll() {
	b.mu.Lock()
	subs := make(map[string]func(string, []byte), len(b.subs))
	for topic, fn := range b.subs {
		subs[topic] = fn
	}
	b.mu.Unlock()
	for topic, fn := range subs {
		if err := b.subscribe(topic, fn); err != nil {
			b.log.WithError(err).WithField("topic", topic).Warn("resubscribe failed")
		}
	}
}

func (b *MQTTBroker) Close() {
	b.client.Disconnect(250)
}
