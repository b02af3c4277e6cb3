package deye

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// classicTransport reaches platform-1 devices over the vendor broker.
type classicTransport interface {
	SubscribeState(productID, deviceID string, fn func(DeviceState)) (func(), error)
	SubscribeAvailability(productID, deviceID string, fn func(bool)) (func(), error)
	PublishCommand(productID, deviceID string, payload []byte) error
	Close()
}

type mqttClient struct {
	client   mqtt.Client
	endpoint string
	log      *logrus.Entry

	mu     sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int
}

func newMQTTClient(info MQTTInfo, log *logrus.Entry) (*mqttClient, error) {
	if info.Host == "" || info.SSLPort == 0 {
		return nil, fmt.Errorf("invalid mqtt info: host=%q port=%d", info.Host, info.SSLPort)
	}
	mc := &mqttClient{
		endpoint: info.Endpoint,
		log:      log,
		subs:     make(map[string]map[int]func([]byte)),
	}
	mc.client = mqtt.NewClient(mc.options(info))
	if err := wait(mc.client.Connect(), 15*time.Second, "mqtt connect"); err != nil {
		mc.client.Disconnect(0)
		return nil, err
	}
	return mc, nil
}

// options builds the vendor broker session. Every message arrives via the
// default handler and is fanned out by topic.
func (c *mqttClient) options(info MQTTInfo) *mqtt.ClientOptions {
	clientID := info.ClientID
	if clientID == "" {
		clientID = "deyehome-" + uuid.NewString()
	}
	return mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s:%d", info.Host, info.SSLPort)).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetUsername(info.LoginName).
		SetPassword(info.Password).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetDefaultPublishHandler(c.dispatch).
		SetOnConnectHandler(func(mqtt.Client) { c.resubscribeAll() }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.log.WithError(err).Warn("deye mqtt connection lost")
		})
}

// wait bounds a paho token and maps failures onto ErrCannotConnect.
func wait(token mqtt.Token, timeout time.Duration, action string) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: %s timed out", ErrCannotConnect, action)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCannotConnect, action, err)
	}
	return nil
}

func (c *mqttClient) topic(productID, deviceID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.endpoint, productID, deviceID, suffix)
}

func (c *mqttClient) SubscribeState(productID, deviceID string, fn func(DeviceState)) (func(), error) {
	return c.subscribe(c.topic(productID, deviceID, "status/hex"), func(payload []byte) {
		state, err := ParseHex(string(payload))
		if err != nil {
			c.log.WithError(err).WithField("device_id", deviceID).Debug("dropping state message")
			return
		}
		fn(state)
	})
}

func (c *mqttClient) SubscribeAvailability(productID, deviceID string, fn func(bool)) (func(), error) {
	return c.subscribe(c.topic(productID, deviceID, "online/json"), func(payload []byte) {
		var msg struct {
			Online bool `json:"online"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.log.WithError(err).WithField("device_id", deviceID).Debug("dropping availability message")
			return
		}
		fn(msg.Online)
	})
}

func (c *mqttClient) PublishCommand(productID, deviceID string, payload []byte) error {
	token := c.client.Publish(c.topic(productID, deviceID, "command/hex"), 0, false, fmt.Sprintf("%X", payload))
	return wait(token, requestTimeout, "publish command")
}

func (c *mqttClient) Close() {
	c.client.Disconnect(250)
}

func (c *mqttClient) subscribe(topic string, cb func([]byte)) (func(), error) {
	c.mu.Lock()
	if c.subs[topic] == nil {
		c.subs[topic] = make(map[int]func([]byte))
	}
	id := c.nextID
	c.nextID++
	c.subs[topic][id] = cb
	needSubscribe := len(c.subs[topic]) == 1
	c.mu.Unlock()

	if needSubscribe {
		if err := wait(c.client.Subscribe(topic, 0, nil), requestTimeout, "subscribe "+topic); err != nil {
			c.mu.Lock()
			delete(c.subs[topic], id)
			c.mu.Unlock()
			return nil, err
		}
	}

	return func() {
		c.mu.Lock()
		callbacks := c.subs[topic]
		if callbacks == nil {
			c.mu.Unlock()
			return
		}
		delete(callbacks, id)
		last := len(callbacks) == 0
		if last {
			delete(c.subs, topic)
		}
		c.mu.Unlock()
		if last {
			_ = c.client.Unsubscribe(topic).WaitTimeout(requestTimeout)
		}
	}, nil
}

func (c *mqttClient) dispatch(_ mqtt.Client, msg mqtt.Message) {
	c.mu.Lock()
	callbacks := c.subs[msg.Topic()]
	list := make([]func([]byte), 0, len(callbacks))
	for _, cb := range callbacks {
		list = append(list, cb)
	}
	c.mu.Unlock()
	for _, cb := range list {
		cb(msg.Payload())
	}
}

func (c *mqttClient) resubscribeAll() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()
	if len(topics) == 0 {
		return
	}
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		filters[topic] = 0
	}
	if err := wait(c.client.SubscribeMultiple(filters, nil), requestTimeout, "resubscribe"); err != nil {
		c.log.WithError(err).WithField("topics", len(topics)).Warn("resubscribe failed")
	}
}
