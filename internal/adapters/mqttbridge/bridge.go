package mqttbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ghalamif/ColdAnchor/internal/ports"
)

type Config struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"-"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.ClientID == "" {
		c.ClientID = "coldanchor-bridge"
	}
	if c.Topic == "" {
		c.Topic = "coldchain/+/sensor"
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

var (
	errEmpty   = errors.New("empty payload")
	errMissing = errors.New("payload lacks temp, hum or ts")
)

var requiredFields = []string{"temp", "hum", "ts"}

// Normalize strips one layer of wrapping quotes that some firmware adds,
// checks the payload is a JSON object carrying temp, hum and ts, and returns
// it re-encoded.
func Normalize(payload []byte) ([]byte, error) {
	raw := bytes.TrimSpace(payload)
	if n := len(raw); n >= 2 && (raw[0] == '\'' && raw[n-1] == '\'' || raw[0] == '"' && raw[n-1] == '"') {
		raw = bytes.TrimSpace(raw[1 : n-1])
	}
	if len(raw) == 0 {
		return nil, errEmpty
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	for _, k := range requiredFields {
		if _, ok := obj[k]; !ok {
			return nil, errMissing
		}
	}
	return json.Marshal(obj)
}

// Bridge subscribes to sensor topics and republishes accepted payloads with
// the MQTT topic as routing key.
type Bridge struct {
	cfg Config
	pub ports.Publisher
	obs ports.Observability

	mu     sync.Mutex
	client mqtt.Client
}

func New(cfg Config, pub ports.Publisher, obs ports.Observability) *Bridge {
	cfg.ApplyDefaults()
	return &Bridge{cfg: cfg, pub: pub, obs: obs}
}

func (b *Bridge) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			tok := c.Subscribe(b.cfg.Topic, b.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
				b.Forward(m.Topic(), m.Payload())
			})
			if tok.Wait() && tok.Error() != nil {
				b.obs.LogError("mqtt_subscribe_failed", tok.Error(), ports.Field{Key: "topic", Value: b.cfg.Topic})
				return
			}
			b.obs.LogInfo("mqtt_subscribed", ports.Field{Key: "topic", Value: b.cfg.Topic})
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.obs.LogError("mqtt_connection_lost", err)
		})
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if tok := client.Connect(); tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", b.cfg.Broker, tok.Error())
	}
	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	return nil
}

func (b *Bridge) Stop() {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
}

// Forward normalizes one message and publishes it. Rejected payloads are
// dropped and counted.
func (b *Bridge) Forward(topic string, payload []byte) {
	body, err := Normalize(payload)
	if err != nil {
		b.obs.IncCounter("coldanchor_bridge_dropped_total", 1)
		b.obs.LogInfo("bridge_dropped",
			ports.Field{Key: "topic", Value: topic},
			ports.Field{Key: "reason", Value: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.PublishTimeout)
	defer cancel()
	if err := b.pub.Publish(ctx, topic, body); err != nil {
		b.obs.IncCounter("coldanchor_bridge_dropped_total", 1)
		b.obs.LogError("bridge_publish_failed", err, ports.Field{Key: "topic", Value: topic})
		return
	}
	b.obs.IncCounter("coldanchor_bridge_forwarded_total", 1)
}
