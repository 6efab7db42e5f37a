// Package hostmqtt exposes the device engine over MQTT: retained state
// and availability topics per device, transition events, and a set topic
// for inbound capability writes.
package hostmqtt

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/smarthomesven/duuxbridge/internal/device"
)

// Topic layout, rooted at the configured prefix:
//
//	<prefix>/<device>/state/<capability>   retained, JSON value
//	<prefix>/<device>/availability         retained, "online" / "offline"
//	<prefix>/<device>/availability/reason  retained, plain text
//	<prefix>/<device>/event                JSON transition event
//	<prefix>/<device>/set/<capability>     inbound, JSON value

const writeTimeout = 10 * time.Second

// WriteHandler receives capability writes arriving on set topics.
type WriteHandler func(ctx context.Context, deviceID, capability string, value any) error

type Config struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
	UseTLS   bool   `yaml:"tls"`
}

func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	if c.Prefix == "" {
		c.Prefix = "duuxbridge"
	}
	if strings.ContainsAny(c.Prefix, "+#") {
		return fmt.Errorf("mqtt: prefix %q contains wildcards", c.Prefix)
	}
	return nil
}

// Adapter bridges the device engine to an MQTT broker. It implements
// device.Host.
type Adapter struct {
	client  mqtt.Client
	prefix  string
	onWrite WriteHandler
	log     zerolog.Logger
}

func New(cfg Config, onWrite WriteHandler, log zerolog.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Adapter{
		prefix:  cfg.Prefix,
		onWrite: onWrite,
		log:     log.With().Str("component", "mqtt").Logger(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(randomClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{})
	}
	// Re-establish the write subscription on every (re)connect.
	opts.OnConnect = func(client mqtt.Client) {
		topic := a.prefix + "/+/set/+"
		if token := client.Subscribe(topic, 0, a.handleSet); token.Wait() && token.Error() != nil {
			a.log.Error().Err(token.Error()).Str("topic", topic).Msg("subscribe failed")
			return
		}
		a.log.Info().Str("topic", topic).Msg("subscribed")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	a.client = client
	return a, nil
}

// Close disconnects from the broker.
func (a *Adapter) Close() {
	a.client.Disconnect(250)
}

func (a *Adapter) SetCapability(deviceID, capability string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		a.log.Error().Err(err).Str("capability", capability).Msg("marshal state")
		return
	}
	a.publish(a.stateTopic(deviceID, capability), payload, true)
}

func (a *Adapter) SetAvailable(deviceID string) {
	a.publish(a.availabilityTopic(deviceID), []byte("online"), true)
	a.publish(a.availabilityTopic(deviceID)+"/reason", []byte(""), true)
}

func (a *Adapter) SetUnavailable(deviceID, reason string) {
	a.publish(a.availabilityTopic(deviceID), []byte("offline"), true)
	a.publish(a.availabilityTopic(deviceID)+"/reason", []byte(reason), true)
}

func (a *Adapter) FireEvent(ev device.Event) {
	payload, err := json.Marshal(eventPayload{
		Event:      ev.Name(),
		Capability: ev.Capability,
		Enabled:    ev.Enabled,
	})
	if err != nil {
		a.log.Error().Err(err).Msg("marshal event")
		return
	}
	a.publish(a.prefix+"/"+ev.DeviceID+"/event", payload, false)
}

type eventPayload struct {
	Event      string `json:"event"`
	Capability string `json:"capability"`
	Enabled    bool   `json:"enabled"`
}

func (a *Adapter) publish(topic string, payload []byte, retain bool) {
	token := a.client.Publish(topic, 0, retain, payload)
	if token.Wait() && token.Error() != nil {
		a.log.Error().Err(token.Error()).Str("topic", topic).Msg("publish failed")
	}
}

func (a *Adapter) handleSet(_ mqtt.Client, msg mqtt.Message) {
	deviceID, capability, err := parseSetTopic(a.prefix, msg.Topic())
	if err != nil {
		a.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("bad set topic")
		return
	}
	value, err := decodeWriteValue(msg.Payload())
	if err != nil {
		a.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("bad set payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := a.onWrite(ctx, deviceID, capability, value); err != nil {
		a.log.Error().Err(err).Str("device", deviceID).Str("capability", capability).
			Msg("write rejected")
	}
}

func (a *Adapter) stateTopic(deviceID, capability string) string {
	return a.prefix + "/" + deviceID + "/state/" + capability
}

func (a *Adapter) availabilityTopic(deviceID string) string {
	return a.prefix + "/" + deviceID + "/availability"
}

// parseSetTopic extracts device id and capability from
// "<prefix>/<device>/set/<capability>".
func parseSetTopic(prefix, topic string) (deviceID, capability string, err error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", "", fmt.Errorf("topic outside prefix %q", prefix)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("malformed set topic %q", topic)
	}
	return parts[0], parts[2], nil
}

// decodeWriteValue accepts JSON bools, numbers and strings. A bare word
// that is not valid JSON is taken as a string, so `high` works as well
// as `"high"`.
func decodeWriteValue(payload []byte) (any, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil, fmt.Errorf("empty payload")
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return trimmed, nil
	}
	switch v.(type) {
	case bool, float64, string:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", v)
	}
}

func randomClientID() string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	return "duuxbridge-" + base64.RawURLEncoding.EncodeToString(nonce)
}
