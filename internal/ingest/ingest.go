// Package ingest bridges an MQTT telemetry feed onto the observation
// bus. Topics follow
//
//	<prefix>/<vin>/<signal>
//	<prefix>/<vin>/drive/<idx>/<signal>
//
// with a JSON payload carrying the value and its timestamps.
package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/drivelog-data/drivelog/internal/monitoring"
	"github.com/drivelog-data/drivelog/internal/telemetry"
)

// DefaultTopicPrefix is the topic root used when the config does not
// override it.
const DefaultTopicPrefix = "drivelog"

// Listener is a connected MQTT subscription feeding the bus.
type Listener struct {
	client mqtt.Client
	bus    *telemetry.Bus
	prefix string
}

// Start connects to the broker and subscribes to the telemetry topics.
func Start(broker, prefix string, bus *telemetry.Bus) (*Listener, error) {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	l := &Listener{bus: bus, prefix: prefix}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("drivelog-ingest").
		SetAutoReconnect(true).
		SetOrderMatters(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			topic := prefix + "/#"
			if token := c.Subscribe(topic, 1, l.onMessage); token.Wait() && token.Error() != nil {
				monitoring.Logf("[Ingest] failed to subscribe to %s: %v", topic, token.Error())
				return
			}
			monitoring.Logf("[Ingest] subscribed to %s", topic)
		})

	l.client = mqtt.NewClient(opts)
	if token := l.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", broker, token.Error())
	}
	return l, nil
}

// Stop disconnects from the broker.
func (l *Listener) Stop() {
	l.client.Disconnect(250)
}

func (l *Listener) onMessage(_ mqtt.Client, msg mqtt.Message) {
	obs, err := ParseMessage(l.prefix, msg.Topic(), msg.Payload())
	if err != nil {
		monitoring.Logf("[Ingest] dropping message on %s: %v", msg.Topic(), err)
		return
	}
	l.bus.Publish(obs)
}

// payload is the wire form of one observation.
type payload struct {
	Value       json.RawMessage `json:"value"`
	Enabled     *bool           `json:"enabled"`
	LastChanged *time.Time      `json:"last_changed"`
	LastUpdated *time.Time      `json:"last_updated"`
}

// ParseMessage decodes one MQTT message into an observation.
func ParseMessage(prefix, topic string, body []byte) (telemetry.Observation, error) {
	var obs telemetry.Observation

	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return obs, fmt.Errorf("topic %q outside prefix %q", topic, prefix)
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 2:
		obs.Entity = telemetry.Vehicle(parts[0])
		obs.Signal = telemetry.Signal(parts[1])
	case len(parts) == 4 && parts[1] == "drive":
		idx, err := strconv.Atoi(parts[2])
		if err != nil || idx < 0 {
			return obs, fmt.Errorf("bad drive index %q in topic %q", parts[2], topic)
		}
		obs.Entity = telemetry.Drive(parts[0], idx)
		obs.Signal = telemetry.Signal(parts[3])
	default:
		return obs, fmt.Errorf("unrecognized topic %q", topic)
	}
	if obs.Entity.VIN == "" || obs.Signal == "" {
		return obs, fmt.Errorf("empty VIN or signal in topic %q", topic)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return obs, fmt.Errorf("bad payload: %w", err)
	}

	obs.Enabled = p.Enabled == nil || *p.Enabled
	obs.ChangedAt = normalize(p.LastChanged)
	obs.ObservedAt = normalize(p.LastUpdated)

	var num float64
	if err := json.Unmarshal(p.Value, &num); err == nil {
		obs.Value = telemetry.Number(num)
		return obs, nil
	}
	var text string
	if err := json.Unmarshal(p.Value, &text); err == nil {
		obs.Value = telemetry.Text(text)
		return obs, nil
	}
	return obs, fmt.Errorf("value %s is neither number nor string", p.Value)
}

func normalize(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
