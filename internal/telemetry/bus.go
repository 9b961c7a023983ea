// Package telemetry adapts the external Telemetry Bus Adapter (a pub/sub
// transport addressed by string topics, delivering byte-string payloads) to
// the device store: parsing inbound temperature readings and publishing
// outbound fan/valve actuation commands.
package telemetry

import (
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Bus is the narrow subscribe/publish contract the rest of this package
// needs from the telemetry transport. MQTTBus implements it against a real
// broker; tests substitute a fake.
type Bus interface {
	Subscribe(topic string, handler func(payload []byte)) error
	Publish(topic string, payload []byte) error
	Connected() bool
}

// MQTTBus is the production Bus, backed by Eclipse Paho, the same client
// the device simulator in the example fleet uses to publish sensor
// readings.
type MQTTBus struct {
	client mqtt.Client
	log    *slog.Logger

	// subsMu guards subs: Subscribe is called from caller goroutines while
	// SetOnConnectHandler's callback runs on Paho's own connection
	// goroutine, and both read/write the map on reconnect.
	subsMu sync.Mutex
	subs   map[string]func(payload []byte)
}

// NewMQTTBus connects to brokerURL and returns a Bus that replays every
// subscription registered through Subscribe whenever the connection is
// reestablished.
func NewMQTTBus(brokerURL, clientID string, log *slog.Logger) (*MQTTBus, error) {
	b := &MQTTBus{
		log:  log.With(slog.String("component", "telemetry-bus")),
		subs: make(map[string]func(payload []byte)),
	}
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Warn("telemetry bus disconnected", "error", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			b.subsMu.Lock()
			snapshot := make(map[string]func(payload []byte), len(b.subs))
			for topic, handler := range b.subs {
				snapshot[topic] = handler
			}
			b.subsMu.Unlock()

			b.log.Info("telemetry bus connected, replaying subscriptions", "count", len(snapshot))
			for topic, handler := range snapshot {
				if err := b.subscribeNow(c, topic, handler); err != nil {
					b.log.Error("resubscribe failed", "topic", topic, "error", err)
				}
			}
		})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("telemetry: connect %s: %w", brokerURL, token.Error())
	}
	return b, nil
}

func (b *MQTTBus) subscribeNow(client mqtt.Client, topic string, handler func(payload []byte)) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// Subscribe registers a handler for topic and remembers it so it can be
// replayed after a reconnect.
func (b *MQTTBus) Subscribe(topic string, handler func(payload []byte)) error {
	b.subsMu.Lock()
	b.subs[topic] = handler
	b.subsMu.Unlock()
	return b.subscribeNow(b.client, topic, handler)
}

func (b *MQTTBus) Publish(topic string, payload []byte) error {
	token := b.client.Publish(topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

func (b *MQTTBus) Connected() bool { return b.client.IsConnected() }

func (b *MQTTBus) Close() {
	b.client.Disconnect(250)
}
