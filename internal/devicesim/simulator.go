// Package devicesim publishes synthetic temperature readings for a single
// heating controller and logs whatever fan/valve commands the daemon sends
// back, so the Modbus and telemetry paths can be exercised end to end
// without real field hardware.
package devicesim

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Simulator drives one simulated device: it publishes a drifting
// temperature reading on a timer and subscribes to its own actuator
// topics to report what the daemon commands.
type Simulator struct {
	deviceID string
	client   mqtt.Client
	log      *slog.Logger

	topicTemperatureIn string
	topicFanOut        string
	topicValveOut      string

	interval time.Duration
	ambient  float64
	current  float64

	ticker *time.Ticker
	quit   chan struct{}
}

// Config describes one simulated device's broker wiring.
type Config struct {
	DeviceID           string
	BrokerURL          string
	TopicTemperatureIn string
	TopicFanOut        string
	TopicValveOut      string
	Interval           time.Duration
	StartTemperature   float64
}

// New connects to the broker and returns a Simulator ready to Start.
func New(cfg Config, log *slog.Logger) (*Simulator, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	start := cfg.StartTemperature
	if start == 0 {
		start = 20.0
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.BrokerURL).SetClientID("devicesim-" + cfg.DeviceID)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("devicesim: connect %s: %w", cfg.DeviceID, token.Error())
	}

	s := &Simulator{
		deviceID:           cfg.DeviceID,
		client:             client,
		log:                log.With(slog.String("component", "devicesim"), slog.String("device", cfg.DeviceID)),
		topicTemperatureIn: cfg.TopicTemperatureIn,
		topicFanOut:        cfg.TopicFanOut,
		topicValveOut:      cfg.TopicValveOut,
		interval:           interval,
		ambient:            start,
		current:            start,
		quit:               make(chan struct{}),
	}

	if err := s.subscribeActuators(); err != nil {
		client.Disconnect(250)
		return nil, err
	}
	return s, nil
}

func (s *Simulator) subscribeActuators() error {
	if s.topicFanOut != "" {
		token := s.client.Subscribe(s.topicFanOut, 0, func(_ mqtt.Client, m mqtt.Message) {
			s.log.Info("fan command observed", "payload", string(m.Payload()))
		})
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("devicesim: subscribe fan topic: %w", token.Error())
		}
	}
	if s.topicValveOut != "" {
		token := s.client.Subscribe(s.topicValveOut, 0, func(_ mqtt.Client, m mqtt.Message) {
			s.log.Info("valve command observed", "payload", string(m.Payload()))
		})
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("devicesim: subscribe valve topic: %w", token.Error())
		}
	}
	return nil
}

// Start begins publishing readings at regular intervals until Stop is
// called. The reading wanders slowly around a baseline so the regulator
// under test sees realistic setpoint tracking rather than noise.
func (s *Simulator) Start() {
	s.ticker = time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-s.quit:
				return
			case <-s.ticker.C:
				s.current += (rand.Float64() - 0.5) * 0.4
				s.current = clamp(s.current, s.ambient-8, s.ambient+8)
				payload := fmt.Sprintf("%.2f", math.Round(s.current*100)/100)
				token := s.client.Publish(s.topicTemperatureIn, 0, false, payload)
				if token.Wait(); token.Error() != nil {
					s.log.Warn("publish failed", "error", token.Error())
					continue
				}
				s.log.Debug("published temperature", "value", payload)
			}
		}
	}()
}

// Stop halts publication and disconnects from the broker.
func (s *Simulator) Stop() {
	close(s.quit)
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.client.Disconnect(250)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
