package telemetry

import (
	"fmt"

	"heatingd/internal/devicestore"
)

// Egress implements regulator.ActuatorPublisher against the telemetry bus:
// fan 0..100, valve 1 or 0, as plain decimal payloads.
type Egress struct {
	bus Bus
}

func NewEgress(bus Bus) *Egress {
	return &Egress{bus: bus}
}

func (e *Egress) PublishFan(cfg devicestore.DeviceConfig, percent float64) error {
	return e.bus.Publish(cfg.TopicFanOut, []byte(fmt.Sprintf("%d", int(percent+0.5))))
}

func (e *Egress) PublishValve(cfg devicestore.DeviceConfig, open bool) error {
	v := "0"
	if open {
		v = "1"
	}
	return e.bus.Publish(cfg.TopicValveOut, []byte(v))
}
