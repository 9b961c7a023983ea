package commandbus

import (
	"context"
	"fmt"
	"log/slog"

	"heatingd/internal/devicestore"
	"heatingd/internal/metrics"
	"heatingd/internal/persistence"
	"heatingd/internal/settings"
)

type envelope struct {
	cmd  Command
	resp chan error
}

// ActuatorPublisher is the outbound half of the telemetry bus. SetFanSpeed
// must reach the physical actuator directly, regardless of auto_enabled
// (spec.md §4.5: "Publish fan value directly, update shadows" — it does
// not change auto_enabled, so the regulator's own republish-while-auto
// path cannot be relied on to deliver it).
type ActuatorPublisher interface {
	PublishFan(cfg devicestore.DeviceConfig, percent float64) error
}

// Bus is the single in-process MPSC queue through which every command
// source — Modbus, the HTTP/WS façade, and internal callers — funnels
// mutations. A single consumer goroutine applies commands, so per-device
// handling is naturally serialized without needing to hold the device lock
// across sources.
type Bus struct {
	store     *devicestore.Store
	settings  settings.Store
	publisher ActuatorPublisher
	log       *slog.Logger
	queue     chan envelope
	counters  *metrics.Counters
}

func New(store *devicestore.Store, settingsStore settings.Store, publisher ActuatorPublisher, log *slog.Logger, queueSize int, counters *metrics.Counters) *Bus {
	return &Bus{
		store:     store,
		settings:  settingsStore,
		publisher: publisher,
		log:       log.With(slog.String("component", "commandbus")),
		queue:     make(chan envelope, queueSize),
		counters:  counters,
	}
}

// Run is the single consumer of the command queue; it must be started
// exactly once before Submit is called.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.queue:
			err := b.dispatch(ctx, e.cmd)
			if err == nil {
				b.counters.IncCommandApplied()
			}
			e.resp <- err
		}
	}
}

// Submit enqueues a command and blocks until it has been applied (or
// rejected). Validation failures are returned to the caller so Modbus can
// map them to an exception code and HTTP/WS can surface them to the user.
func (b *Bus) Submit(ctx context.Context, cmd Command) error {
	resp := make(chan error, 1)
	select {
	case b.queue <- envelope{cmd: cmd, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) dispatch(ctx context.Context, cmd Command) error {
	cfg, err := b.store.Config(cmd.DeviceID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, cmd.DeviceID)
	}

	switch cmd.Kind {
	case EnableAuto:
		_, err := b.store.Apply(cmd.DeviceID, devicestore.MutateEnableAuto())
		return err

	case DisableAuto:
		_, err := b.store.Apply(cmd.DeviceID, devicestore.MutateDisableAuto())
		return err

	case SetTemperature:
		if cmd.Temperature < cfg.SetpointMin || cmd.Temperature > cfg.SetpointMax {
			return fmt.Errorf("%w: setpoint %.2f outside [%.1f, %.1f]", ErrInvalidArgument, cmd.Temperature, cfg.SetpointMin, cfg.SetpointMax)
		}
		if _, err := b.store.Apply(cmd.DeviceID, devicestore.MutateSetTemperature(float32(cmd.Temperature))); err != nil {
			return err
		}
		if b.settings != nil {
			persistence.PersistSetpoint(ctx, b.settings, cmd.DeviceID, cmd.Temperature, b.log)
		}
		return nil

	case SetFanSpeed:
		if cmd.FanSpeed < 0 || cmd.FanSpeed > 100 {
			return fmt.Errorf("%w: fan speed %.2f outside [0, 100]", ErrInvalidArgument, cmd.FanSpeed)
		}
		if _, err := b.store.Apply(cmd.DeviceID, devicestore.MutateFanSpeed(float32(cmd.FanSpeed))); err != nil {
			return err
		}
		if b.publisher != nil {
			if err := b.publisher.PublishFan(cfg, cmd.FanSpeed); err != nil {
				b.log.Warn("fan publish failed", "device", cmd.DeviceID, "error", err)
			}
		}
		return nil

	case EmergencyStop:
		_, err := b.store.Apply(cmd.DeviceID, devicestore.MutateEmergencyStop())
		return err

	case ResetEmergency:
		_, err := b.store.Apply(cmd.DeviceID, devicestore.MutateResetEmergency())
		return err

	default:
		return fmt.Errorf("%w: unknown command kind %v", ErrInvalidArgument, cmd.Kind)
	}
}
