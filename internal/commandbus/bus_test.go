package commandbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"heatingd/internal/devicestore"
	"heatingd/internal/settings"
)

type fakePublisher struct {
	fanPercent map[string]float64
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{fanPercent: map[string]float64{}}
}

func (f *fakePublisher) PublishFan(cfg devicestore.DeviceConfig, percent float64) error {
	f.fanPercent[cfg.DeviceID] = percent
	return nil
}

func newTestBus(t *testing.T) (*Bus, *devicestore.Store, context.CancelFunc) {
	bus, _, store, cancel := newTestBusWithPublisher(t)
	return bus, store, cancel
}

func newTestBusWithPublisher(t *testing.T) (*Bus, *fakePublisher, *devicestore.Store, context.CancelFunc) {
	t.Helper()
	store, err := devicestore.New(map[string]devicestore.DeviceConfig{
		"boiler-1": {DeviceID: "boiler-1", UnitID: 1, SetpointMin: 5, SetpointMax: 35},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := newFakePublisher()
	bus := New(store, settings.NewMemoryStore(), pub, log, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)
	return bus, pub, store, cancel
}

func TestSetTemperatureValidation(t *testing.T) {
	bus, _, cancel := newTestBus(t)
	defer cancel()
	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()

	err := bus.Submit(ctx, Command{DeviceID: "boiler-1", Kind: SetTemperature, Temperature: 40})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	if err := bus.Submit(ctx, Command{DeviceID: "boiler-1", Kind: SetTemperature, Temperature: 22.5}); err != nil {
		t.Fatalf("valid setpoint rejected: %v", err)
	}
}

func TestSetTemperaturePersists(t *testing.T) {
	bus, _, cancel := newTestBus(t)
	defer cancel()
	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()

	if err := bus.Submit(ctx, Command{DeviceID: "boiler-1", Kind: SetTemperature, Temperature: 23}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	v, ok, err := bus.settings.Get(ctx, "boiler-1", settings.SetpointKey)
	if err != nil || !ok || v != "23" {
		t.Fatalf("expected persisted setpoint 23, got %q ok=%v err=%v", v, ok, err)
	}
}

func TestUnknownDevice(t *testing.T) {
	bus, _, cancel := newTestBus(t)
	defer cancel()
	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()

	err := bus.Submit(ctx, Command{DeviceID: "nope", Kind: EnableAuto})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestEmergencyStopCommand(t *testing.T) {
	bus, store, cancel := newTestBus(t)
	defer cancel()
	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()

	if err := bus.Submit(ctx, Command{DeviceID: "boiler-1", Kind: EnableAuto}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := bus.Submit(ctx, Command{DeviceID: "boiler-1", Kind: EmergencyStop}); err != nil {
		t.Fatalf("estop: %v", err)
	}
	st, _ := store.Read("boiler-1")
	if !st.EmergencyStop || st.AutoEnabled {
		t.Fatalf("emergency stop not applied: %+v", st)
	}
}

func TestSetFanSpeedPublishesRegardlessOfAuto(t *testing.T) {
	bus, pub, store, cancel := newTestBusWithPublisher(t)
	defer cancel()
	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()

	// auto_enabled is false by default; spec.md §4.5 requires SetFanSpeed to
	// reach the actuator directly and leave auto_enabled untouched.
	if err := bus.Submit(ctx, Command{DeviceID: "boiler-1", Kind: SetFanSpeed, FanSpeed: 42}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := pub.fanPercent["boiler-1"]; got != 42 {
		t.Fatalf("fan publish = %v, want 42", got)
	}
	st, _ := store.Read("boiler-1")
	if st.AutoEnabled {
		t.Fatalf("SetFanSpeed must not enable auto")
	}
	if float64(st.FanOutput) != 42 {
		t.Fatalf("shadow FanOutput = %v, want 42", st.FanOutput)
	}
}
