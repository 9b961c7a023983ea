package regulator

import (
	"log/slog"
	"io"
	"sync"
	"testing"
	"time"

	"heatingd/internal/devicestore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu    sync.Mutex
	fans  map[string][]float64
	valve map[string][]bool
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{fans: map[string][]float64{}, valve: map[string][]bool{}}
}

func (p *recordingPublisher) PublishFan(cfg devicestore.DeviceConfig, percent float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fans[cfg.DeviceID] = append(p.fans[cfg.DeviceID], percent)
	return nil
}

func (p *recordingPublisher) PublishValve(cfg devicestore.DeviceConfig, open bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.valve[cfg.DeviceID] = append(p.valve[cfg.DeviceID], open)
	return nil
}

func testCfg() devicestore.DeviceConfig {
	return devicestore.DeviceConfig{
		DeviceID: "boiler-1", UnitID: 1,
		Kp: 10, Ki: 0.5, Kd: 0, OutMin: 0, OutMax: 100,
		FreezeLimit: 2, OverheatLimit: 35, Hysteresis: 0.5,
		MinOutputThreshold: 15, IntegralDecay: 0.95,
		SetpointMin: 5, SetpointMax: 35, StaleThreshold: 30,
	}
}

func newTestRegulator(t *testing.T, cfg devicestore.DeviceConfig, pub ActuatorPublisher, clock Clock) (*Regulator, *devicestore.Store) {
	t.Helper()
	store, err := devicestore.New(map[string]devicestore.DeviceConfig{cfg.DeviceID: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, pub, clock, log, nil), store
}

func TestOverheatTripsEmergency(t *testing.T) {
	cfg := testCfg()
	clock := &fakeClock{now: time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)}
	pub := newRecordingPublisher()
	reg, store := newTestRegulator(t, cfg, pub, clock)

	if _, err := store.Apply(cfg.DeviceID, devicestore.MutateEnableAuto()); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := store.Apply(cfg.DeviceID, devicestore.MutateTelemetry(36.0, 0)); err != nil {
		t.Fatalf("telemetry: %v", err)
	}

	if err := reg.Tick(cfg.DeviceID); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	st, _ := store.Read(cfg.DeviceID)
	if !st.EmergencyStop || st.AutoEnabled || st.FanOutput != 0 || st.ValveState != devicestore.ValveClosed {
		t.Fatalf("expected emergency trip, got %+v", st)
	}
	if len(pub.fans[cfg.DeviceID]) == 0 || pub.fans[cfg.DeviceID][len(pub.fans[cfg.DeviceID])-1] != 0 {
		t.Fatalf("expected fan publish 0 on trip, got %v", pub.fans[cfg.DeviceID])
	}
}

func TestFreezeProtectionDoesNotTripEmergency(t *testing.T) {
	cfg := testCfg()
	clock := &fakeClock{now: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)}
	pub := newRecordingPublisher()
	reg, store := newTestRegulator(t, cfg, pub, clock)

	if _, err := store.Apply(cfg.DeviceID, devicestore.MutateTelemetry(1.0, 0)); err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	if err := reg.Tick(cfg.DeviceID); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	st, _ := store.Read(cfg.DeviceID)
	if st.EmergencyStop {
		t.Fatalf("freeze protection must not trip emergency stop")
	}
	if st.FanOutput != float32(cfg.OutMax) || st.ValveState != devicestore.ValveOpen {
		t.Fatalf("expected max fan and open valve under freeze, got %+v", st)
	}
}

func TestFreezeProtectionOverridesPIDWhenAutoEnabled(t *testing.T) {
	cfg := testCfg()
	// July: SeasonalValve would otherwise force the valve closed for any
	// PID output, which must not be allowed to undo freeze protection.
	clock := &fakeClock{now: time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)}
	pub := newRecordingPublisher()
	reg, store := newTestRegulator(t, cfg, pub, clock)

	if _, err := store.Apply(cfg.DeviceID, devicestore.MutateEnableAuto()); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := store.Apply(cfg.DeviceID, devicestore.MutateTelemetry(1.0, 0)); err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	if err := reg.Tick(cfg.DeviceID); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	st, _ := store.Read(cfg.DeviceID)
	if st.EmergencyStop {
		t.Fatalf("freeze protection must not trip emergency stop")
	}
	if st.FanOutput != float32(cfg.OutMax) {
		t.Fatalf("expected fan forced to max under freeze even with auto enabled, got %v", st.FanOutput)
	}
	if st.ValveState != devicestore.ValveOpen {
		t.Fatalf("expected valve forced open under freeze regardless of seasonal policy, got %v", st.ValveState)
	}
	if got := pub.valve[cfg.DeviceID]; len(got) == 0 || !got[len(got)-1] {
		t.Fatalf("expected valve-open publish under freeze, got %v", got)
	}
}

func TestMinimumOutputThresholdForcesZero(t *testing.T) {
	cfg := testCfg()
	clock := &fakeClock{now: time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)}
	pub := newRecordingPublisher()
	reg, store := newTestRegulator(t, cfg, pub, clock)

	if _, err := store.Apply(cfg.DeviceID, devicestore.MutateEnableAuto()); err != nil {
		t.Fatalf("enable: %v", err)
	}
	// error of 1 degree: Kp*e + Ki*I = 10 + 0.5 => u=10.5, below MinOutputThreshold=15
	if _, err := store.Apply(cfg.DeviceID, devicestore.MutateTelemetry(19.0, 0)); err != nil {
		t.Fatalf("telemetry: %v", err)
	}
	if err := reg.Tick(cfg.DeviceID); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	st, _ := store.Read(cfg.DeviceID)
	if st.FanOutput != 0 {
		t.Fatalf("expected fan output clamped to 0 below min threshold, got %v", st.FanOutput)
	}
	if st.IsWorking {
		t.Fatalf("is_working must be false when fan output is 0")
	}
}

func TestHysteresisHoldsWhileWorking(t *testing.T) {
	cfg := testCfg()
	cfg.Kp, cfg.Ki = 30, 0
	clock := &fakeClock{now: time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)}
	pub := newRecordingPublisher()
	reg, store := newTestRegulator(t, cfg, pub, clock)

	if _, err := store.Apply(cfg.DeviceID, devicestore.MutateEnableAuto()); err != nil {
		t.Fatalf("enable: %v", err)
	}
	// Push temperature below setpoint so regulator is working.
	store.Apply(cfg.DeviceID, devicestore.MutateTelemetry(15.0, 0))
	if err := reg.Tick(cfg.DeviceID); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	st, _ := store.Read(cfg.DeviceID)
	if !st.IsWorking {
		t.Fatalf("expected working after large negative error")
	}

	// Now temperature slightly above setpoint but within hysteresis (0.5).
	store.Apply(cfg.DeviceID, devicestore.MutateTelemetry(20.2, 0))
	if err := reg.Tick(cfg.DeviceID); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	st2, _ := store.Read(cfg.DeviceID)
	if !st2.IsWorking {
		t.Fatalf("expected to stay working within hysteresis band, got %+v", st2)
	}
}

func TestStartupSweepAppliesSeasonalPolicyUnconditionally(t *testing.T) {
	cfg := testCfg()
	clock := &fakeClock{now: time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC)}
	pub := newRecordingPublisher()
	reg, store := newTestRegulator(t, cfg, pub, clock)

	reg.StartupSweep(nil)
	st, _ := store.Read(cfg.DeviceID)
	if st.ValveState != devicestore.ValveOpen {
		t.Fatalf("expected winter startup sweep to force valve open, got %v", st.ValveState)
	}
}
