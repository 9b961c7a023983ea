// Package regulator implements the per-device 1 Hz closed-loop temperature
// controller: PID with anti-windup and hysteresis, the seasonal valve
// policy, and the overheat/freeze safety interlocks.
package regulator

import (
	"context"
	"log/slog"
	"math"
	"time"

	"heatingd/internal/devicestore"
	"heatingd/internal/metrics"
)

// ActuatorPublisher is the outbound half of the telemetry bus: it carries
// fan and valve commands to the physical controller. Implemented by
// internal/telemetry against the MQTT broker.
type ActuatorPublisher interface {
	PublishFan(cfg devicestore.DeviceConfig, percent float64) error
	PublishValve(cfg devicestore.DeviceConfig, open bool) error
}

// Regulator owns the 1 Hz tick for every device in the store.
type Regulator struct {
	store     *devicestore.Store
	publisher ActuatorPublisher
	clock     Clock
	log       *slog.Logger
	counters  *metrics.Counters
}

func New(store *devicestore.Store, publisher ActuatorPublisher, clock Clock, log *slog.Logger, counters *metrics.Counters) *Regulator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Regulator{store: store, publisher: publisher, clock: clock, log: log.With(slog.String("component", "regulator")), counters: counters}
}

type tickOutcome struct {
	fanToPublish   *float64
	valveToPublish *bool
}

// Tick runs one iteration of the control loop for a single device. Safety
// trips are evaluated unconditionally; the PID computation and valve
// scheduling only run while auto_enabled and not emergency_stop.
func (r *Regulator) Tick(deviceID string) error {
	now := r.clock.Now()
	nowMs := now.UnixMilli()
	month := now.Month()

	outcome, events, err := applyTick(r.store, deviceID, nowMs, month)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.Kind == devicestore.Emergency {
			r.log.Warn("emergency stop tripped", "device", deviceID)
		}
	}

	cfg, cfgErr := r.store.Config(deviceID)
	if cfgErr != nil {
		return cfgErr
	}
	if outcome.fanToPublish != nil && r.publisher != nil {
		if err := r.publisher.PublishFan(cfg, *outcome.fanToPublish); err != nil {
			r.log.Warn("fan publish failed, will reassert next tick", "device", deviceID, "error", err)
		}
	}
	if outcome.valveToPublish != nil && r.publisher != nil {
		if err := r.publisher.PublishValve(cfg, *outcome.valveToPublish); err != nil {
			r.log.Warn("valve publish failed", "device", deviceID, "error", err)
		}
	}
	r.counters.IncTick()
	return nil
}

func applyTick(store *devicestore.Store, deviceID string, nowMs int64, month time.Month) (tickOutcome, []devicestore.Event, error) {
	type result struct {
		outcome tickOutcome
		events  []devicestore.Event
	}
	res, err := devicestore.ApplyFunc(store, deviceID, func(cfg devicestore.DeviceConfig, st *devicestore.DeviceState) (result, []devicestore.Event) {
		var o tickOutcome
		var events []devicestore.Event

		stale := cfg.StaleThreshold > 0 && float64(nowMs-st.LastTemperatureUpdateMs) > cfg.StaleThreshold*1000
		st.TempSensorErr = stale

		// Safety trips, evaluated every tick regardless of auto_enabled, and
		// take precedence over the PID/valve-schedule block below: both
		// branches return immediately so the forced fan/valve state can
		// never be recomputed and overwritten by the PID or by
		// SeasonalValve afterward.
		if float64(st.CurrentTemperature) > cfg.OverheatLimit {
			if !st.EmergencyStop {
				st.EmergencyStop = true
				st.AutoEnabled = false
				st.IsWorking = false
				st.FanOutput = 0
				st.PidOutput = 0
				st.ValveState = devicestore.ValveClosed
				events = append(events, devicestore.Event{Kind: devicestore.Emergency})
				f, v := 0.0, false
				o.fanToPublish, o.valveToPublish = &f, &v
			}
			return result{o, events}, events
		}
		if float64(st.CurrentTemperature) < cfg.FreezeLimit {
			if st.FanOutput != float32(cfg.OutMax) {
				st.FanOutput = float32(cfg.OutMax)
				st.PidOutput = float32(cfg.OutMax)
				f := cfg.OutMax
				o.fanToPublish = &f
			}
			if st.ValveState != devicestore.ValveOpen {
				st.ValveState = devicestore.ValveOpen
				v := true
				o.valveToPublish = &v
				events = append(events, devicestore.Event{Kind: devicestore.ValveChanged})
			}
			st.IsWorking = st.FanOutput > 0
			return result{o, events}, events
		}

		if !st.AutoEnabled || st.EmergencyStop {
			return result{o, events}, events
		}

		T := float64(st.CurrentTemperature)
		S := float64(st.SetpointTemperature)
		e := S - T

		if st.IsWorking && e < 0 && -e <= cfg.Hysteresis {
			e = 0
		}

		st.Integral += e
		if e < 0 {
			decay := cfg.IntegralDecay
			if decay == 0 {
				decay = 0.95
			}
			st.Integral = math.Max(0, st.Integral*decay)
		}
		d := e - st.PrevError
		u := cfg.Kp*e + cfg.Ki*st.Integral + cfg.Kd*d
		if u < cfg.OutMin {
			u = cfg.OutMin
		}
		if u > cfg.OutMax {
			u = cfg.OutMax
		}

		var fanCmd float64
		if u < cfg.MinOutputThreshold {
			fanCmd = 0
		} else {
			fanCmd = u
		}
		// The fan command is republished on every auto tick, so a failed
		// publish is reasserted on the next one.
		f := fanCmd
		o.fanToPublish = &f
		st.FanOutput = float32(fanCmd)
		st.PidOutput = float32(u)

		target := SeasonalValve(month, u)
		if target != st.ValveState {
			st.ValveState = target
			v := target.Bool()
			o.valveToPublish = &v
			events = append(events, devicestore.Event{Kind: devicestore.ValveChanged})
		}

		st.IsWorking = st.FanOutput > 0
		st.PrevError = e
		st.LastTickMs = nowMs

		events = append(events, devicestore.Event{Kind: devicestore.PidTick})
		return result{o, events}, events
	})
	if err != nil {
		return tickOutcome{}, nil, err
	}
	return res.outcome, res.events, nil
}

// StartupSweep applies the seasonal valve policy once, unconditionally, to
// every device — independent of auto_enabled and of the regulator schedule.
func (r *Regulator) StartupSweep(ctx context.Context) {
	month := r.clock.Now().Month()
	for _, deviceID := range r.store.DeviceIDs() {
		deviceID := deviceID
		type sweepResult struct {
			target  devicestore.ValveState
			changed bool
		}
		res, err := devicestore.ApplyFunc(r.store, deviceID, func(cfg devicestore.DeviceConfig, st *devicestore.DeviceState) (sweepResult, []devicestore.Event) {
			target := SeasonalValve(month, float64(st.PidOutput))
			var events []devicestore.Event
			changed := target != st.ValveState
			if changed {
				st.ValveState = target
				events = append(events, devicestore.Event{Kind: devicestore.ValveChanged})
			}
			return sweepResult{target: target, changed: changed}, events
		})
		if err != nil {
			continue
		}
		if res.changed && r.publisher != nil {
			cfg, cfgErr := r.store.Config(deviceID)
			if cfgErr == nil {
				if err := r.publisher.PublishValve(cfg, res.target.Bool()); err != nil {
					r.log.Warn("startup valve publish failed", "device", deviceID, "error", err)
				}
			}
		}
	}
}

// Run drives Tick for every device once per interval (1 Hz, per the
// regulator's defined schedule) until ctx is cancelled. It completes the
// in-flight tick before exiting, per spec.md's shutdown contract for the
// regulator task.
func (r *Regulator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, deviceID := range r.store.DeviceIDs() {
				if err := r.Tick(deviceID); err != nil {
					r.log.Error("tick failed", "device", deviceID, "error", err)
				}
			}
		}
	}
}
