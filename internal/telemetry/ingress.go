package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"heatingd/internal/devicestore"
	"heatingd/internal/metrics"
)

// Ingress subscribes every device's temperature_in (and optional alarm_in)
// topic and turns payloads into DeviceState mutations.
type Ingress struct {
	bus      Bus
	store    *devicestore.Store
	log      *slog.Logger
	clock    func() time.Time
	counters *metrics.Counters
}

func NewIngress(bus Bus, store *devicestore.Store, log *slog.Logger, counters *metrics.Counters) *Ingress {
	return &Ingress{bus: bus, store: store, log: log.With(slog.String("component", "telemetry-ingress")), clock: time.Now, counters: counters}
}

// Start subscribes to every device's telemetry topics. Call once at
// startup; resubscription on reconnect is handled by the underlying Bus.
func (in *Ingress) Start() error {
	for _, deviceID := range in.store.DeviceIDs() {
		cfg, err := in.store.Config(deviceID)
		if err != nil {
			continue
		}
		deviceID := deviceID
		if err := in.bus.Subscribe(cfg.TopicTemperatureIn, func(payload []byte) {
			in.handleTemperature(deviceID, payload)
		}); err != nil {
			return err
		}
		if cfg.TopicAlarmIn != "" {
			if err := in.bus.Subscribe(cfg.TopicAlarmIn, func(payload []byte) {
				in.handleAlarm(deviceID, payload)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (in *Ingress) handleTemperature(deviceID string, payload []byte) {
	text := strings.TrimSpace(string(payload))
	temp, err := strconv.ParseFloat(text, 64)
	if err != nil {
		in.log.Warn("dropping unparseable temperature payload", "device", deviceID, "payload", text, "error", err)
		return
	}
	nowMs := in.clock().UnixMilli()
	if _, err := in.store.Apply(deviceID, devicestore.MutateTelemetry(float32(temp), nowMs)); err != nil {
		in.log.Error("apply telemetry failed", "device", deviceID, "error", err)
		return
	}
	in.counters.IncTelemetryMessage()
}

func (in *Ingress) handleAlarm(deviceID string, payload []byte) {
	text := strings.TrimSpace(string(payload))
	active := text == "1" || strings.EqualFold(text, "true")
	if _, err := in.store.Apply(deviceID, devicestore.MutateAlarm(active)); err != nil {
		in.log.Error("apply alarm failed", "device", deviceID, "error", err)
	}
}

// RunHealthCheck periodically marks devices offline once their last reading
// is older than their configured stale threshold. It does not touch the
// TEMP_SENSOR_ERROR bit, computed independently by the regulator.
func (in *Ingress) RunHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := in.clock().UnixMilli()
			for _, deviceID := range in.store.DeviceIDs() {
				cfg, err := in.store.Config(deviceID)
				if err != nil || cfg.StaleThreshold <= 0 {
					continue
				}
				st, err := in.store.Read(deviceID)
				if err != nil {
					continue
				}
				if st.IsOnline && float64(now-st.LastTemperatureUpdateMs) > cfg.StaleThreshold*1000 {
					if _, err := in.store.Apply(deviceID, devicestore.MutateOffline()); err != nil {
						in.log.Error("apply offline failed", "device", deviceID, "error", err)
					}
				}
			}
		}
	}
}
