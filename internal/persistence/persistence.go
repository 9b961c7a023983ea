// Package persistence loads setpoints from the Settings Store at startup and
// writes them back on every successful SetTemperature command.
package persistence

import (
	"context"
	"log/slog"
	"strconv"

	"heatingd/internal/devicestore"
	"heatingd/internal/settings"
)

// LoadInitialSetpoints queries the Settings Store for every device's
// setpoint_temperature. Values outside [SetpointMin, SetpointMax] or absent
// are left at the store's default (20C); persistence failures are logged,
// never fatal.
func LoadInitialSetpoints(ctx context.Context, store *devicestore.Store, settingsStore settings.Store, log *slog.Logger) {
	for _, deviceID := range store.DeviceIDs() {
		cfg, err := store.Config(deviceID)
		if err != nil {
			continue
		}
		raw, ok, err := settingsStore.Get(ctx, deviceID, settings.SetpointKey)
		if err != nil {
			log.Warn("settings store unavailable at startup, using default setpoint", "device", deviceID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			log.Warn("stored setpoint unparseable, using default", "device", deviceID, "value", raw)
			continue
		}
		if val < cfg.SetpointMin || val > cfg.SetpointMax {
			log.Warn("stored setpoint out of range, using default", "device", deviceID, "value", val)
			continue
		}
		if _, err := store.Apply(deviceID, devicestore.MutateSetTemperature(float32(val))); err != nil {
			log.Warn("failed to apply restored setpoint", "device", deviceID, "error", err)
		}
	}
}

// PersistSetpoint writes a newly accepted setpoint back to the Settings
// Store. Failures are logged and never revert the in-memory value: the
// in-memory setpoint always wins over persistence errors.
func PersistSetpoint(ctx context.Context, settingsStore settings.Store, deviceID string, value float64, log *slog.Logger) {
	if err := settingsStore.Set(ctx, deviceID, settings.SetpointKey, strconv.FormatFloat(value, 'f', -1, 64)); err != nil {
		log.Warn("persistence error, in-memory setpoint wins", "device", deviceID, "error", err)
	}
}
