package registerplane

import (
	"context"
	"log/slog"
	"time"

	"heatingd/internal/devicestore"
)

// Reflector keeps a Plane in sync with a Store: every committed mutation
// re-encodes the affected device's full slice, and a periodic sweep
// re-encodes every device to bound staleness from any dropped event (the
// event bus is a non-blocking, drop-on-full fan-out).
type Reflector struct {
	store *devicestore.Store
	plane *Plane
	log   *slog.Logger
}

func NewReflector(store *devicestore.Store, plane *Plane, log *slog.Logger) *Reflector {
	return &Reflector{store: store, plane: plane, log: log.With(slog.String("component", "registerplane-reflector"))}
}

// Sync re-encodes a single device's slice immediately. Exported so the
// Modbus write path can reflect its own writes synchronously instead of
// waiting for the next event delivery or sweep.
func (r *Reflector) Sync(deviceID string) {
	cfg, err := r.store.Config(deviceID)
	if err != nil {
		return
	}
	st, err := r.store.Read(deviceID)
	if err != nil {
		return
	}
	if err := r.plane.SetHolding(cfg.UnitID, EncodeHolding(cfg, st)); err != nil {
		r.log.Error("set holding failed", "device", deviceID, "error", err)
	}
	if err := r.plane.SetInput(cfg.UnitID, EncodeInput(cfg, st)); err != nil {
		r.log.Error("set input failed", "device", deviceID, "error", err)
	}
	if err := r.plane.SetCoils(cfg.UnitID, EncodeCoils(st)); err != nil {
		r.log.Error("set coils failed", "device", deviceID, "error", err)
	}
	if err := r.plane.SetDiscrete(cfg.UnitID, EncodeDiscrete(cfg, st)); err != nil {
		r.log.Error("set discrete failed", "device", deviceID, "error", err)
	}
}

// SyncAll re-encodes every configured device. Call once at startup so the
// plane is populated before the slave accepts connections.
func (r *Reflector) SyncAll() {
	for _, deviceID := range r.store.DeviceIDs() {
		r.Sync(deviceID)
	}
}

// Run consumes the store's event stream and periodically sweeps every
// device, until ctx is cancelled.
func (r *Reflector) Run(ctx context.Context, sweepInterval time.Duration) {
	events := r.store.Subscribe(64)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			r.Sync(ev.DeviceID)
		case <-ticker.C:
			r.SyncAll()
		}
	}
}
