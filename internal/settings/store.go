// Package settings defines the external Settings Store contract. The real
// store is a SQL-backed key/value service outside this module's scope;
// heatingd only needs the narrow get/set contract below, used exclusively
// for the persisted setpoint_temperature.
package settings

import "context"

// Store is the minimal contract spec.md assigns to the external Settings
// Store: durable key/value over (device_id, key) -> string.
type Store interface {
	Get(ctx context.Context, deviceID, key string) (value string, ok bool, err error)
	Set(ctx context.Context, deviceID, key, value string) error
}

// SetpointKey is the only key the core reads and writes.
const SetpointKey = "setpoint_temperature"
