package commandbus

import "errors"

// ErrInvalidArgument covers out-of-range setpoints/fan speeds and unknown
// command kinds; the source is told, state is left unchanged.
var ErrInvalidArgument = errors.New("commandbus: invalid argument")

// ErrUnknownDevice is returned when a command addresses a device_id absent
// from the registry.
var ErrUnknownDevice = errors.New("commandbus: unknown device")
