package devicestore

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownDevice is returned when an operation references a device_id that
// is not present in the registry.
var ErrUnknownDevice = errors.New("devicestore: unknown device id")

// ErrUnknownUnit is returned when a Modbus-derived unit id has no mapped device.
var ErrUnknownUnit = errors.New("devicestore: unknown unit id")

type entry struct {
	cfg   DeviceConfig
	mu    sync.Mutex
	state DeviceState
}

// Store is the sole owner of the DeviceState table, indexed by both
// device_id and unit_id. Each entry is guarded by its own mutex; there is no
// global lock across devices.
type Store struct {
	byID   map[string]*entry
	byUnit map[uint8]string

	subMu sync.Mutex
	subs  []chan Event
}

// New builds a Store from the static device registry. Setpoints default to
// 20C per spec; callers typically overwrite from the Settings Store right
// after construction via Apply(SetTemperature).
func New(registry map[string]DeviceConfig) (*Store, error) {
	s := &Store{
		byID:   make(map[string]*entry, len(registry)),
		byUnit: make(map[uint8]string, len(registry)),
	}
	for id, cfg := range registry {
		if _, dup := s.byUnit[cfg.UnitID]; dup {
			return nil, fmt.Errorf("devicestore: duplicate unit id %d", cfg.UnitID)
		}
		s.byUnit[cfg.UnitID] = id
		s.byID[id] = &entry{
			cfg: cfg,
			state: DeviceState{
				SetpointTemperature: 20,
				ValveState:          ValveClosed,
			},
		}
	}
	return s, nil
}

// DeviceIDs returns the registry's device ids in no particular order.
func (s *Store) DeviceIDs() []string {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	return ids
}

// Config returns the immutable config for a device.
func (s *Store) Config(deviceID string) (DeviceConfig, error) {
	e, ok := s.byID[deviceID]
	if !ok {
		return DeviceConfig{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return e.cfg, nil
}

// DeviceIDForUnit resolves the device owning a Modbus unit id.
func (s *Store) DeviceIDForUnit(unitID uint8) (string, error) {
	id, ok := s.byUnit[unitID]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownUnit, unitID)
	}
	return id, nil
}

// Read returns a consistent snapshot of a device's state.
func (s *Store) Read(deviceID string) (DeviceState, error) {
	e, ok := s.byID[deviceID]
	if !ok {
		return DeviceState{}, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Mutation mutates the state in place and returns the events the change
// crosses. Mutations run under the per-device lock and must not block on I/O.
type Mutation func(cfg DeviceConfig, st *DeviceState) []Event

// Apply atomically runs mutate against a device's state and fans out the
// resulting events after the lock is released.
func (s *Store) Apply(deviceID string, mutate Mutation) ([]Event, error) {
	e, ok := s.byID[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	e.mu.Lock()
	events := mutate(e.cfg, &e.state)
	e.mu.Unlock()

	for i := range events {
		events[i].DeviceID = deviceID
	}
	s.publish(events)
	return events, nil
}

// Subscribe returns a buffered event channel fed by every successful Apply
// across every device. Slow subscribers drop events rather than stall the
// publisher; Modbus reflection and WebSocket fan-out tolerate that because
// both also resync periodically.
func (s *Store) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

// ApplyFunc is like Apply but lets the mutation return an arbitrary result
// alongside the events, computed under the same device lock. The regulator
// uses this to decide what to publish to the telemetry bus (fan/valve
// commands) from the same snapshot it mutated, without re-reading state
// after releasing the lock.
func ApplyFunc[T any](s *Store, deviceID string, fn func(cfg DeviceConfig, st *DeviceState) (T, []Event)) (T, error) {
	var zero T
	e, ok := s.byID[deviceID]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	e.mu.Lock()
	result, events := fn(e.cfg, &e.state)
	e.mu.Unlock()

	for i := range events {
		events[i].DeviceID = deviceID
	}
	s.publish(events)
	return result, nil
}

func (s *Store) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	s.subMu.Lock()
	subs := make([]chan Event, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, ev := range events {
		for _, ch := range subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
