// Package registerplane is the Modbus-visible mirror of device state: four
// flat, per-device-strided buffers (holding/input registers, coils/discrete
// inputs) kept in sync with the device store by an event-driven reflector.
package registerplane

import (
	"errors"
	"fmt"
	"sync"
)

const (
	StrideHolding  = 30
	StrideInput    = 20
	StrideCoils    = 16
	StrideDiscrete = 16
)

// ErrAddressRange is returned when a read/write falls outside the
// configured address space; callers map this to Modbus exception 02.
var ErrAddressRange = errors.New("registerplane: address out of range")

// Plane holds four flat buffers sized stride_area x unitCount. A single
// RWMutex guards each area: reads and writes are simple slice copies, so
// per-area locking (rather than a lock per device slice, the other option
// the register map allows for) keeps multi-device contiguous reads, which
// the wire protocol explicitly allows to span device boundaries, simple and
// correct without juggling several locks per request.
type Plane struct {
	unitCount int

	holdingMu sync.RWMutex
	holding   []uint16 // len = unitCount * StrideHolding

	inputMu sync.RWMutex
	input   []uint16 // len = unitCount * StrideInput

	coilsMu sync.RWMutex
	coils   []bool // len = unitCount * StrideCoils

	discreteMu sync.RWMutex
	discrete   []bool // len = unitCount * StrideDiscrete
}

func New(unitCount int) *Plane {
	return &Plane{
		unitCount: unitCount,
		holding:   make([]uint16, unitCount*StrideHolding),
		input:     make([]uint16, unitCount*StrideInput),
		coils:     make([]bool, unitCount*StrideCoils),
		discrete:  make([]bool, unitCount*StrideDiscrete),
	}
}

func deviceOffset(unitID uint8, stride int) int {
	return (int(unitID) - 1) * stride
}

// SetHolding overwrites the StrideHolding-register slice owned by unitID.
// Used by the reflector whenever a device's canonical state changes.
func (p *Plane) SetHolding(unitID uint8, values [StrideHolding]uint16) error {
	off := deviceOffset(unitID, StrideHolding)
	if off < 0 || off+StrideHolding > len(p.holding) {
		return fmt.Errorf("%w: unit id %d", ErrAddressRange, unitID)
	}
	p.holdingMu.Lock()
	copy(p.holding[off:off+StrideHolding], values[:])
	p.holdingMu.Unlock()
	return nil
}

func (p *Plane) SetInput(unitID uint8, values [StrideInput]uint16) error {
	off := deviceOffset(unitID, StrideInput)
	if off < 0 || off+StrideInput > len(p.input) {
		return fmt.Errorf("%w: unit id %d", ErrAddressRange, unitID)
	}
	p.inputMu.Lock()
	copy(p.input[off:off+StrideInput], values[:])
	p.inputMu.Unlock()
	return nil
}

func (p *Plane) SetCoils(unitID uint8, values [StrideCoils]bool) error {
	off := deviceOffset(unitID, StrideCoils)
	if off < 0 || off+StrideCoils > len(p.coils) {
		return fmt.Errorf("%w: unit id %d", ErrAddressRange, unitID)
	}
	p.coilsMu.Lock()
	copy(p.coils[off:off+StrideCoils], values[:])
	p.coilsMu.Unlock()
	return nil
}

func (p *Plane) SetDiscrete(unitID uint8, values [StrideDiscrete]bool) error {
	off := deviceOffset(unitID, StrideDiscrete)
	if off < 0 || off+StrideDiscrete > len(p.discrete) {
		return fmt.Errorf("%w: unit id %d", ErrAddressRange, unitID)
	}
	p.discreteMu.Lock()
	copy(p.discrete[off:off+StrideDiscrete], values[:])
	p.discreteMu.Unlock()
	return nil
}

// ReadHolding returns a copy of [addr, addr+quantity) from the flat holding
// address space. A request may span more than one device's slice, as SCADA
// clients are expected to do for bulk polling.
func (p *Plane) ReadHolding(addr, quantity int) ([]uint16, error) {
	if addr < 0 || quantity < 0 || addr+quantity > len(p.holding) {
		return nil, fmt.Errorf("%w: holding [%d,%d)", ErrAddressRange, addr, addr+quantity)
	}
	p.holdingMu.RLock()
	defer p.holdingMu.RUnlock()
	out := make([]uint16, quantity)
	copy(out, p.holding[addr:addr+quantity])
	return out, nil
}

func (p *Plane) ReadInput(addr, quantity int) ([]uint16, error) {
	if addr < 0 || quantity < 0 || addr+quantity > len(p.input) {
		return nil, fmt.Errorf("%w: input [%d,%d)", ErrAddressRange, addr, addr+quantity)
	}
	p.inputMu.RLock()
	defer p.inputMu.RUnlock()
	out := make([]uint16, quantity)
	copy(out, p.input[addr:addr+quantity])
	return out, nil
}

func (p *Plane) ReadCoils(addr, quantity int) ([]bool, error) {
	if addr < 0 || quantity < 0 || addr+quantity > len(p.coils) {
		return nil, fmt.Errorf("%w: coils [%d,%d)", ErrAddressRange, addr, addr+quantity)
	}
	p.coilsMu.RLock()
	defer p.coilsMu.RUnlock()
	out := make([]bool, quantity)
	copy(out, p.coils[addr:addr+quantity])
	return out, nil
}

func (p *Plane) ReadDiscrete(addr, quantity int) ([]bool, error) {
	if addr < 0 || quantity < 0 || addr+quantity > len(p.discrete) {
		return nil, fmt.Errorf("%w: discrete [%d,%d)", ErrAddressRange, addr, addr+quantity)
	}
	p.discreteMu.RLock()
	defer p.discreteMu.RUnlock()
	out := make([]bool, quantity)
	copy(out, p.discrete[addr:addr+quantity])
	return out, nil
}

// UnitForAddress derives the owning unit id and the relative offset for a
// flat address, given the area's stride. This is the defensive
// reinterpretation spec.md calls out: SCADA addresses devices by address
// stride, never by the MBAP unit id byte.
func UnitForAddress(addr uint16, stride int) (unitID uint8, relAddr int) {
	unitID = uint8(int(addr)/stride + 1)
	relAddr = int(addr) % stride
	return unitID, relAddr
}
