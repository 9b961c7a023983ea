// Package modbusslave is the SCADA-facing Modbus TCP server: it serves reads
// from the register plane and turns writes into command-bus envelopes.
package modbusslave

import (
	"context"
	"log/slog"
	"time"

	"github.com/simonvetter/modbus"

	"heatingd/internal/commandbus"
	"heatingd/internal/devicestore"
	"heatingd/internal/registerplane"
)

const (
	commandBitEnableAuto  = 1 << 1
	commandBitDisableAuto = 1 << 2

	setpointMinRaw = 50
	setpointMaxRaw = 350
)

// Handler implements modbus.RequestHandler against the register plane and
// the command bus. Reads are served straight from the plane and may span
// several devices' slices in one request, as SCADA bulk polling does.
// Writes resolve the owning device from the flat address of each register
// (never the MBAP unit id byte, per the documented flat-addressing design),
// submit a command per affected device, and re-sync that device's plane
// slice immediately so a subsequent read in the same SCADA poll observes
// the new value.
type Handler struct {
	store     *devicestore.Store
	plane     *registerplane.Plane
	reflector *registerplane.Reflector
	bus       *commandbus.Bus
	log       *slog.Logger

	// CommandTimeout bounds how long a write waits for the command bus to
	// apply it before the Modbus response is abandoned as a device failure.
	CommandTimeout time.Duration
}

func NewHandler(store *devicestore.Store, plane *registerplane.Plane, reflector *registerplane.Reflector, bus *commandbus.Bus, log *slog.Logger) *Handler {
	return &Handler{
		store:          store,
		plane:          plane,
		reflector:      reflector,
		bus:            bus,
		log:            log.With(slog.String("component", "modbus-slave")),
		CommandTimeout: 2 * time.Second,
	}
}

// checkMBAP logs, but does not reject, a mismatch between the MBAP unit id
// byte and the unit id derived from the flat address. The derived id always
// wins, per the documented SCADA integration behavior.
func (h *Handler) checkMBAP(mbapUnitID uint8, derivedUnitID uint8) {
	if mbapUnitID < 1 || mbapUnitID > 247 {
		h.log.Warn("MBAP unit id out of range", "mbap_unit_id", mbapUnitID)
	}
	if mbapUnitID != derivedUnitID {
		h.log.Debug("MBAP unit id differs from address-derived unit id, using derived", "mbap_unit_id", mbapUnitID, "derived_unit_id", derivedUnitID)
	}
}

func (h *Handler) submit(cmd commandbus.Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.CommandTimeout)
	defer cancel()
	return h.bus.Submit(ctx, cmd)
}

// HandleCoils serves FC01/FC05/FC15. Only coil 0 of each device's slice
// (AUTO_CONTROL_ENABLED) has live write semantics; coil 1 (MANUAL_OVERRIDE)
// is accepted and logged but stores nothing, and all other coils read back
// false.
func (h *Handler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	firstUnit, _ := registerplane.UnitForAddress(req.Addr, registerplane.StrideCoils)
	h.checkMBAP(req.UnitId, firstUnit)

	if req.IsWrite {
		touched := map[string]bool{}
		for i := 0; i < int(req.Quantity); i++ {
			addr := req.Addr + uint16(i)
			unitID, relAddr := registerplane.UnitForAddress(addr, registerplane.StrideCoils)
			deviceID, err := h.store.DeviceIDForUnit(unitID)
			if err != nil {
				return nil, modbus.ErrIllegalDataAddress
			}
			if relAddr == registerplane.CoilAutoControlEnabled {
				kind := commandbus.DisableAuto
				if req.Args[i] {
					kind = commandbus.EnableAuto
				}
				if err := h.submit(commandbus.Command{DeviceID: deviceID, Kind: kind, Source: commandbus.SourceModbus}); err != nil {
					h.log.Warn("coil write rejected", "device", deviceID, "error", err)
					return nil, modbus.ErrIllegalDataValue
				}
			} else if relAddr == 1 {
				h.log.Info("manual override coil write (no stored effect)", "device", deviceID, "value", req.Args[i])
			}
			touched[deviceID] = true
		}
		for deviceID := range touched {
			h.reflector.Sync(deviceID)
		}
	}

	bits, err := h.plane.ReadCoils(int(req.Addr), int(req.Quantity))
	if err != nil {
		return nil, modbus.ErrIllegalDataAddress
	}
	return bits, nil
}

// HandleDiscreteInputs serves FC02, read-only.
func (h *Handler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	unitID, _ := registerplane.UnitForAddress(req.Addr, registerplane.StrideDiscrete)
	h.checkMBAP(req.UnitId, unitID)

	bits, err := h.plane.ReadDiscrete(int(req.Addr), int(req.Quantity))
	if err != nil {
		return nil, modbus.ErrIllegalDataAddress
	}
	return bits, nil
}

// HandleHoldingRegisters serves FC03/FC06/FC16.
func (h *Handler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	firstUnit, _ := registerplane.UnitForAddress(req.Addr, registerplane.StrideHolding)
	h.checkMBAP(req.UnitId, firstUnit)

	if req.IsWrite {
		touched := map[string]bool{}
		for i := 0; i < int(req.Quantity); i++ {
			addr := req.Addr + uint16(i)
			unitID, relAddr := registerplane.UnitForAddress(addr, registerplane.StrideHolding)
			deviceID, err := h.store.DeviceIDForUnit(unitID)
			if err != nil {
				return nil, modbus.ErrIllegalDataAddress
			}
			raw := req.Args[i]

			switch relAddr {
			case registerplane.HoldingSetpoint:
				if int16(raw) < setpointMinRaw || int16(raw) > setpointMaxRaw {
					return nil, modbus.ErrIllegalDataValue
				}
				temp := float64(int16(raw)) / 10.0
				if err := h.submit(commandbus.Command{DeviceID: deviceID, Kind: commandbus.SetTemperature, Source: commandbus.SourceModbus, Temperature: temp}); err != nil {
					h.log.Warn("setpoint write rejected", "device", deviceID, "error", err)
					return nil, modbus.ErrIllegalDataValue
				}

			case registerplane.HoldingCommand:
				if err := h.dispatchCommandWord(deviceID, raw); err != nil {
					return nil, err
				}

			default:
				// Advisory/reserved registers accept writes without side
				// effects; the plane re-encodes them from canonical state
				// on the next sync regardless of what was written.
			}
			touched[deviceID] = true
		}
		for deviceID := range touched {
			h.reflector.Sync(deviceID)
		}
	}

	regs, err := h.plane.ReadHolding(int(req.Addr), int(req.Quantity))
	if err != nil {
		return nil, modbus.ErrIllegalDataAddress
	}
	return regs, nil
}

// dispatchCommandWord applies the COMMAND register bitfield: bit1 (value 2)
// requests EnableAuto, bit2 (value 4) requests DisableAuto, with
// DisableAuto winning when both are set; value 0 is a no-op. Any other
// pattern is rejected.
func (h *Handler) dispatchCommandWord(deviceID string, raw uint16) error {
	switch raw {
	case 0:
		return nil
	case commandBitEnableAuto:
		if err := h.submit(commandbus.Command{DeviceID: deviceID, Kind: commandbus.EnableAuto, Source: commandbus.SourceModbus}); err != nil {
			h.log.Warn("command word rejected", "device", deviceID, "error", err)
			return modbus.ErrIllegalDataValue
		}
		return nil
	case commandBitDisableAuto, commandBitEnableAuto | commandBitDisableAuto:
		if err := h.submit(commandbus.Command{DeviceID: deviceID, Kind: commandbus.DisableAuto, Source: commandbus.SourceModbus}); err != nil {
			h.log.Warn("command word rejected", "device", deviceID, "error", err)
			return modbus.ErrIllegalDataValue
		}
		return nil
	default:
		return modbus.ErrIllegalDataValue
	}
}

// HandleInputRegisters serves FC04, read-only.
func (h *Handler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	unitID, _ := registerplane.UnitForAddress(req.Addr, registerplane.StrideInput)
	h.checkMBAP(req.UnitId, unitID)

	regs, err := h.plane.ReadInput(int(req.Addr), int(req.Quantity))
	if err != nil {
		return nil, modbus.ErrIllegalDataAddress
	}
	return regs, nil
}
