package registerplane

import (
	"math"

	"heatingd/internal/devicestore"
)

// Holding-register layout, as offsets within a device's 30-register slice.
const (
	HoldingSetpoint      = 0
	HoldingHysteresis    = 1
	HoldingTempLow       = 2
	HoldingTempHigh      = 3
	HoldingFreezeLimit   = 4
	HoldingOverheatLimit = 5
	HoldingCommand       = 10
	HoldingDeviceName    = 20 // 20..24, 5 registers, 10 ASCII bytes
)

// Input-register layout.
const (
	InputCurrentTemp = 0
	InputFanSpeed    = 1
	InputValveState  = 2
	InputPidOutput   = 3
	InputStatusWord  = 4
)

// Status bits, shared by input register 4 and discrete inputs 0..7.
const (
	StatusIsOnline = 1 << iota
	StatusIsWorking
	StatusEmergencyStop
	StatusTempSensorErr
	StatusPidActive
	StatusFreezeProtection
	StatusOverheatProtection
	StatusValveOpen
)

// CoilAutoControlEnabled is the only coil with live semantics; coil 1
// (manual override) is accepted and logged but carries no stored state.
const CoilAutoControlEnabled = 0

func scale10(v float64) uint16 {
	scaled := math.Round(v * 10)
	if scaled > 32767 {
		scaled = 32767
	}
	if scaled < -32768 {
		scaled = -32768
	}
	return uint16(int16(scaled))
}

func unscale10(raw uint16) float64 {
	return float64(int16(raw)) / 10.0
}

func statusWord(cfg devicestore.DeviceConfig, st devicestore.DeviceState) uint16 {
	var w uint16
	if st.IsOnline {
		w |= StatusIsOnline
	}
	if st.IsWorking {
		w |= StatusIsWorking
	}
	if st.EmergencyStop {
		w |= StatusEmergencyStop
	}
	if st.TempSensorErr {
		w |= StatusTempSensorErr
	}
	if st.AutoEnabled {
		w |= StatusPidActive
	}
	if float64(st.CurrentTemperature) < cfg.FreezeLimit {
		w |= StatusFreezeProtection
	}
	if float64(st.CurrentTemperature) > cfg.OverheatLimit {
		w |= StatusOverheatProtection
	}
	if st.ValveState == devicestore.ValveOpen {
		w |= StatusValveOpen
	}
	return w
}

func deviceNameRegisters(deviceID string) [5]uint16 {
	var name [10]byte
	copy(name[:], deviceID)
	var out [5]uint16
	for i := 0; i < 5; i++ {
		out[i] = uint16(name[2*i])<<8 | uint16(name[2*i+1])
	}
	return out
}

// EncodeHolding computes the full 30-register holding snapshot for a device.
// The COMMAND register (addr 10) always encodes as 0: writes to it are
// applied and cleared synchronously within the same request by the slave
// handler, so it is never observably nonzero on a read.
func EncodeHolding(cfg devicestore.DeviceConfig, st devicestore.DeviceState) [StrideHolding]uint16 {
	var regs [StrideHolding]uint16
	regs[HoldingSetpoint] = scale10(float64(st.SetpointTemperature))
	regs[HoldingHysteresis] = scale10(cfg.Hysteresis)
	regs[HoldingTempLow] = scale10(cfg.SetpointMin)
	regs[HoldingTempHigh] = scale10(cfg.SetpointMax)
	regs[HoldingFreezeLimit] = scale10(cfg.FreezeLimit)
	regs[HoldingOverheatLimit] = scale10(cfg.OverheatLimit)
	name := deviceNameRegisters(cfg.DeviceID)
	copy(regs[HoldingDeviceName:HoldingDeviceName+5], name[:])
	return regs
}

// EncodeInput computes the 20-register input snapshot. Addresses 5..19 are
// reserved and always read back zero.
func EncodeInput(cfg devicestore.DeviceConfig, st devicestore.DeviceState) [StrideInput]uint16 {
	var regs [StrideInput]uint16
	regs[InputCurrentTemp] = scale10(float64(st.CurrentTemperature))
	regs[InputFanSpeed] = uint16(math.Round(float64(st.FanOutput)))
	if st.ValveState == devicestore.ValveOpen {
		regs[InputValveState] = 1
	}
	regs[InputPidOutput] = scale10(float64(st.PidOutput))
	regs[InputStatusWord] = statusWord(cfg, st)
	return regs
}

// EncodeDiscrete mirrors the low byte of the status word across discrete
// inputs 0..7; 8..15 are reserved and always false.
func EncodeDiscrete(cfg devicestore.DeviceConfig, st devicestore.DeviceState) [StrideDiscrete]bool {
	var bits [StrideDiscrete]bool
	w := statusWord(cfg, st)
	for i := 0; i < 8; i++ {
		bits[i] = w&(1<<uint(i)) != 0
	}
	return bits
}

// EncodeCoils mirrors auto_enabled on coil 0; coil 1 (manual override) and
// 2..15 are reserved and always false.
func EncodeCoils(st devicestore.DeviceState) [StrideCoils]bool {
	var bits [StrideCoils]bool
	bits[CoilAutoControlEnabled] = st.AutoEnabled
	return bits
}
