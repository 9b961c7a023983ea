package devicestore

// MutateTelemetry records a fresh temperature reading. It never emits a
// dedicated online/offline event (none is defined in the event taxonomy);
// the register plane's periodic sweep picks up the online flag instead.
func MutateTelemetry(temp float32, nowMs int64) Mutation {
	return func(_ DeviceConfig, st *DeviceState) []Event {
		st.CurrentTemperature = temp
		st.LastTemperatureUpdateMs = nowMs
		st.IsOnline = true
		return []Event{{Kind: TempUpdated}}
	}
}

// MutateOffline marks a device offline after a telemetry gap. Called by the
// health ticker, not the regulator.
func MutateOffline() Mutation {
	return func(_ DeviceConfig, st *DeviceState) []Event {
		if !st.IsOnline {
			return nil
		}
		st.IsOnline = false
		return nil
	}
}

// MutateTempSensorError flips the stale-reading flag used for status word
// bit 3. It is recomputed, not latched, so it clears automatically once a
// fresh reading arrives.
func MutateTempSensorError(stale bool) Mutation {
	return func(_ DeviceConfig, st *DeviceState) []Event {
		st.TempSensorErr = stale
		return nil
	}
}

// MutateEnableAuto implements the EnableAuto command.
func MutateEnableAuto() Mutation {
	return func(_ DeviceConfig, st *DeviceState) []Event {
		st.AutoEnabled = true
		st.EmergencyStop = false
		st.Integral = 0
		st.PrevError = 0
		return []Event{{Kind: AutoEnabledEvt}}
	}
}

// MutateDisableAuto implements the DisableAuto command.
func MutateDisableAuto() Mutation {
	return func(_ DeviceConfig, st *DeviceState) []Event {
		st.AutoEnabled = false
		st.IsWorking = false
		st.FanOutput = 0
		st.PidOutput = 0
		st.ValveState = ValveClosed
		return []Event{{Kind: AutoDisabledEvt}}
	}
}

// MutateSetTemperature implements SetTemperature. Range validation happens
// before this is built; this mutation assumes t is already within bounds.
func MutateSetTemperature(t float32) Mutation {
	return func(_ DeviceConfig, st *DeviceState) []Event {
		st.SetpointTemperature = t
		return []Event{{Kind: SetpointChanged}}
	}
}

// MutateFanSpeed implements SetFanSpeed: a direct actuator write that does
// not touch auto_enabled.
func MutateFanSpeed(s float32) Mutation {
	return func(_ DeviceConfig, st *DeviceState) []Event {
		st.FanOutput = s
		st.PidOutput = s
		st.IsWorking = s > 0
		return []Event{{Kind: FanChanged}}
	}
}

// MutateEmergencyStop implements EmergencyStop.
func MutateEmergencyStop() Mutation {
	return func(_ DeviceConfig, st *DeviceState) []Event {
		st.EmergencyStop = true
		st.AutoEnabled = false
		st.IsWorking = false
		st.FanOutput = 0
		st.PidOutput = 0
		st.ValveState = ValveClosed
		return []Event{{Kind: Emergency}}
	}
}

// MutateResetEmergency implements ResetEmergency.
func MutateResetEmergency() Mutation {
	return func(_ DeviceConfig, st *DeviceState) []Event {
		st.EmergencyStop = false
		return []Event{{Kind: EmergencyReset}}
	}
}

// MutateAlarm sets or clears the alarm flag from an optional alarm_in topic.
func MutateAlarm(active bool) Mutation {
	return func(_ DeviceConfig, st *DeviceState) []Event {
		st.Alarm = active
		return nil
	}
}
