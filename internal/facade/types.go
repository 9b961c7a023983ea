// Package facade is the thin HTTP/WebSocket translator that sits beside
// SCADA's Modbus path: every mutation funnels into the same command bus the
// Modbus slave submits to, and every read serves a DeviceState snapshot.
package facade

import "heatingd/internal/devicestore"

// CommandRequest is the JSON body accepted by POST /devices/{id}/command.
type CommandRequest struct {
	Kind        string  `json:"kind"`
	Temperature float64 `json:"temperature,omitempty"`
	FanSpeed    float64 `json:"fan_speed,omitempty"`
}

// StatusResponse is the JSON snapshot served by GET /devices/{id}.
type StatusResponse struct {
	DeviceID            string  `json:"device_id"`
	CurrentTemperature  float32 `json:"current_temperature"`
	SetpointTemperature float32 `json:"setpoint_temperature"`
	FanOutput           float32 `json:"fan_output"`
	PidOutput           float32 `json:"pid_output"`
	ValveOpen           bool    `json:"valve_open"`
	AutoEnabled         bool    `json:"auto_enabled"`
	EmergencyStop       bool    `json:"emergency_stop"`
	IsWorking           bool    `json:"is_working"`
	IsOnline            bool    `json:"is_online"`
	Alarm               bool    `json:"alarm"`
	TempSensorErr       bool    `json:"temp_sensor_error"`
}

func toStatusResponse(deviceID string, st devicestore.DeviceState) StatusResponse {
	return StatusResponse{
		DeviceID:            deviceID,
		CurrentTemperature:  st.CurrentTemperature,
		SetpointTemperature: st.SetpointTemperature,
		FanOutput:           st.FanOutput,
		PidOutput:           st.PidOutput,
		ValveOpen:           st.ValveState == devicestore.ValveOpen,
		AutoEnabled:         st.AutoEnabled,
		EmergencyStop:       st.EmergencyStop,
		IsWorking:           st.IsWorking,
		IsOnline:            st.IsOnline,
		Alarm:               st.Alarm,
		TempSensorErr:       st.TempSensorErr,
	}
}
