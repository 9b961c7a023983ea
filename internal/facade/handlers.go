package facade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"heatingd/internal/commandbus"
	"heatingd/internal/devicestore"
	"heatingd/internal/metrics"
)

// Facade wires HTTP/WS handlers to the device store and command bus; it
// holds no state of its own beyond those collaborators.
type Facade struct {
	store    *devicestore.Store
	bus      *commandbus.Bus
	hub      *Hub
	counters *metrics.Counters

	// CommandTimeout bounds how long a command request waits on the bus.
	CommandTimeout time.Duration
}

func NewFacade(store *devicestore.Store, bus *commandbus.Bus, hub *Hub, counters *metrics.Counters) *Facade {
	return &Facade{store: store, bus: bus, hub: hub, counters: counters, CommandTimeout: 2 * time.Second}
}

// NewRouter builds the full mux, mirroring the command/read surface Modbus
// exposes: a health probe, per-device status reads, and a command endpoint
// that funnels into the same command bus Modbus writes through.
func (f *Facade) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", f.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", f.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/devices", f.handleListDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", f.handleDeviceStatus).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/command", f.handleCommand).Methods(http.MethodPost)
	r.HandleFunc("/ws", f.hub.ServeWS)
	return r
}

func (f *Facade) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// engineStatus is the /status response shape: per-device online/auto/
// emergency flags plus the process-wide engine loop counters.
type engineStatus struct {
	Devices  []deviceFlags    `json:"devices"`
	Counters metrics.Snapshot `json:"counters"`
}

type deviceFlags struct {
	DeviceID      string `json:"device_id"`
	IsOnline      bool   `json:"is_online"`
	AutoEnabled   bool   `json:"auto_enabled"`
	EmergencyStop bool   `json:"emergency_stop"`
}

func (f *Facade) handleStatus(w http.ResponseWriter, _ *http.Request) {
	ids := f.store.DeviceIDs()
	devices := make([]deviceFlags, 0, len(ids))
	for _, id := range ids {
		st, err := f.store.Read(id)
		if err != nil {
			continue
		}
		devices = append(devices, deviceFlags{
			DeviceID:      id,
			IsOnline:      st.IsOnline,
			AutoEnabled:   st.AutoEnabled,
			EmergencyStop: st.EmergencyStop,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(engineStatus{Devices: devices, Counters: f.counters.Snapshot()})
}

func (f *Facade) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	ids := f.store.DeviceIDs()
	out := make([]StatusResponse, 0, len(ids))
	for _, id := range ids {
		st, err := f.store.Read(id)
		if err != nil {
			continue
		}
		out = append(out, toStatusResponse(id, st))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (f *Facade) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	st, err := f.store.Read(deviceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toStatusResponse(deviceID, st))
}

func (f *Facade) handleCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cmd, err := toCommand(deviceID, req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), f.CommandTimeout)
	defer cancel()
	if err := f.bus.Submit(ctx, cmd); err != nil {
		if errors.Is(err, commandbus.ErrUnknownDevice) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if errors.Is(err, commandbus.ErrInvalidArgument) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func toCommand(deviceID string, req CommandRequest) (commandbus.Command, error) {
	cmd := commandbus.Command{DeviceID: deviceID, Source: commandbus.SourceHTTP, Temperature: req.Temperature, FanSpeed: req.FanSpeed}
	switch req.Kind {
	case "enable_auto":
		cmd.Kind = commandbus.EnableAuto
	case "disable_auto":
		cmd.Kind = commandbus.DisableAuto
	case "set_temperature":
		cmd.Kind = commandbus.SetTemperature
	case "set_fan_speed":
		cmd.Kind = commandbus.SetFanSpeed
	case "emergency_stop":
		cmd.Kind = commandbus.EmergencyStop
	case "reset_emergency":
		cmd.Kind = commandbus.ResetEmergency
	default:
		return commandbus.Command{}, errors.New("facade: unknown command kind " + req.Kind)
	}
	return cmd, nil
}
