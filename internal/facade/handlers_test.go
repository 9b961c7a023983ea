package facade

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"heatingd/internal/commandbus"
	"heatingd/internal/devicestore"
	"heatingd/internal/metrics"
)

func newTestFacade(t *testing.T) (*Facade, *devicestore.Store, context.CancelFunc) {
	t.Helper()
	f, store, _, cancel := newTestFacadeWithCounters(t)
	return f, store, cancel
}

func newTestFacadeWithCounters(t *testing.T) (*Facade, *devicestore.Store, *metrics.Counters, context.CancelFunc) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := devicestore.New(map[string]devicestore.DeviceConfig{
		"boiler-1": {DeviceID: "boiler-1", UnitID: 1, SetpointMin: 5, SetpointMax: 35},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	counters := metrics.New()
	bus := commandbus.New(store, nil, nil, log, 16, counters)
	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx)

	hub := NewHub(store, log)
	return NewFacade(store, bus, hub, counters), store, counters, cancel
}

func doRequest(t *testing.T, r *mux.Router, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	f, _, cancel := newTestFacade(t)
	defer cancel()
	rec := doRequest(t, f.NewRouter(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDeviceStatusEndpoint(t *testing.T) {
	f, _, cancel := newTestFacade(t)
	defer cancel()
	rec := doRequest(t, f.NewRouter(), http.MethodGet, "/devices/boiler-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.DeviceID != "boiler-1" {
		t.Fatalf("device id = %q, want boiler-1", resp.DeviceID)
	}
}

func TestDeviceStatusUnknownDevice(t *testing.T) {
	f, _, cancel := newTestFacade(t)
	defer cancel()
	rec := doRequest(t, f.NewRouter(), http.MethodGet, "/devices/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCommandEndpointSetTemperature(t *testing.T) {
	f, store, cancel := newTestFacade(t)
	defer cancel()

	body, _ := json.Marshal(CommandRequest{Kind: "set_temperature", Temperature: 23.5})
	rec := doRequest(t, f.NewRouter(), http.MethodPost, "/devices/boiler-1/command", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", rec.Code, rec.Body.String())
	}
	st, _ := store.Read("boiler-1")
	if st.SetpointTemperature != 23.5 {
		t.Fatalf("setpoint = %v, want 23.5", st.SetpointTemperature)
	}
}

func TestCommandEndpointOutOfRangeRejected(t *testing.T) {
	f, _, cancel := newTestFacade(t)
	defer cancel()

	body, _ := json.Marshal(CommandRequest{Kind: "set_temperature", Temperature: 999})
	rec := doRequest(t, f.NewRouter(), http.MethodPost, "/devices/boiler-1/command", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatusEndpointReportsFlagsAndCounters(t *testing.T) {
	f, _, counters, cancel := newTestFacadeWithCounters(t)
	defer cancel()

	body, _ := json.Marshal(CommandRequest{Kind: "set_temperature", Temperature: 23.5})
	rec := doRequest(t, f.NewRouter(), http.MethodPost, "/devices/boiler-1/command", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("command status = %d, want 202", rec.Code)
	}

	rec = doRequest(t, f.NewRouter(), http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp engineStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Devices) != 1 || resp.Devices[0].DeviceID != "boiler-1" {
		t.Fatalf("devices = %+v", resp.Devices)
	}
	if resp.Devices[0].AutoEnabled {
		t.Fatalf("expected auto_enabled false by default")
	}
	if counters.Snapshot().CommandsApplied != resp.Counters.CommandsApplied || resp.Counters.CommandsApplied == 0 {
		t.Fatalf("counters = %+v, want commands_applied >= 1 matching live snapshot", resp.Counters)
	}
}

func TestCommandEndpointUnknownKind(t *testing.T) {
	f, _, cancel := newTestFacade(t)
	defer cancel()

	body, _ := json.Marshal(CommandRequest{Kind: "not-a-kind"})
	rec := doRequest(t, f.NewRouter(), http.MethodPost, "/devices/boiler-1/command", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
