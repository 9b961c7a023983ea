// Package config loads runtime configuration from the environment and the
// device registry from a properties file, in the same style the rest of
// the fleet's services use: getEnv/getEnvInt helpers plus a line-oriented
// key=value properties format with per-device key overrides.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"heatingd/internal/devicestore"
)

// AppConfig holds every environment-sourced runtime setting.
type AppConfig struct {
	ModbusBindAddr string // host:port, default 0.0.0.0:8503
	HTTPBindAddr   string // host:port, default :8080

	MQTTBrokerURL string
	MQTTClientID  string

	RegistryPath string // path to the device registry properties file
	LogDir       string

	RegulatorTickInterval time.Duration
	HealthCheckInterval   time.Duration
	RegisterSweepInterval time.Duration
	CommandQueueSize      int
}

// FromEnv loads AppConfig from the process environment, applying the same
// defaults the daemon ships with in development.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		ModbusBindAddr:        getEnv("MODBUS_BIND_ADDR", "0.0.0.0:8503"),
		HTTPBindAddr:          getEnv("HTTP_BIND_ADDR", ":8080"),
		MQTTBrokerURL:         getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:          getEnv("MQTT_CLIENT_ID", "heatingd"),
		RegistryPath:          getEnv("REGISTRY_PATH", "./configs/devices.properties"),
		LogDir:                getEnv("LOG_DIR", "./logs"),
		RegulatorTickInterval: getEnvDuration("REGULATOR_TICK_INTERVAL_MS", 1000*time.Millisecond),
		HealthCheckInterval:   getEnvDuration("HEALTH_CHECK_INTERVAL_MS", 5000*time.Millisecond),
		RegisterSweepInterval: getEnvDuration("REGISTER_SWEEP_INTERVAL_MS", 1000*time.Millisecond),
		CommandQueueSize:      getEnvInt("COMMAND_QUEUE_SIZE", 256),
	}
	if cfg.MQTTBrokerURL == "" {
		return nil, errors.New("MQTT_BROKER_URL is required")
	}
	return cfg, nil
}

// Redacted returns a copy safe to log: broker URLs can carry credentials in
// their userinfo component, so that part is stripped.
func (c AppConfig) Redacted() AppConfig {
	c.MQTTBrokerURL = redactUserinfo(c.MQTTBrokerURL)
	return c
}

func redactUserinfo(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	at := strings.Index(rest, "@")
	if at < 0 {
		return url
	}
	return scheme + "://***@" + rest[at+1:]
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

// LoadRegistry reads the device registry properties file and builds the
// static device_id -> DeviceConfig table the device store is constructed
// from. Every regulator/safety parameter accepts a bare default key
// (e.g. "kp=2.0") and a per-device override ("kp.boiler-1=2.5"); the
// override wins when present.
func LoadRegistry(path string) (map[string]devicestore.DeviceConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open registry %s: %w", path, err)
	}
	defer f.Close()

	raw := map[string]string{}
	var deviceIDs []string

	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "devices" {
			deviceIDs = splitAndTrim(v, ",")
			continue
		}
		raw[k] = v
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("config: scan registry: %w", err)
	}
	if len(deviceIDs) == 0 {
		return nil, errors.New("config: registry must define devices=<id1,id2,...>")
	}

	registry := make(map[string]devicestore.DeviceConfig, len(deviceIDs))
	for _, id := range deviceIDs {
		unitID, err := lookupInt(raw, "unit_id", id, 0)
		if err != nil || unitID == 0 {
			return nil, fmt.Errorf("config: device %s missing a valid unit_id", id)
		}
		registry[id] = devicestore.DeviceConfig{
			DeviceID:           id,
			UnitID:             uint8(unitID),
			BrokerName:         lookupString(raw, "broker_name", id, ""),
			TopicTemperatureIn: lookupString(raw, "topic.temperature_in", id, fmt.Sprintf("heating/%s/temperature", id)),
			TopicValveOut:      lookupString(raw, "topic.valve_out", id, fmt.Sprintf("heating/%s/valve", id)),
			TopicFanOut:        lookupString(raw, "topic.fan_out", id, fmt.Sprintf("heating/%s/fan", id)),
			TopicAlarmIn:       lookupString(raw, "topic.alarm_in", id, ""),
			Kp:                 lookupFloat(raw, "kp", id, 2.0),
			Ki:                 lookupFloat(raw, "ki", id, 0.1),
			Kd:                 lookupFloat(raw, "kd", id, 0.05),
			OutMin:             lookupFloat(raw, "out_min", id, 0),
			OutMax:             lookupFloat(raw, "out_max", id, 100),
			FreezeLimit:        lookupFloat(raw, "freeze_limit", id, 2),
			OverheatLimit:      lookupFloat(raw, "overheat_limit", id, 90),
			Hysteresis:         lookupFloat(raw, "hysteresis", id, 0.5),
			MinOutputThreshold: lookupFloat(raw, "min_output_threshold", id, 15),
			IntegralDecay:      lookupFloat(raw, "integral_decay", id, 0.95),
			SetpointMin:        lookupFloat(raw, "setpoint_min", id, 5),
			SetpointMax:        lookupFloat(raw, "setpoint_max", id, 35),
			StaleThreshold:     lookupFloat(raw, "stale_threshold", id, 30),
		}
	}
	return registry, nil
}

func lookupString(raw map[string]string, key, deviceID, def string) string {
	if v, ok := raw[key+"."+deviceID]; ok {
		return v
	}
	if v, ok := raw[key]; ok {
		return v
	}
	return def
}

func lookupFloat(raw map[string]string, key, deviceID string, def float64) float64 {
	v := lookupString(raw, key, deviceID, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func lookupInt(raw map[string]string, key, deviceID string, def int) (int, error) {
	v := lookupString(raw, key, deviceID, "")
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func splitAndTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
