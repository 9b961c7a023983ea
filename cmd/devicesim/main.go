// Command devicesim simulates a single physical heating controller,
// publishing synthetic temperature readings to the telemetry bus and
// logging whatever fan/valve commands the daemon issues back.
package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"heatingd/internal/devicesim"
	"heatingd/internal/logging"
)

func main() {
	lg, lf := logging.Init(os.Getenv("LOG_DIR"))
	if lf != nil {
		defer lf.Close()
	}

	deviceID := getEnv("DEVICE_ID", "boiler-1")
	cfg := devicesim.Config{
		DeviceID:           deviceID,
		BrokerURL:          getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		TopicTemperatureIn: getEnv("TOPIC_TEMPERATURE_IN", "heating/"+deviceID+"/temperature"),
		TopicFanOut:        getEnv("TOPIC_FAN_OUT", "heating/"+deviceID+"/fan"),
		TopicValveOut:      getEnv("TOPIC_VALVE_OUT", "heating/"+deviceID+"/valve"),
		Interval:           getEnvDuration("PUBLISH_INTERVAL_MS", 5000*time.Millisecond),
		StartTemperature:   getEnvFloat("START_TEMPERATURE", 20.0),
	}

	sim, err := devicesim.New(cfg, lg)
	if err != nil {
		lg.Error("devicesim failed to start", "error", err)
		os.Exit(1)
	}
	sim.Start()
	defer sim.Stop()

	lg.Info("devicesim running", "device", deviceID, "broker", cfg.BrokerURL)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
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

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
