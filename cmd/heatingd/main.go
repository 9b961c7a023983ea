// Command heatingd is the industrial heating-control daemon: it couples a
// fleet of physical heating controllers, reached over an MQTT telemetry
// bus, to a supervisory SCADA/OPC client reached over Modbus TCP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"heatingd/internal/commandbus"
	"heatingd/internal/config"
	"heatingd/internal/devicestore"
	"heatingd/internal/facade"
	"heatingd/internal/logging"
	"heatingd/internal/metrics"
	"heatingd/internal/modbusslave"
	"heatingd/internal/persistence"
	"heatingd/internal/registerplane"
	"heatingd/internal/regulator"
	"heatingd/internal/settings"
	"heatingd/internal/telemetry"
)

func main() {
	lg, lf := logging.Init(os.Getenv("LOG_DIR"))
	if lf != nil {
		defer lf.Close()
	}
	lg.Info("heatingd starting")

	cfg, err := config.FromEnv()
	if err != nil {
		lg.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	lg.Info("configuration loaded", "config", cfg.Redacted())

	registry, err := config.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		lg.Error("failed to load device registry", "error", err)
		os.Exit(1)
	}
	lg.Info("device registry loaded", "devices", len(registry))

	store, err := devicestore.New(registry)
	if err != nil {
		lg.Error("failed to build device store", "error", err)
		os.Exit(1)
	}

	settingsStore := settings.NewMemoryStore()
	counters := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persistence.LoadInitialSetpoints(ctx, store, settingsStore, lg)

	mqttBus, err := telemetry.NewMQTTBus(cfg.MQTTBrokerURL, cfg.MQTTClientID, lg)
	if err != nil {
		lg.Error("failed to connect telemetry bus", "error", err)
		os.Exit(1)
	}
	defer mqttBus.Close()

	ingress := telemetry.NewIngress(mqttBus, store, lg, counters)
	if err := ingress.Start(); err != nil {
		lg.Error("failed to subscribe telemetry ingress", "error", err)
		os.Exit(1)
	}
	egress := telemetry.NewEgress(mqttBus)
	go ingress.RunHealthCheck(ctx, cfg.HealthCheckInterval)

	reg := regulator.New(store, egress, regulator.SystemClock{}, lg, counters)
	reg.StartupSweep(ctx)
	go reg.Run(ctx, cfg.RegulatorTickInterval)

	cmdBus := commandbus.New(store, settingsStore, egress, lg, cfg.CommandQueueSize, counters)
	go cmdBus.Run(ctx)

	maxUnitID := 0
	for _, dc := range registry {
		if int(dc.UnitID) > maxUnitID {
			maxUnitID = int(dc.UnitID)
		}
	}
	plane := registerplane.New(maxUnitID)
	reflector := registerplane.NewReflector(store, plane, lg)
	reflector.SyncAll()
	go reflector.Run(ctx, cfg.RegisterSweepInterval)

	handler := modbusslave.NewHandler(store, plane, reflector, cmdBus, lg)
	modbusServer, err := modbusslave.NewServer(cfg.ModbusBindAddr, handler, lg)
	if err != nil {
		lg.Error("failed to create modbus server", "error", err)
		os.Exit(1)
	}
	if err := modbusServer.Start(); err != nil {
		lg.Error("failed to bind modbus port", "error", err)
		os.Exit(1)
	}
	defer modbusServer.Stop()

	hub := facade.NewHub(store, lg)
	go hub.Run(ctx)
	fc := facade.NewFacade(store, cmdBus, hub, counters)
	facadeServer := facade.NewServer(cfg.HTTPBindAddr, fc, lg)
	go func() {
		if err := facadeServer.Run(ctx); err != nil {
			lg.Error("facade server stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	lg.Info("shutdown signal received", "signal", s.String())

	cancel()
	time.Sleep(500 * time.Millisecond)

	lg.Info("heatingd exited cleanly")
}
