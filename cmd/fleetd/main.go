// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// fleetd wires the device-service core together: an MQTT session client, the
// heartbeat ingestor, the health monitor, and the command correlator.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/Orama4/devices-service/command"
	"github.com/Orama4/devices-service/config"
	"github.com/Orama4/devices-service/monitor"
	"github.com/Orama4/devices-service/mqtt"
	"github.com/Orama4/devices-service/storage"
	"github.com/Orama4/devices-service/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the TOML configuration file")
	flag.Parse()

	log := slog.New(tint.NewHandler(os.Stdout, nil))

	if err := run(*configPath, log); err != nil {
		log.Error("fleetd failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	log = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))

	client := mqtt.NewSessionClient(
		cfg.ConnectionSettings(),
		mqtt.WithLogger{Logger: log},
	)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			log.Warn("disconnect failed", "error", err)
		}
	}()

	correlator, err := command.NewCorrelator(
		client,
		command.WithResponseTimeout(time.Duration(cfg.Command.ResponseTimeout)),
		command.WithLogger{Logger: log},
	)
	if err != nil {
		return err
	}

	store := telemetry.NewStore()
	ingestor, err := telemetry.NewIngestor(
		client,
		store,
		telemetry.WithLogger{Logger: log},
	)
	if err != nil {
		return err
	}
	stop, err := ingestor.Listen(ctx)
	if err != nil {
		return err
	}
	defer stop()

	// TODO: replace the in-memory repository with the database-backed one
	// once the records service exposes its gRPC surface.
	repo := storage.NewMemory()

	mon, err := monitor.NewMonitor(
		store,
		repo,
		monitor.WithSweepInterval(time.Duration(cfg.Monitor.SweepInterval)),
		monitor.WithStaleAfter(time.Duration(cfg.Monitor.StaleAfter)),
		monitor.WithNotifier{Notifier: correlator},
		monitor.WithLogger{Logger: log},
	)
	if err != nil {
		return err
	}
	mon.Start(ctx)
	defer mon.Close()

	log.Info("fleetd running",
		"broker", cfg.Broker.Hostname,
		"sweep_interval", cfg.Monitor.SweepInterval.String(),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	return nil
}
