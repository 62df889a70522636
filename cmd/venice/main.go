// Command venice runs one node of the reservoir pipeline. The node's
// name selects its role from the topology in the configuration file; a
// single binary serves source, relay, trainer, and sink deployments.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/otelhan/venice/actuation"
	"github.com/otelhan/venice/config"
	"github.com/otelhan/venice/metric"
	"github.com/otelhan/venice/monitor"
	"github.com/otelhan/venice/node"
	"github.com/otelhan/venice/telemetry"
	"github.com/otelhan/venice/topology"
)

const (
	// Version is set at build time via ldflags.
	Version = "dev"
	appName = "venice"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n", r)
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		printDetailedHelp()
		return nil
	}

	if err := validateFlags(cli); err != nil {
		return err
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return err
	}

	if cli.Validate {
		logger.Info("configuration valid",
			"path", cli.ConfigPath,
			"node", cfg.Node.Name)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	role, err := selfRole(cfg)
	if err != nil {
		return err
	}
	logger.Info("starting node",
		"node", cfg.Node.Name,
		"role", string(role),
		"config", cli.ConfigPath)

	var registry *metric.MetricsRegistry
	if cfg.Metrics.Enabled {
		registry = metric.NewMetricsRegistry()
		metricsSrv := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		go func() {
			if serveErr := metricsSrv.Start(); serveErr != nil {
				logger.Error("metrics server failed", "error", serveErr)
			}
		}()
		defer func() { _ = metricsSrv.Stop() }()
		logger.Info("metrics exposition enabled",
			"port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	}

	var pub *telemetry.Publisher
	if cfg.Telemetry.Enabled {
		pub, err = telemetry.New(cfg.Telemetry.URL,
			telemetry.WithPrefix(cfg.Telemetry.Prefix),
			telemetry.WithLogger(logger),
			telemetry.WithRegistry(registry))
		if err != nil {
			return err
		}
		if connErr := pub.Connect(ctx); connErr != nil {
			// The client keeps retrying in the background; the
			// pipeline runs without telemetry until it connects.
			logger.Warn("telemetry bus unavailable", "error", connErr)
		}
		defer func() { _ = pub.Close(context.Background()) }()
	}

	if cfg.Monitor.Enabled {
		mon, monErr := monitor.NewServer(monitor.Deps{
			Addr:     cfg.Monitor.Addr,
			BusURL:   cfg.Monitor.BusURL,
			Prefix:   cfg.Telemetry.Prefix,
			Logger:   logger,
			Registry: registry,
		})
		if monErr != nil {
			return monErr
		}
		if monErr = mon.Initialize(); monErr != nil {
			return monErr
		}
		go func() {
			if serveErr := mon.Start(ctx); serveErr != nil {
				logger.Error("monitor server failed", "error", serveErr)
			}
		}()
		defer func() { _ = mon.Stop(cli.ShutdownTimeout) }()
		logger.Info("monitor enabled", "addr", cfg.Monitor.Addr)
	}

	// The sink always needs a driver. A relay gets one only when the
	// wavemaker controller is actually attached to its machine; with a
	// shared config file the device is simply absent elsewhere.
	var driver actuation.Driver
	var serial *os.File
	switch {
	case role == topology.RoleSink:
		driver, serial, err = openDriver(cfg, logger)
		if err != nil {
			return err
		}
	case (role == topology.RoleRelay || role == topology.RoleTrainer) &&
		cfg.Actuation.SerialDevice != "":
		if _, statErr := os.Stat(cfg.Actuation.SerialDevice); statErr == nil {
			driver, serial, err = openDriver(cfg, logger)
			if err != nil {
				return err
			}
		}
	}
	if serial != nil {
		defer func() { _ = serial.Close() }()
	}

	n, err := node.New(node.Deps{
		Config:    cfg,
		Logger:    logger,
		Registry:  registry,
		Driver:    driver,
		Publisher: pub,
	})
	if err != nil {
		return err
	}

	if err = n.Initialize(); err != nil {
		return err
	}
	if err = n.Start(ctx); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- n.Wait() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err = <-done:
		if err != nil {
			logger.Error("node failed", "error", err)
		}
	}

	if stopErr := n.Stop(cli.ShutdownTimeout); stopErr != nil {
		logger.Warn("shutdown incomplete", "error", stopErr)
	}
	logger.Info("node stopped", "node", cfg.Node.Name)
	return err
}

func selfRole(cfg *config.Config) (topology.Role, error) {
	for _, tn := range cfg.Topology.Nodes {
		if tn.Name == cfg.Node.Name {
			return topology.ParseRole(tn.Role)
		}
	}
	return "", fmt.Errorf("node %q not present in topology", cfg.Node.Name)
}

// openDriver opens the servo serial port for sink nodes. Without a
// configured device the commands go to stdout, which is how the
// installation is rehearsed off-site.
func openDriver(cfg *config.Config, logger *slog.Logger) (actuation.Driver, *os.File, error) {
	if cfg.Actuation.SerialDevice == "" {
		logger.Warn("no serial device configured, writing servo commands to stdout")
		return actuation.NewSerialDriver(os.Stdout, cfg.Actuation.MoveMillis), nil, nil
	}
	port, err := os.OpenFile(cfg.Actuation.SerialDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open serial device %s: %w", cfg.Actuation.SerialDevice, err)
	}
	logger.Info("serial device opened", "device", cfg.Actuation.SerialDevice)
	return actuation.NewSerialDriver(port, cfg.Actuation.MoveMillis), port, nil
}
