// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package main is the entry point for the Argos monitoring runtime.
//
// Argos reads a JSON monitoring document declaring monitors (what to
// probe and how) and rules (who hears about it), validates the whole
// document up front, and runs one supervised coordinator per monitor.
// Each coordinator owns a protocol worker (HTTP polling, MQTT
// subscription, or WebSocket streaming) and applies the monitor's
// retry policy when the endpoint fails.
//
// # Usage
//
//	argos start <config.json> [flags]
//
// Flags:
//
//	-settings path   runtime settings YAML (default: argos.yaml search)
//	-log-level s     override logging.level from settings
//	-log-format s    override logging.format from settings (json|console)
//
// Runtime settings (listener port, broker bridge, shutdown bounds) come
// from the settings file and ARGOS_* environment variables; the
// monitoring document only declares monitors and rules.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful stop: workers are told to shut
// down, coordinators drain, and the supervisor tree unwinds within the
// configured tree timeout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JorgeSuarezV/argos/internal/api"
	"github.com/JorgeSuarezV/argos/internal/bridge"
	"github.com/JorgeSuarezV/argos/internal/config"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/monitor"
	"github.com/JorgeSuarezV/argos/internal/registry"
	"github.com/JorgeSuarezV/argos/internal/supervisor"
	"github.com/JorgeSuarezV/argos/internal/supervisor/services"
	"github.com/JorgeSuarezV/argos/internal/worker"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "start":
		os.Exit(runStart(os.Args[2:]))
	case "version":
		fmt.Println(version())
		os.Exit(0)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: argos start <config.json> [-settings path] [-log-level level] [-log-format json|console]")
	fmt.Fprintln(os.Stderr, "       argos version")
}

func version() string {
	return "argos " + buildVersion
}

// buildVersion is injected at link time via -ldflags.
var buildVersion = "dev"

//nolint:gocyclo // sequential startup steps
func runStart(args []string) int {
	flags := flag.NewFlagSet("start", flag.ExitOnError)
	settingsPath := flags.String("settings", "", "runtime settings YAML path")
	logLevel := flags.String("log-level", "", "override logging level")
	logFormat := flags.String("log-format", "", "override logging format (json|console)")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() != 1 {
		usage()
		return 2
	}
	configPath := flags.Arg(0)

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load runtime settings")
	}
	if *logLevel != "" {
		settings.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		settings.Logging.Format = *logFormat
	}

	logging.Init(logging.Config{
		Level:  settings.Logging.Level,
		Format: settings.Logging.Format,
		Caller: settings.Logging.Caller,
	})

	logging.Info().Str("config", configPath).Msg("Starting Argos with supervisor tree")

	doc, err := config.LoadDocument(configPath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", configPath).Msg("Failed to load monitoring document")
	}

	// The whole document is validated before anything starts; any reason
	// refuses every monitor.
	records, reasons := config.Validate(doc, worker.Schemas())
	if len(reasons) > 0 {
		for _, reason := range reasons {
			fmt.Fprintln(os.Stderr, reason)
		}
		logging.Error().
			Int("reasons", len(reasons)).
			Str("path", configPath).
			Msg("Monitoring document rejected")
		return 1
	}

	ruleNames := collectRuleNames(records)
	logging.Info().
		Int("monitors", len(records)).
		Strs("rules", ruleNames).
		Msg("Monitoring document validated")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for the supervisor's event hook.
	slogLogger := logging.NewSlogLogger()

	treeConfig := supervisor.DefaultTreeConfig()
	treeConfig.ShutdownTimeout = settings.Shutdown.TreeTimeout
	tree, err := supervisor.NewTree(slogLogger, treeConfig)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	reg := registry.New()
	manager := monitor.NewManager(tree, reg, settings.Shutdown.WorkerWait)

	// Output layer: the status board subscribes like any external
	// consumer; starting it before the monitors means it sees the first
	// envelopes too.
	board := monitor.NewBoard(reg, ruleNames)
	tree.AddOutputService(board)

	readiness := map[string]api.ReadinessCheck{}
	if settings.Bridge.Enabled {
		publisher, err := bridge.NewNATSPublisher(bridge.PublisherConfig{
			URL:           settings.Bridge.URL,
			MaxReconnects: settings.Bridge.MaxReconnects,
			ReconnectWait: settings.Bridge.ReconnectWait,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create broker bridge")
		}
		tree.AddOutputService(bridge.New(reg, publisher, ruleNames, settings.Bridge.SubjectPrefix, settings.Bridge.InboxSize))
		readiness["bridge"] = func() error {
			if state := publisher.BreakerState(); state == "open" {
				return fmt.Errorf("bridge circuit breaker is %s", state)
			}
			return nil
		}
		logging.Info().Str("url", settings.Bridge.URL).Msg("Broker bridge enabled")
	}

	// Monitor layer: one supervised coordinator per validated record.
	for _, record := range records {
		if err := manager.AddMonitor(record); err != nil {
			logging.Fatal().Err(err).Str("monitor", record.Name).Msg("Failed to add monitor")
		}
	}

	// API layer: health, readiness, monitor snapshot, metrics.
	if settings.Status.Enabled {
		statusServer := api.NewServer(manager, board, readiness).HTTPServer(api.Config{
			Host:    settings.Status.Host,
			Port:    settings.Status.Port,
			Timeout: settings.Status.Timeout,
		})
		tree.AddAPIService(services.NewHTTPServerService(statusServer, settings.Shutdown.TreeTimeout))
		logging.Info().Str("addr", statusServer.Addr).Msg("Status server enabled")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Argos stopped gracefully")
	return 0
}

// collectRuleNames returns the distinct rule names across every record's
// inform_to, in first-appearance order.
func collectRuleNames(records []config.Monitor) []string {
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, record := range records {
		for _, name := range record.InformTo {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}
