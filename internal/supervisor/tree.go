// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package supervisor provides Suture-based process supervision for Argos.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production-ready defaults matching suture's
// built-in values.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree manages the hierarchical supervisor structure for Argos.
//
// The tree is organized into three layers:
//   - monitors: one coordinator per configured monitor (one-for-one)
//   - outputs: subscriber-side services (status board, broker bridge)
//   - api: the status/metrics HTTP listener
//
// A crash in one layer is isolated from the others; a crashing
// coordinator is isolated from its sibling monitors.
type Tree struct {
	root     *suture.Supervisor
	monitors *suture.Supervisor
	outputs  *suture.Supervisor
	api      *suture.Supervisor
	logger   *slog.Logger
	config   TreeConfig
}

// NewTree creates a new supervisor tree with the given configuration.
func NewTree(logger *slog.Logger, config TreeConfig) (*Tree, error) {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	// sutureslog's MustHook has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	// Child supervisors inherit the EventHook when added to the root.
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("argos", rootSpec)
	monitors := suture.New("monitor-layer", childSpec)
	outputs := suture.New("output-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(outputs)
	root.Add(monitors)
	root.Add(api)

	return &Tree{
		root:     root,
		monitors: monitors,
		outputs:  outputs,
		api:      api,
		logger:   logger,
		config:   config,
	}, nil
}

// Root returns the root supervisor for direct access if needed.
func (t *Tree) Root() *suture.Supervisor {
	return t.root
}

// AddMonitorService adds a coordinator to the monitor layer supervisor.
func (t *Tree) AddMonitorService(svc suture.Service) suture.ServiceToken {
	return t.monitors.Add(svc)
}

// AddOutputService adds a service to the output layer supervisor.
// Use this for the status board and the broker bridge.
func (t *Tree) AddOutputService(svc suture.Service) suture.ServiceToken {
	return t.outputs.Add(svc)
}

// AddAPIService adds a service to the API layer supervisor.
func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// RemoveMonitorService removes a coordinator from the monitor layer.
func (t *Tree) RemoveMonitorService(token suture.ServiceToken) error {
	return t.monitors.Remove(token)
}

// Serve starts the supervisor tree and blocks until the context is
// canceled. This is the main entry point for the supervised runtime.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the supervisor tree in a background goroutine.
// Returns a channel that receives the error (or nil) when it stops.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport returns services that failed to stop within the
// configured shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// RemoveMonitorServiceAndWait removes a coordinator from the monitor
// layer and waits for it to fully stop. Service tokens are scoped to the
// supervisor that issued them, so removal must go through the monitor
// layer rather than the root.
func (t *Tree) RemoveMonitorServiceAndWait(token suture.ServiceToken, timeout time.Duration) error {
	return t.monitors.RemoveAndWait(token, timeout)
}
