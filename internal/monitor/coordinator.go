// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package monitor implements the per-monitor coordinator and the manager
// that supervises the full monitor set.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/JorgeSuarezV/argos/internal/config"
	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/metrics"
	"github.com/JorgeSuarezV/argos/internal/registry"
	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/worker"
)

const (
	// defaultWorkerWait bounds how long a coordinator waits for its worker
	// to acknowledge a shutdown command before abandoning it.
	defaultWorkerWait = 5 * time.Second

	// defaultInboxSize is the envelope inbox depth between a worker and
	// its coordinator.
	defaultInboxSize = 64
)

// Coordinator owns one protocol worker and that monitor's retry state.
//
// The coordinator processes its inbox strictly sequentially: for a given
// monitor no two envelopes are ever dispatched concurrently, preserving
// per-monitor ordering across all subscribers. Every envelope, success
// and error alike, is dispatched before the retry decision is consulted,
// so subscribers always see the full stream.
type Coordinator struct {
	record     config.Monitor
	reg        *registry.Registry
	factory    worker.Factory
	inboxSize  int
	workerWait time.Duration

	// retryCount is mutated only from the Serve loop; atomic so the
	// status endpoint can read it concurrently.
	retryCount atomic.Int64

	terminated atomic.Bool
	startedAt  atomic.Int64 // unix nanos of the current Serve run
}

// Option customizes a coordinator.
type Option func(*Coordinator)

// WithWorkerWait overrides the bounded shutdown wait.
func WithWorkerWait(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.workerWait = d
		}
	}
}

// WithInboxSize overrides the worker→coordinator inbox depth.
func WithInboxSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.inboxSize = n
		}
	}
}

// WithWorkerFactory substitutes the protocol worker factory. Tests use
// this to inject scripted workers.
func WithWorkerFactory(f worker.Factory) Option {
	return func(c *Coordinator) {
		c.factory = f
	}
}

// NewCoordinator builds a coordinator for one validated monitor record.
// The worker factory is resolved from the protocol registry by the
// record's type tag.
func NewCoordinator(record config.Monitor, reg *registry.Registry, opts ...Option) (*Coordinator, error) {
	if reg == nil {
		return nil, fmt.Errorf("monitor %q: registry cannot be nil", record.Name)
	}

	c := &Coordinator{
		record:     record,
		reg:        reg,
		inboxSize:  defaultInboxSize,
		workerWait: defaultWorkerWait,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.factory == nil {
		desc, ok := worker.Lookup(record.Type)
		if !ok {
			return nil, fmt.Errorf("monitor %q: no worker for protocol %q", record.Name, record.Type)
		}
		c.factory = desc.New
	}
	return c, nil
}

// Name returns the monitor id this coordinator owns.
func (c *Coordinator) Name() string {
	return c.record.Name
}

// Record returns the validated monitor record.
func (c *Coordinator) Record() config.Monitor {
	return c.record
}

// RetryCount returns the current number of consecutive failures.
func (c *Coordinator) RetryCount() int {
	return int(c.retryCount.Load())
}

// Terminated reports whether the coordinator has permanently stopped.
func (c *Coordinator) Terminated() bool {
	return c.terminated.Load()
}

// StartedAt returns when the current run began (zero before the first).
func (c *Coordinator) StartedAt() time.Time {
	nanos := c.startedAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// String implements fmt.Stringer for suture's log messages.
func (c *Coordinator) String() string {
	return "monitor-" + c.record.Name
}

// Serve implements suture.Service: spawn the worker, then run the event
// loop until retry exhaustion, worker death, or cancellation.
//
// Returning suture.ErrDoNotRestart marks the monitor as terminally
// stopped; the supervisor leaves its siblings untouched.
func (c *Coordinator) Serve(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("monitor", c.record.Name).
				Interface("panic", r).
				Msg("coordinator crashed; monitor is terminal")
			err = suture.ErrDoNotRestart
		}
		if err == nil || errors.Is(err, suture.ErrDoNotRestart) {
			c.terminated.Store(true)
		}
	}()

	inbox := make(chan envelope.Envelope, c.inboxSize)
	wk, err := c.factory(c.record.Name, c.record.Config, inbox)
	if err != nil {
		logging.Error().Str("monitor", c.record.Name).Err(err).Msg("failed to build protocol worker")
		return fmt.Errorf("build worker for %q: %v%w", c.record.Name, err, suture.ErrDoNotRestart)
	}
	if err := wk.Start(ctx); err != nil {
		return fmt.Errorf("start worker for %q: %v%w", c.record.Name, err, suture.ErrDoNotRestart)
	}

	c.startedAt.Store(time.Now().UnixNano())
	c.retryCount.Store(0)
	metrics.MonitorsActive.Inc()
	defer metrics.MonitorsActive.Dec()

	logging.Info().
		Str("monitor", c.record.Name).
		Str("protocol", c.record.Type).
		Strs("inform_to", c.record.InformTo).
		Msg("monitor started")

	for {
		select {
		case <-ctx.Done():
			c.stopWorker(wk)
			return ctx.Err()

		case <-wk.Done():
			// The worker died without being commanded to; terminal.
			logging.Error().
				Str("monitor", c.record.Name).
				Msg("protocol worker terminated unexpectedly; monitor is terminal")
			return suture.ErrDoNotRestart

		case env := <-inbox:
			if terminal := c.handle(wk, env); terminal {
				return suture.ErrDoNotRestart
			}
		}
	}
}

// handle processes one envelope: dispatch first, then the retry decision.
// Returns true when the monitor is terminally shut down.
func (c *Coordinator) handle(wk worker.Worker, env envelope.Envelope) bool {
	if !env.IsError() {
		c.dispatch(registry.TagMonitorData, env)
		c.retryCount.Store(0)
		return false
	}

	// Subscribers see every envelope; classification never gates delivery.
	c.dispatch(registry.TagMonitorError, env)

	count := int(c.retryCount.Load())
	action := retry.Decide(count, c.record.Policy)

	if action.Command == retry.CommandRetry {
		logging.Info().
			Str("monitor", c.record.Name).
			Str("strategy", string(c.record.Policy.Strategy)).
			Msg(fmt.Sprintf("Calculated backoff delay: %dms for attempt %d", action.Delay.Milliseconds(), count+1))
		metrics.RetriesScheduled.WithLabelValues(c.record.Name).Inc()
		wk.Recover(action)
		c.retryCount.Add(1)
		return false
	}

	logging.Error().
		Str("monitor", c.record.Name).
		Str("error_type", string(env.Error.Type)).
		Msg(fmt.Sprintf("Monitor %s shutting down after %d retries", c.record.Name, count))
	metrics.MonitorShutdowns.WithLabelValues(c.record.Name).Inc()

	c.stopWorker(wk)
	return true
}

// dispatch fans the envelope out to every rule name in inform_to.
func (c *Coordinator) dispatch(tag registry.Tag, env envelope.Envelope) {
	msg := registry.Message{Tag: tag, Envelope: env}
	for _, name := range c.record.InformTo {
		c.reg.Dispatch(name, msg)
	}
}

// stopWorker commands the worker down and waits, bounded, for it to
// terminate. Past the bound the worker is abandoned; its goroutine exits
// with the shared context.
func (c *Coordinator) stopWorker(wk worker.Worker) {
	wk.Recover(retry.Shutdown())

	timer := time.NewTimer(c.workerWait)
	defer timer.Stop()
	select {
	case <-wk.Done():
	case <-timer.C:
		logging.Warn().
			Str("monitor", c.record.Name).
			Dur("waited", c.workerWait).
			Msg("protocol worker did not stop within bound, abandoning")
	}
}
