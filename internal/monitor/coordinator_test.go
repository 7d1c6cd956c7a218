// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/JorgeSuarezV/argos/internal/config"
	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/registry"
	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
	"github.com/JorgeSuarezV/argos/internal/worker"
)

// scriptWorker is a hand-driven protocol worker: the test emits envelopes
// through it and observes the recovery commands the coordinator sends.
type scriptWorker struct {
	sink     chan<- envelope.Envelope
	actions  chan retry.Action
	done     chan struct{}
	closeOne sync.Once
}

func newScriptWorker(sink chan<- envelope.Envelope) *scriptWorker {
	return &scriptWorker{
		sink:    sink,
		actions: make(chan retry.Action, 16),
		done:    make(chan struct{}),
	}
}

func (s *scriptWorker) Start(context.Context) error { return nil }

func (s *scriptWorker) Recover(action retry.Action) {
	s.actions <- action
	if action.Command == retry.CommandShutdown {
		s.closeOne.Do(func() { close(s.done) })
	}
}

func (s *scriptWorker) Done() <-chan struct{} { return s.done }

func (s *scriptWorker) die() { s.closeOne.Do(func() { close(s.done) }) }

func (s *scriptWorker) emitSuccess(t *testing.T) {
	t.Helper()
	select {
	case s.sink <- envelope.NewSuccess("mon-1", map[string]any{"n": 1}, time.Now()):
	case <-time.After(time.Second):
		t.Fatal("coordinator inbox blocked")
	}
}

func (s *scriptWorker) emitError(t *testing.T) {
	t.Helper()
	select {
	case s.sink <- envelope.NewError("mon-1", envelope.TypeNetwork, "down", nil, time.Time{}):
	case <-time.After(time.Second):
		t.Fatal("coordinator inbox blocked")
	}
}

func (s *scriptWorker) awaitAction(t *testing.T) retry.Action {
	t.Helper()
	select {
	case action := <-s.actions:
		return action
	case <-time.After(time.Second):
		t.Fatal("no recovery command received")
		return retry.Action{}
	}
}

// syncBuffer makes log capture race-free across goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(buf))
	t.Cleanup(func() { logging.SetLogger(prev) })
	return buf
}

func testRecord(policy retry.Policy) config.Monitor {
	return config.Monitor{
		Name:     "mon-1",
		Type:     "scripted",
		Config:   schema.Values{},
		Policy:   policy,
		InformTo: []string{"ops_team", "audit"},
	}
}

// startCoordinator runs Serve in the background and returns the script
// worker plus the channel carrying Serve's result.
func startCoordinator(t *testing.T, policy retry.Policy, reg *registry.Registry) (*scriptWorker, chan error, context.CancelFunc) {
	t.Helper()

	built := make(chan *scriptWorker, 1)
	factory := func(_ string, _ schema.Values, sink chan<- envelope.Envelope) (worker.Worker, error) {
		script := newScriptWorker(sink)
		built <- script
		return script, nil
	}

	coord, err := NewCoordinator(testRecord(policy), reg,
		WithWorkerFactory(factory),
		WithWorkerWait(time.Second),
	)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- coord.Serve(ctx) }()

	// The factory runs inside Serve; wait until the worker exists.
	var script *scriptWorker
	select {
	case script = <-built:
	case <-time.After(time.Second):
		t.Fatal("worker never built")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case <-result:
		case <-time.After(2 * time.Second):
		}
	})
	return script, result, cancel
}

func TestCoordinatorDispatchesSuccessToAllRules(t *testing.T) {
	reg := registry.New()
	opsInbox := make(chan registry.Message, 4)
	auditInbox := make(chan registry.Message, 4)
	defer reg.Register("ops_team", opsInbox)()
	defer reg.Register("audit", auditInbox)()

	script, _, _ := startCoordinator(t, retry.Policy{MaxRetries: 3, Strategy: retry.StrategyFixed, Timeout: 100 * time.Millisecond}, reg)
	script.emitSuccess(t)

	for name, inbox := range map[string]chan registry.Message{"ops_team": opsInbox, "audit": auditInbox} {
		select {
		case msg := <-inbox:
			if msg.Tag != registry.TagMonitorData {
				t.Errorf("%s tag = %q", name, msg.Tag)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s never received the envelope", name)
		}
	}
}

func TestCoordinatorRetriesWithBackoff(t *testing.T) {
	logs := captureLogs(t)
	reg := registry.New()
	inbox := make(chan registry.Message, 16)
	defer reg.Register("ops_team", inbox)()
	defer reg.Register("audit", inbox)()

	script, _, _ := startCoordinator(t, retry.Policy{
		MaxRetries: 5,
		Strategy:   retry.StrategyExponential,
		Timeout:    100 * time.Millisecond,
	}, reg)

	wantDelays := []time.Duration{100, 200, 400}
	for i, want := range wantDelays {
		script.emitError(t)

		// Dispatch happens before the retry decision.
		select {
		case msg := <-inbox:
			if msg.Tag != registry.TagMonitorError {
				t.Errorf("tag = %q", msg.Tag)
			}
		case <-time.After(time.Second):
			t.Fatal("error envelope not dispatched")
		}
		<-inbox // second rule name

		action := script.awaitAction(t)
		if action.Command != retry.CommandRetry {
			t.Fatalf("attempt %d command = %q", i+1, action.Command)
		}
		if action.Delay != want*time.Millisecond {
			t.Errorf("attempt %d delay = %v, want %v", i+1, action.Delay, want*time.Millisecond)
		}
	}

	for i, want := range wantDelays {
		line := fmt.Sprintf("Calculated backoff delay: %dms for attempt %d", want, i+1)
		if !strings.Contains(logs.String(), line) {
			t.Errorf("missing log line %q", line)
		}
	}
}

func TestCoordinatorResetsRetryCountOnSuccess(t *testing.T) {
	reg := registry.New()
	sinkhole := make(chan registry.Message, 64)
	defer reg.Register("ops_team", sinkhole)()
	defer reg.Register("audit", sinkhole)()

	script, _, _ := startCoordinator(t, retry.Policy{
		MaxRetries: 5,
		Strategy:   retry.StrategyLinear,
		Timeout:    100 * time.Millisecond,
	}, reg)

	script.emitError(t)
	if got := script.awaitAction(t).Delay; got != 100*time.Millisecond {
		t.Fatalf("first delay = %v", got)
	}
	script.emitError(t)
	if got := script.awaitAction(t).Delay; got != 200*time.Millisecond {
		t.Fatalf("second delay = %v", got)
	}

	script.emitSuccess(t)

	// A fresh failure streak starts over at the base delay.
	script.emitError(t)
	if got := script.awaitAction(t).Delay; got != 100*time.Millisecond {
		t.Fatalf("delay after success = %v, want %v", got, 100*time.Millisecond)
	}
}

func TestCoordinatorShutsDownAfterExhaustion(t *testing.T) {
	logs := captureLogs(t)
	reg := registry.New()
	sinkhole := make(chan registry.Message, 64)
	defer reg.Register("ops_team", sinkhole)()
	defer reg.Register("audit", sinkhole)()

	script, result, _ := startCoordinator(t, retry.Policy{
		MaxRetries: 2,
		Strategy:   retry.StrategyFixed,
		Timeout:    50 * time.Millisecond,
	}, reg)

	// max_retries retries are granted, then the next failure is terminal:
	// max_retries+1 failures total.
	script.emitError(t)
	script.awaitAction(t)
	script.emitError(t)
	script.awaitAction(t)
	script.emitError(t)

	if action := script.awaitAction(t); action.Command != retry.CommandShutdown {
		t.Fatalf("final command = %q, want shutdown", action.Command)
	}

	select {
	case err := <-result:
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("Serve returned %v, want ErrDoNotRestart", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after exhaustion")
	}

	if !strings.Contains(logs.String(), "Monitor mon-1 shutting down after 2 retries") {
		t.Errorf("missing shutdown log line in:\n%s", logs.String())
	}
}

func TestCoordinatorZeroRetriesShutsDownImmediately(t *testing.T) {
	reg := registry.New()
	sinkhole := make(chan registry.Message, 16)
	defer reg.Register("ops_team", sinkhole)()
	defer reg.Register("audit", sinkhole)()

	script, result, _ := startCoordinator(t, retry.Policy{
		MaxRetries: 0,
		Strategy:   retry.StrategyFixed,
		Timeout:    50 * time.Millisecond,
	}, reg)

	script.emitError(t)
	if action := script.awaitAction(t); action.Command != retry.CommandShutdown {
		t.Fatalf("command = %q, want shutdown", action.Command)
	}

	// The error envelope was still dispatched before the decision.
	select {
	case msg := <-sinkhole:
		if msg.Tag != registry.TagMonitorError {
			t.Errorf("tag = %q", msg.Tag)
		}
	default:
		t.Error("error envelope never dispatched")
	}

	select {
	case err := <-result:
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestCoordinatorTreatsWorkerDeathAsTerminal(t *testing.T) {
	reg := registry.New()
	script, result, _ := startCoordinator(t, retry.Policy{
		MaxRetries: 3,
		Strategy:   retry.StrategyFixed,
		Timeout:    50 * time.Millisecond,
	}, reg)

	script.die()

	select {
	case err := <-result:
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("Serve returned %v, want ErrDoNotRestart", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after worker death")
	}
}

func TestCoordinatorStopsWorkerOnCancellation(t *testing.T) {
	reg := registry.New()
	script, result, cancel := startCoordinator(t, retry.Policy{
		MaxRetries: 3,
		Strategy:   retry.StrategyFixed,
		Timeout:    50 * time.Millisecond,
	}, reg)

	cancel()

	if action := script.awaitAction(t); action.Command != retry.CommandShutdown {
		t.Fatalf("command = %q, want shutdown", action.Command)
	}
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestNewCoordinatorUnknownProtocol(t *testing.T) {
	record := testRecord(retry.Policy{MaxRetries: 1, Strategy: retry.StrategyFixed, Timeout: time.Second})
	record.Type = "carrier_pigeon"
	if _, err := NewCoordinator(record, registry.New()); err == nil {
		t.Error("expected error for unknown protocol")
	}
}
