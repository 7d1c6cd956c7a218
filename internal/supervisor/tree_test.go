// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/JorgeSuarezV/argos/internal/logging"
)

// countingService counts Serve invocations and blocks until canceled.
type countingService struct {
	name   string
	serves atomic.Int64
	fail   atomic.Bool
}

func (s *countingService) Serve(ctx context.Context) error {
	s.serves.Add(1)
	if s.fail.Load() {
		s.fail.Store(false)
		return context.DeadlineExceeded // arbitrary non-terminal error
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return s.name }

// funcService adapts a bare function to suture.Service.
type funcService struct {
	fn func(context.Context) error
}

func (f *funcService) Serve(ctx context.Context) error { return f.fn(ctx) }
func (f *funcService) String() string                  { return "func-service" }

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	config := DefaultTreeConfig()
	config.FailureBackoff = 10 * time.Millisecond
	tree, err := NewTree(logging.NewSlogLogger(), config)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	return tree
}

func TestDefaultTreeConfig(t *testing.T) {
	config := DefaultTreeConfig()
	if config.FailureThreshold != 5.0 || config.FailureDecay != 30.0 {
		t.Errorf("config = %+v", config)
	}
	if config.FailureBackoff != 15*time.Second || config.ShutdownTimeout != 10*time.Second {
		t.Errorf("config = %+v", config)
	}
}

func TestTreeRunsServicesAcrossLayers(t *testing.T) {
	tree := newTestTree(t)
	mon := &countingService{name: "svc-monitor"}
	out := &countingService{name: "svc-output"}
	apiSvc := &countingService{name: "svc-api"}

	tree.AddMonitorService(mon)
	tree.AddOutputService(out)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mon.serves.Load() > 0 && out.serves.Load() > 0 && apiSvc.serves.Load() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if mon.serves.Load() == 0 || out.serves.Load() == 0 || apiSvc.serves.Load() == 0 {
		t.Fatal("not all layers started their services")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	tree := newTestTree(t)
	svc := &countingService{name: "flaky"}
	svc.fail.Store(true)
	tree.AddMonitorService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)
	defer func() {
		cancel()
		<-errCh
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.serves.Load() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("serves = %d, want restart after failure", svc.serves.Load())
}

func TestTreeDoesNotRestartTerminalService(t *testing.T) {
	tree := newTestTree(t)
	var serves atomic.Int64
	tree.AddMonitorService(&funcService{fn: func(context.Context) error {
		serves.Add(1)
		return suture.ErrDoNotRestart
	}})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	defer func() {
		cancel()
		<-errCh
	}()

	time.Sleep(200 * time.Millisecond)
	if got := serves.Load(); got != 1 {
		t.Errorf("serves = %d, want exactly 1", got)
	}
}
