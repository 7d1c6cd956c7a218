// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package worker implements the protocol workers and the registry through
// which the supervisor discovers them.
//
// A worker owns one transport connection and emits normalized envelopes to
// its coordinator's inbox. After emitting an error envelope a worker never
// reschedules itself; it waits for the coordinator's Recover command,
// which either arms a retry after a delay or shuts the worker down.
//
// Each transport contributes a Descriptor (tag, field schema, factory) via
// Register at program init. Adding a protocol does not modify the core.
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/metrics"
	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
)

// Worker is the contract every protocol variant implements.
type Worker interface {
	// Start launches the collection loop and returns immediately. The
	// worker stops when ctx is canceled or a shutdown command arrives.
	// Calling Start twice is an error.
	Start(ctx context.Context) error

	// Recover delivers the coordinator's reply to an error envelope:
	// retry after a delay, or shut down. Asynchronous; never blocks the
	// coordinator.
	Recover(action retry.Action)

	// Done is closed when the worker's loop has fully terminated.
	Done() <-chan struct{}
}

// Factory builds a worker from a validated protocol config. The sink is
// the owning coordinator's inbox; it is the only place a worker emits to.
type Factory func(monitorID string, cfg schema.Values, sink chan<- envelope.Envelope) (Worker, error)

// Descriptor advertises one installed protocol.
type Descriptor struct {
	Tag    string
	Schema schema.Schema
	New    Factory
}

var (
	regMu       sync.RWMutex
	descriptors = make(map[string]Descriptor)
)

// Register installs a protocol descriptor. Called from init() by each
// transport; panics on duplicate or incomplete registration since that is
// a programming error, not an operator fault.
func Register(d Descriptor) {
	if d.Tag == "" || d.New == nil {
		panic("worker: descriptor requires a tag and a factory")
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := descriptors[d.Tag]; dup {
		panic(fmt.Sprintf("worker: protocol %q registered twice", d.Tag))
	}
	descriptors[d.Tag] = d
}

// Lookup returns the descriptor for a protocol tag.
func Lookup(tag string) (Descriptor, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	d, ok := descriptors[tag]
	return d, ok
}

// Schemas returns the protocol-tag → field-schema table handed to the
// config validator.
func Schemas() map[string]schema.Schema {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make(map[string]schema.Schema, len(descriptors))
	for tag, d := range descriptors {
		out[tag] = d.Schema
	}
	return out
}

// Tags returns the installed protocol tags, sorted.
func Tags() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	tags := make([]string, 0, len(descriptors))
	for tag := range descriptors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// decodePayload decodes a transport payload as JSON when possible,
// falling back to a string for valid UTF-8 and raw bytes otherwise.
func decodePayload(raw []byte) any {
	if len(raw) == 0 {
		return ""
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return decoded
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	return raw
}

// emit delivers an envelope to the coordinator inbox, giving up when the
// context ends so a stuck coordinator cannot leak the worker goroutine.
// It also records the emission metrics shared by all transports.
func emit(ctx context.Context, sink chan<- envelope.Envelope, protocol string, env envelope.Envelope) {
	metrics.EnvelopesEmitted.WithLabelValues(env.MonitorID, protocol, string(env.Status)).Inc()
	if env.IsError() {
		metrics.EnvelopeErrors.WithLabelValues(env.MonitorID, string(env.Error.Type)).Inc()
	}
	select {
	case sink <- env:
	case <-ctx.Done():
	}
}
