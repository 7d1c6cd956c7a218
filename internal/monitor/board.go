// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/registry"
)

// boardInboxSize buffers bursts across all monitors feeding the board.
const boardInboxSize = 256

// BoardEntry is the board's view of one monitor: the most recent
// envelope and running counts.
type BoardEntry struct {
	MonitorID string            `json:"monitor_id"`
	Last      envelope.Envelope `json:"last"`
	Successes uint64            `json:"successes"`
	Errors    uint64            `json:"errors"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Board is an ordinary subscriber that keeps the latest envelope per
// monitor for the status API. It attaches to the same registry fan-out
// as any external consumer; monitors never know it exists.
type Board struct {
	names []string
	reg   *registry.Registry
	inbox chan registry.Message

	mu      sync.RWMutex
	entries map[string]*BoardEntry
}

// NewBoard creates a board subscribing under every given rule name.
func NewBoard(reg *registry.Registry, names []string) *Board {
	return &Board{
		names:   names,
		reg:     reg,
		inbox:   make(chan registry.Message, boardInboxSize),
		entries: make(map[string]*BoardEntry),
	}
}

// Serve implements suture.Service: register under every rule name, then
// fold inbound envelopes into the per-monitor table until cancellation.
func (b *Board) Serve(ctx context.Context) error {
	cancels := make([]func(), 0, len(b.names))
	for _, name := range b.names {
		cancels = append(cancels, b.reg.Register(name, b.inbox))
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.inbox:
			b.record(msg)
		}
	}
}

// String implements fmt.Stringer for suture's log messages.
func (b *Board) String() string {
	return "status-board"
}

func (b *Board) record(msg registry.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[msg.Envelope.MonitorID]
	if !ok {
		entry = &BoardEntry{MonitorID: msg.Envelope.MonitorID}
		b.entries[msg.Envelope.MonitorID] = entry
	}
	entry.Last = msg.Envelope
	entry.UpdatedAt = time.Now().UTC()
	if msg.Tag == registry.TagMonitorError {
		entry.Errors++
	} else {
		entry.Successes++
	}
}

// Entry returns the board's view of one monitor.
func (b *Board) Entry(monitorID string) (BoardEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.entries[monitorID]
	if !ok {
		return BoardEntry{}, false
	}
	return *entry, true
}

// Entries returns a copy of every monitor's board entry.
func (b *Board) Entries() map[string]BoardEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]BoardEntry, len(b.entries))
	for id, entry := range b.entries {
		out[id] = *entry
	}
	return out
}
