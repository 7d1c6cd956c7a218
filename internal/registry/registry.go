// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package registry implements the process-local fan-out index mapping
// subscriber names to live inboxes. A name may carry any number of
// inboxes; dispatch is non-blocking and best-effort, and delivery to one
// inbox never blocks delivery to the others.
package registry

import (
	"sync"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/metrics"
)

// Tag discriminates the two message kinds delivered to subscribers.
type Tag string

const (
	TagMonitorData  Tag = "monitor_data"
	TagMonitorError Tag = "monitor_error"
)

// Message is the unit delivered to subscriber inboxes.
type Message struct {
	Tag      Tag               `json:"tag"`
	Envelope envelope.Envelope `json:"envelope"`
}

// Registry is the shared many-to-many subscriber index. Register and
// Dispatch are atomic with respect to each other: dispatch holds the read
// lock for the duration of its non-blocking sends, so an unregister never
// completes while a send to that inbox is possible.
type Registry struct {
	mu   sync.RWMutex
	subs map[string][]chan<- Message
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{subs: make(map[string][]chan<- Message)}
}

// Register adds an inbox under a subscriber name and returns the matching
// unregister function. Registration is idempotent per (name, inbox) pair:
// re-registering the same channel under the same name is a no-op, and the
// returned cancel func is safe to call more than once.
//
// Subscribers own their inbox lifetime. Calling the cancel func and then
// closing the channel is safe: once the cancel func returns, no dispatch
// can reach the inbox.
func (r *Registry) Register(name string, inbox chan<- Message) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.subs[name] {
		if existing == inbox {
			return func() { r.unregister(name, inbox) }
		}
	}

	r.subs[name] = append(r.subs[name], inbox)
	metrics.SubscriberCount.Inc()

	logging.Debug().
		Str("subscriber", name).
		Int("inboxes", len(r.subs[name])).
		Msg("subscriber registered")

	return func() { r.unregister(name, inbox) }
}

// unregister removes one (name, inbox) pair. Safe to call repeatedly.
func (r *Registry) unregister(name string, inbox chan<- Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.subs[name]
	for i, existing := range entries {
		if existing == inbox {
			r.subs[name] = append(entries[:i:i], entries[i+1:]...)
			if len(r.subs[name]) == 0 {
				delete(r.subs, name)
			}
			metrics.SubscriberCount.Dec()
			return
		}
	}
}

// Dispatch sends a message to every inbox registered under name and
// returns the number of deliveries. Unknown names are silently dropped.
// Sends are non-blocking: a full inbox loses this message rather than
// stalling the publisher or the remaining inboxes. The read lock stays
// held across the sends so a subscriber that has unregistered may close
// its inbox without racing an in-flight dispatch.
func (r *Registry) Dispatch(name string, msg Message) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, inbox := range r.subs[name] {
		select {
		case inbox <- msg:
			delivered++
			metrics.DispatchDelivered.WithLabelValues(name).Inc()
		default:
			metrics.DispatchDropped.WithLabelValues(name).Inc()
			logging.Warn().
				Str("subscriber", name).
				Str("monitor", msg.Envelope.MonitorID).
				Str("tag", string(msg.Tag)).
				Msg("subscriber inbox full, dropping message")
		}
	}
	return delivered
}

// Subscribers returns the number of inboxes registered under name.
func (r *Registry) Subscribers(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[name])
}

// Names returns the currently registered subscriber names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.subs))
	for name := range r.subs {
		names = append(names, name)
	}
	return names
}
