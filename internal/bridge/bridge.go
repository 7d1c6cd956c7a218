// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package bridge forwards dispatched envelopes onto a NATS broker so
// external consumers can subscribe outside the process. The bridge is an
// ordinary registry subscriber; monitors are unaware of it.
package bridge

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/metrics"
	"github.com/JorgeSuarezV/argos/internal/registry"
)

// defaultInboxSize buffers envelope bursts while the broker round-trips.
const defaultInboxSize = 1024

// Bridge subscribes under a set of rule names and republishes every
// received envelope to <prefix>.<rule>.<tag>.
type Bridge struct {
	names     []string
	prefix    string
	reg       *registry.Registry
	publisher *Publisher
	inbox     chan registry.Message
}

// New creates a bridge forwarding the given rule names' traffic.
func New(reg *registry.Registry, publisher *Publisher, names []string, prefix string, inboxSize int) *Bridge {
	if inboxSize <= 0 {
		inboxSize = defaultInboxSize
	}
	return &Bridge{
		names:     names,
		prefix:    prefix,
		reg:       reg,
		publisher: publisher,
		inbox:     make(chan registry.Message, inboxSize),
	}
}

// Serve implements suture.Service: register one inbox per rule name and
// forward until cancellation. The publisher is closed on the way out.
func (b *Bridge) Serve(ctx context.Context) error {
	// Forwarding needs one inbox per rule so the subject can carry the
	// rule name; a shared inbox would lose the fan-out key.
	type namedInbox struct {
		name  string
		ch    chan registry.Message
		close func()
	}

	inboxes := make([]namedInbox, 0, len(b.names))
	for _, name := range b.names {
		ch := make(chan registry.Message, cap(b.inbox))
		cancel := b.reg.Register(name, ch)
		inboxes = append(inboxes, namedInbox{name: name, ch: ch, close: cancel})
	}
	defer func() {
		for _, in := range inboxes {
			in.close()
		}
		if err := b.publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("bridge publisher close failed")
		}
	}()

	logging.Info().
		Strs("rules", b.names).
		Str("prefix", b.prefix).
		Msg("broker bridge forwarding")

	// One forwarding goroutine per rule keeps per-rule ordering without
	// serializing unrelated rules behind one another.
	errCh := make(chan error, len(inboxes))
	for _, in := range inboxes {
		go func(in namedInbox) {
			for {
				select {
				case <-ctx.Done():
					errCh <- nil
					return
				case msg := <-in.ch:
					if err := b.forward(in.name, msg); err != nil {
						logging.Error().
							Err(err).
							Str("rule", in.name).
							Str("monitor", msg.Envelope.MonitorID).
							Msg("bridge publish failed, envelope dropped")
					}
				}
			}
		}(in)
	}

	for range inboxes {
		<-errCh
	}
	return ctx.Err()
}

// String implements fmt.Stringer for suture's log messages.
func (b *Bridge) String() string {
	return "broker-bridge"
}

// forward serializes one envelope and publishes it.
func (b *Bridge) forward(rule string, msg registry.Message) error {
	subject := fmt.Sprintf("%s.%s.%s", b.prefix, rule, msg.Tag)

	payload, err := json.Marshal(msg)
	if err != nil {
		metrics.BridgeErrors.WithLabelValues(subject).Inc()
		return fmt.Errorf("marshal envelope: %w", err)
	}

	wmMsg := message.NewMessage(uuid.New().String(), payload)
	wmMsg.Metadata.Set("monitor_id", msg.Envelope.MonitorID)
	wmMsg.Metadata.Set("tag", string(msg.Tag))

	if err := b.publisher.Publish(subject, wmMsg); err != nil {
		metrics.BridgeErrors.WithLabelValues(subject).Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	metrics.BridgePublished.WithLabelValues(subject).Inc()
	return nil
}
