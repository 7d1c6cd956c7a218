// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package bridge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/JorgeSuarezV/argos/internal/logging"
)

// ErrPublisherClosed is returned from Publish after Close.
var ErrPublisherClosed = errors.New("bridge publisher is closed")

// PublisherConfig configures the NATS connection behind the bridge.
type PublisherConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Publisher wraps a Watermill publisher with circuit breaker protection
// so a flapping broker cannot stall envelope forwarding.
type Publisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[any]

	mu     sync.RWMutex
	closed bool
}

// NewNATSPublisher builds the production Watermill NATS publisher with
// reconnection handling.
func NewNATSPublisher(cfg PublisherConfig) (*Publisher, error) {
	logger := newWatermillLogger()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("bridge disconnected from broker")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("bridge reconnected to broker")
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create bridge publisher: %w", err)
	}
	return NewPublisher(pub), nil
}

// NewPublisher wraps any Watermill publisher with the bridge's breaker.
// Tests pass a gochannel publisher here.
func NewPublisher(pub message.Publisher) *Publisher {
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:     "bridge-publisher",
		Interval: time.Minute,
		Timeout:  15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("bridge circuit breaker state changed")
		},
	})
	return &Publisher{publisher: pub, breaker: breaker}
}

// Publish sends one message to the subject through the breaker.
func (p *Publisher) Publish(subject string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPublisherClosed
	}
	p.mu.RUnlock()

	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(subject, msg)
	})
	return err
}

// BreakerState reports the breaker state for the readiness endpoint.
func (p *Publisher) BreakerState() string {
	return p.breaker.State().String()
}

// Close shuts the underlying publisher down. Safe to call repeatedly.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
