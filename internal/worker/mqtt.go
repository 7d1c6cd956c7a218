// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package worker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
)

// ProtocolMQTT is the registry tag of the MQTT subscription worker.
const ProtocolMQTT = "mqtt"

var mqttBrokerPattern = regexp.MustCompile(`^(tcp|ssl|tls|ws|wss|mqtt|mqtts)://.+`)

//nolint:gochecknoinits // protocol self-registration at program init
func init() {
	Register(Descriptor{
		Tag:    ProtocolMQTT,
		Schema: mqttSchema(),
		New:    newMQTTWorker,
	})
}

// mqttSchema declares the mqtt protocol config contract.
func mqttSchema() schema.Schema {
	return schema.Schema{
		{Name: "broker_url", Kind: schema.KindString, Required: true, Pattern: mqttBrokerPattern},
		{Name: "topic", Kind: schema.KindString, Required: true, Custom: nonEmptyString},
		{Name: "qos", Kind: schema.KindInteger, Default: 0, Min: schema.MinBound(0), Max: schema.MaxBound(2)},
		{Name: "client_id", Kind: schema.KindString, Default: ""},
		{Name: "username", Kind: schema.KindString, Default: ""},
		{Name: "password", Kind: schema.KindString, Default: ""},
		{Name: "keep_alive", Kind: schema.KindInteger, Default: 60, Min: schema.MinBound(1), Max: schema.MaxBound(3600)},
		{Name: "connect_timeout", Kind: schema.KindInteger, Default: 5000, Min: schema.MinBound(100), Max: schema.MaxBound(30_000)},
	}
}

// nonEmptyString is the custom predicate for required free-form strings.
func nonEmptyString(value any) error {
	if s, _ := value.(string); s == "" {
		return errors.New("must be a non-empty string")
	}
	return nil
}

// mqttConfig is the typed form of a validated mqtt protocol config.
type mqttConfig struct {
	BrokerURL      string
	Topic          string
	QoS            byte
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

func mqttConfigFromValues(v schema.Values) mqttConfig {
	return mqttConfig{
		BrokerURL:      v.String("broker_url"),
		Topic:          v.String("topic"),
		QoS:            byte(v.Int("qos")),
		ClientID:       v.String("client_id"),
		Username:       v.String("username"),
		Password:       v.String("password"),
		KeepAlive:      time.Duration(v.Int("keep_alive")) * time.Second,
		ConnectTimeout: time.Duration(v.Int("connect_timeout")) * time.Millisecond,
	}
}

// mqttClient is the narrow slice of paho's client used by the worker,
// extracted so tests can substitute a fake broker connection.
type mqttClient interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// newMQTTClient builds the real paho client; replaced in tests.
var newMQTTClient = func(opts *mqtt.ClientOptions) mqttClient {
	return mqtt.NewClient(opts)
}

// MQTTWorker subscribes to one topic and emits a success envelope per
// inbound publish. Reconnection after connection loss is owned by the
// retry machinery, so paho's auto-reconnect stays disabled.
type MQTTWorker struct {
	monitorID string
	cfg       mqttConfig
	sink      chan<- envelope.Envelope

	recoverCh chan retry.Action
	done      chan struct{}
	started   atomic.Bool

	msgCh  chan mqtt.Message
	lostCh chan error

	lastSuccess time.Time
}

// newMQTTWorker is the registered factory for the mqtt tag.
func newMQTTWorker(monitorID string, values schema.Values, sink chan<- envelope.Envelope) (Worker, error) {
	return &MQTTWorker{
		monitorID: monitorID,
		cfg:       mqttConfigFromValues(values),
		sink:      sink,
		recoverCh: make(chan retry.Action, 1),
		done:      make(chan struct{}),
		msgCh:     make(chan mqtt.Message, 64),
		lostCh:    make(chan error, 1),
	}, nil
}

// Start implements Worker.
func (w *MQTTWorker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("mqtt worker already started")
	}
	go w.run(ctx)
	return nil
}

// Recover implements Worker.
func (w *MQTTWorker) Recover(action retry.Action) {
	select {
	case w.recoverCh <- action:
	case <-w.done:
	}
}

// Done implements Worker.
func (w *MQTTWorker) Done() <-chan struct{} {
	return w.done
}

// run cycles through connect → subscribe → consume. Every failure emits an
// error envelope and parks the worker until the coordinator's Recover.
func (w *MQTTWorker) run(ctx context.Context) {
	defer close(w.done)

	for {
		client, err := w.connect(ctx)
		if err != nil {
			emit(ctx, w.sink, ProtocolMQTT, w.classifyConnectError(err))
			if !w.awaitRecover(ctx) {
				return
			}
			continue
		}

		if err := w.subscribe(client); err != nil {
			client.Disconnect(0)
			emit(ctx, w.sink, ProtocolMQTT, envelope.NewError(w.monitorID, envelope.TypeProtocol,
				fmt.Sprintf("subscribe %s: %v", w.cfg.Topic, err),
				map[string]any{"topic": w.cfg.Topic, "reason": err.Error()}, w.lastSuccess))
			if !w.awaitRecover(ctx) {
				return
			}
			continue
		}

		logging.Debug().
			Str("monitor", w.monitorID).
			Str("broker", w.cfg.BrokerURL).
			Str("topic", w.cfg.Topic).
			Msg("mqtt subscription established")

		if !w.consume(ctx, client) {
			return
		}
	}
}

// connect dials the broker with auto-reconnect disabled.
func (w *MQTTWorker) connect(ctx context.Context) (mqttClient, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(w.cfg.BrokerURL).
		SetClientID(w.cfg.ClientID).
		SetUsername(w.cfg.Username).
		SetPassword(w.cfg.Password).
		SetKeepAlive(w.cfg.KeepAlive).
		SetConnectTimeout(w.cfg.ConnectTimeout).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case w.lostCh <- err:
			default:
			}
		})

	client := newMQTTClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(w.cfg.ConnectTimeout + time.Second) {
		return nil, context.DeadlineExceeded
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		client.Disconnect(0)
		return nil, err
	}
	return client, nil
}

// subscribe attaches the message handler feeding the consume loop. The
// handler only forwards into a buffered channel so emission order is
// serialized by the run loop.
func (w *MQTTWorker) subscribe(client mqttClient) error {
	token := client.Subscribe(w.cfg.Topic, w.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case w.msgCh <- msg:
		default:
			logging.Warn().
				Str("monitor", w.monitorID).
				Str("topic", msg.Topic()).
				Msg("mqtt inbound buffer full, dropping message")
		}
	})
	if !token.WaitTimeout(w.cfg.ConnectTimeout + time.Second) {
		return context.DeadlineExceeded
	}
	return token.Error()
}

// consume emits a success envelope per inbound message until the
// connection drops or the worker is told to stop. Returns false when the
// worker must terminate, true to attempt a reconnect cycle.
func (w *MQTTWorker) consume(ctx context.Context, client mqttClient) bool {
	for {
		select {
		case <-ctx.Done():
			client.Disconnect(250)
			return false

		case msg := <-w.msgCh:
			now := time.Now().UTC()
			w.lastSuccess = now
			emit(ctx, w.sink, ProtocolMQTT, envelope.NewSuccess(w.monitorID, map[string]any{
				"topic":   msg.Topic(),
				"payload": decodePayload(msg.Payload()),
				"qos":     int(msg.Qos()),
			}, now))

		case err := <-w.lostCh:
			client.Disconnect(0)
			reason := "connection lost"
			if err != nil {
				reason = err.Error()
			}
			emit(ctx, w.sink, ProtocolMQTT, envelope.NewError(w.monitorID, envelope.TypeNetwork,
				fmt.Sprintf("broker connection lost: %s", reason),
				map[string]any{"broker": w.cfg.BrokerURL, "reason": reason}, w.lastSuccess))
			return w.awaitRecover(ctx)

		case action := <-w.recoverCh:
			// Shutdown can arrive while connected (supervisor-driven).
			client.Disconnect(250)
			if action.Command == retry.CommandShutdown {
				return false
			}
			if !sleepCtx(ctx, action.Delay) {
				return false
			}
			return true
		}
	}
}

// classifyConnectError maps a dial failure onto the error taxonomy.
func (w *MQTTWorker) classifyConnectError(err error) envelope.Envelope {
	errType := envelope.TypeNetwork
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		errType = envelope.TypeTimeout
	case isMQTTAuthError(err):
		errType = envelope.TypeAuthentication
	}
	return envelope.NewError(w.monitorID, errType,
		fmt.Sprintf("connect %s: %v", w.cfg.BrokerURL, err),
		map[string]any{"broker": w.cfg.BrokerURL, "reason": err.Error()}, w.lastSuccess)
}

// isMQTTAuthError matches paho's CONNACK refusal reasons for credentials.
func isMQTTAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not authorized") ||
		strings.Contains(msg, "not authorised") ||
		strings.Contains(msg, "bad user name or password")
}

// awaitRecover parks the worker until the coordinator answers the error
// envelope. Returns false when the worker must terminate; on a retry
// command it sleeps the commanded delay first.
func (w *MQTTWorker) awaitRecover(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case action := <-w.recoverCh:
		if action.Command == retry.CommandShutdown {
			logging.Debug().Str("monitor", w.monitorID).Msg("mqtt worker shutting down")
			return false
		}
		return sleepCtx(ctx, action.Delay)
	}
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
