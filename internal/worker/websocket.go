// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package worker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
)

// ProtocolWebSocket is the registry tag of the WebSocket streaming worker.
const ProtocolWebSocket = "websocket"

// wsMaxMessageSize caps inbound frames carried into envelopes.
const wsMaxMessageSize = 1 << 20 // 1 MB

var wsURLPattern = regexp.MustCompile(`^wss?://.+`)

//nolint:gochecknoinits // protocol self-registration at program init
func init() {
	Register(Descriptor{
		Tag:    ProtocolWebSocket,
		Schema: websocketSchema(),
		New:    newWebSocketWorker,
	})
}

// websocketSchema declares the websocket protocol config contract.
func websocketSchema() schema.Schema {
	return schema.Schema{
		{Name: "url", Kind: schema.KindString, Required: true, Pattern: wsURLPattern},
		{Name: "headers", Kind: schema.KindMap, Default: map[string]any{}},
		{Name: "handshake_timeout", Kind: schema.KindInteger, Default: 5000, Min: schema.MinBound(100), Max: schema.MaxBound(30_000)},
		{Name: "subscribe_message", Kind: schema.KindString, Default: ""},
		{Name: "verify_ssl", Kind: schema.KindBoolean, Default: false},
	}
}

// wsConfig is the typed form of a validated websocket protocol config.
type wsConfig struct {
	URL              string
	Headers          map[string]string
	HandshakeTimeout time.Duration
	SubscribeMessage string
	VerifySSL        bool
}

func wsConfigFromValues(v schema.Values) wsConfig {
	return wsConfig{
		URL:              v.String("url"),
		Headers:          v.StringMap("headers"),
		HandshakeTimeout: time.Duration(v.Int("handshake_timeout")) * time.Millisecond,
		SubscribeMessage: v.String("subscribe_message"),
		VerifySSL:        v.Bool("verify_ssl"),
	}
}

// wsFrame is one inbound frame handed from the reader goroutine to the
// run loop.
type wsFrame struct {
	messageType int
	payload     []byte
}

// WebSocketWorker streams one endpoint and emits a success envelope per
// inbound frame. On read failure or handshake failure it emits an error
// envelope and waits for the coordinator's Recover before redialing.
type WebSocketWorker struct {
	monitorID string
	cfg       wsConfig
	dialer    *websocket.Dialer
	sink      chan<- envelope.Envelope

	recoverCh chan retry.Action
	done      chan struct{}
	started   atomic.Bool

	lastSuccess time.Time
}

// newWebSocketWorker is the registered factory for the websocket tag.
func newWebSocketWorker(monitorID string, values schema.Values, sink chan<- envelope.Envelope) (Worker, error) {
	cfg := wsConfigFromValues(values)

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifySSL, //nolint:gosec // operator-controlled verify_ssl flag
		},
	}

	return &WebSocketWorker{
		monitorID: monitorID,
		cfg:       cfg,
		dialer:    dialer,
		sink:      sink,
		recoverCh: make(chan retry.Action, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start implements Worker.
func (w *WebSocketWorker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("websocket worker already started")
	}
	go w.run(ctx)
	return nil
}

// Recover implements Worker.
func (w *WebSocketWorker) Recover(action retry.Action) {
	select {
	case w.recoverCh <- action:
	case <-w.done:
	}
}

// Done implements Worker.
func (w *WebSocketWorker) Done() <-chan struct{} {
	return w.done
}

// run cycles through dial → stream; each failure emits an error envelope
// and parks the worker until Recover.
func (w *WebSocketWorker) run(ctx context.Context) {
	defer close(w.done)

	for {
		conn, err := w.dial(ctx)
		if err != nil {
			emit(ctx, w.sink, ProtocolWebSocket, err.envelope)
			if !w.awaitRecover(ctx) {
				return
			}
			continue
		}

		logging.Debug().
			Str("monitor", w.monitorID).
			Str("url", w.cfg.URL).
			Msg("websocket stream established")

		if !w.stream(ctx, conn) {
			return
		}
	}
}

// dialError pairs the transport error with its classified envelope.
type dialError struct {
	err      error
	envelope envelope.Envelope
}

// dial performs the handshake and sends the optional subscribe message.
func (w *WebSocketWorker) dial(ctx context.Context) (*websocket.Conn, *dialError) {
	header := make(http.Header, len(w.cfg.Headers))
	for k, v := range w.cfg.Headers {
		header.Set(k, v)
	}

	conn, resp, err := w.dialer.DialContext(ctx, w.cfg.URL, header)
	if err != nil {
		return nil, &dialError{err: err, envelope: w.classifyDialError(err, resp)}
	}
	conn.SetReadLimit(wsMaxMessageSize)

	if w.cfg.SubscribeMessage != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(w.cfg.SubscribeMessage)); err != nil {
			_ = conn.Close()
			return nil, &dialError{err: err, envelope: envelope.NewError(w.monitorID, envelope.TypeProtocol,
				fmt.Sprintf("send subscribe message: %v", err),
				map[string]any{"reason": err.Error()}, w.lastSuccess)}
		}
	}
	return conn, nil
}

// stream pumps frames until the connection breaks or the worker is told to
// stop. Returns false when the worker must terminate, true to redial.
func (w *WebSocketWorker) stream(ctx context.Context, conn *websocket.Conn) bool {
	frames := make(chan wsFrame)
	readErr := make(chan error, 1)

	// Closed when stream returns so a reader blocked on a frame send
	// cannot outlive this connection.
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- wsFrame{messageType: messageType, payload: payload}:
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return false

		case frame := <-frames:
			now := time.Now().UTC()
			w.lastSuccess = now
			emit(ctx, w.sink, ProtocolWebSocket, envelope.NewSuccess(w.monitorID, map[string]any{
				"message": decodePayload(frame.payload),
				"type":    wsMessageType(frame.messageType),
			}, now))

		case err := <-readErr:
			_ = conn.Close()
			emit(ctx, w.sink, ProtocolWebSocket, envelope.NewError(w.monitorID, envelope.TypeNetwork,
				fmt.Sprintf("stream closed: %v", err),
				map[string]any{"url": w.cfg.URL, "reason": err.Error()}, w.lastSuccess))
			return w.awaitRecover(ctx)

		case action := <-w.recoverCh:
			_ = conn.Close()
			if action.Command == retry.CommandShutdown {
				logging.Debug().Str("monitor", w.monitorID).Msg("websocket worker shutting down")
				return false
			}
			if !sleepCtx(ctx, action.Delay) {
				return false
			}
			return true
		}
	}
}

// classifyDialError maps a handshake failure onto the error taxonomy,
// using the HTTP response when the server rejected the upgrade.
func (w *WebSocketWorker) classifyDialError(err error, resp *http.Response) envelope.Envelope {
	details := map[string]any{"url": w.cfg.URL, "reason": err.Error()}

	errType := envelope.TypeNetwork
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		errType = envelope.TypeTimeout
	case resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
		errType = envelope.TypeAuthentication
		details["status_code"] = resp.StatusCode
	case errors.Is(err, websocket.ErrBadHandshake):
		errType = envelope.TypeProtocol
		if resp != nil {
			details["status_code"] = resp.StatusCode
		}
	}

	return envelope.NewError(w.monitorID, errType,
		fmt.Sprintf("dial %s: %v", w.cfg.URL, err), details, w.lastSuccess)
}

// awaitRecover parks the worker until the coordinator answers the error
// envelope. Returns false when the worker must terminate.
func (w *WebSocketWorker) awaitRecover(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case action := <-w.recoverCh:
		if action.Command == retry.CommandShutdown {
			logging.Debug().Str("monitor", w.monitorID).Msg("websocket worker shutting down")
			return false
		}
		return sleepCtx(ctx, action.Delay)
	}
}

// wsMessageType renders gorilla's frame type constants.
func wsMessageType(t int) string {
	switch t {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	default:
		return fmt.Sprintf("opcode_%d", t)
	}
}
