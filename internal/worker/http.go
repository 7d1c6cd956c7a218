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
	"io"
	"net/http"
	"net/url"
	"regexp"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/metrics"
	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
)

// ProtocolHTTP is the registry tag of the HTTP polling worker.
const ProtocolHTTP = "http"

// maxResponseBody caps how much of a probe response is read and carried
// inside an envelope.
const maxResponseBody = 4 << 20 // 4 MB

var (
	httpURLPattern = regexp.MustCompile(`^https?://.+`)

	httpMethods = map[string]struct{}{
		http.MethodGet: {}, http.MethodPost: {}, http.MethodPut: {},
		http.MethodPatch: {}, http.MethodDelete: {}, http.MethodHead: {},
		http.MethodOptions: {},
	}
)

//nolint:gochecknoinits // protocol self-registration at program init
func init() {
	Register(Descriptor{
		Tag:    ProtocolHTTP,
		Schema: httpSchema(),
		New:    newHTTPWorker,
	})
}

// httpSchema declares the http protocol config contract.
func httpSchema() schema.Schema {
	return schema.Schema{
		{Name: "url", Kind: schema.KindString, Required: true, Pattern: httpURLPattern},
		{Name: "method", Kind: schema.KindString, Default: http.MethodGet, Custom: validMethod},
		{Name: "headers", Kind: schema.KindMap, Default: map[string]any{}},
		{Name: "interval", Kind: schema.KindInteger, Required: true, Min: schema.MinBound(100), Max: schema.MaxBound(3_600_000)},
		{Name: "timeout", Kind: schema.KindInteger, Default: 5000, Min: schema.MinBound(100), Max: schema.MaxBound(30_000)},
		{Name: "follow_redirect", Kind: schema.KindBoolean, Default: true},
		{Name: "verify_ssl", Kind: schema.KindBoolean, Default: false},
		{Name: "request_body", Kind: schema.KindString, Default: ""},
		{Name: "request_params", Kind: schema.KindMap, Default: map[string]any{}},
	}
}

// validMethod is the custom predicate for the method field.
func validMethod(value any) error {
	m, _ := value.(string)
	if _, ok := httpMethods[strings.ToUpper(m)]; !ok {
		return fmt.Errorf("unsupported HTTP method %q", m)
	}
	return nil
}

// httpConfig is the typed form of a validated http protocol config.
type httpConfig struct {
	URL            string
	Method         string
	Headers        map[string]string
	Interval       time.Duration
	Timeout        time.Duration
	FollowRedirect bool
	VerifySSL      bool
	RequestBody    string
	RequestParams  map[string]string
}

// httpConfigFromValues decodes schema values into the typed config.
func httpConfigFromValues(v schema.Values) httpConfig {
	return httpConfig{
		URL:            v.String("url"),
		Method:         strings.ToUpper(v.String("method")),
		Headers:        v.StringMap("headers"),
		Interval:       time.Duration(v.Int("interval")) * time.Millisecond,
		Timeout:        time.Duration(v.Int("timeout")) * time.Millisecond,
		FollowRedirect: v.Bool("follow_redirect"),
		VerifySSL:      v.Bool("verify_ssl"),
		RequestBody:    v.String("request_body"),
		RequestParams:  v.StringMap("request_params"),
	}
}

// HTTPWorker probes one HTTP endpoint on a periodic timer. The first probe
// fires immediately; after a success the next probe is scheduled at
// now + interval; after an error the worker goes quiet until Recover.
type HTTPWorker struct {
	monitorID string
	cfg       httpConfig
	client    *http.Client
	sink      chan<- envelope.Envelope

	recoverCh chan retry.Action
	done      chan struct{}
	started   atomic.Bool

	// lastSuccess is only touched from the run loop.
	lastSuccess time.Time
}

// newHTTPWorker is the registered factory for the http tag.
func newHTTPWorker(monitorID string, values schema.Values, sink chan<- envelope.Envelope) (Worker, error) {
	cfg := httpConfigFromValues(values)

	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !cfg.VerifySSL, //nolint:gosec // operator-controlled verify_ssl flag
			},
		},
	}
	if !cfg.FollowRedirect {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &HTTPWorker{
		monitorID: monitorID,
		cfg:       cfg,
		client:    client,
		sink:      sink,
		recoverCh: make(chan retry.Action, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start implements Worker.
func (w *HTTPWorker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("http worker already started")
	}
	go w.run(ctx)
	return nil
}

// Recover implements Worker.
func (w *HTTPWorker) Recover(action retry.Action) {
	select {
	case w.recoverCh <- action:
	case <-w.done:
	}
}

// Done implements Worker.
func (w *HTTPWorker) Done() <-chan struct{} {
	return w.done
}

// run is the collection loop. Timer state: timerC is nil exactly while the
// worker is awaiting a Recover command after an error emission.
func (w *HTTPWorker) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(0) // first fire at t=0
	defer timer.Stop()
	timerC := timer.C

	for {
		select {
		case <-ctx.Done():
			return

		case <-timerC:
			env := w.probe(ctx)
			emit(ctx, w.sink, ProtocolHTTP, env)
			if env.IsError() {
				// The retry policy owns scheduling from here.
				timerC = nil
				continue
			}
			timer.Reset(w.cfg.Interval)

		case action := <-w.recoverCh:
			if timerC != nil && !timer.Stop() {
				<-timerC
			}
			if action.Command == retry.CommandShutdown {
				logging.Debug().Str("monitor", w.monitorID).Msg("http worker shutting down")
				return
			}
			timer.Reset(action.Delay)
			timerC = timer.C
		}
	}
}

// probe performs one request and classifies the outcome into an envelope.
// A panic anywhere in the request path becomes an exception envelope.
func (w *HTTPWorker) probe(ctx context.Context) (env envelope.Envelope) {
	start := time.Now()
	defer func() {
		metrics.ObserveProbe(w.monitorID, ProtocolHTTP, time.Since(start))
		if r := recover(); r != nil {
			env = envelope.NewError(w.monitorID, envelope.TypeException,
				fmt.Sprintf("probe panic: %v", r),
				map[string]any{
					"kind":  fmt.Sprintf("%T", r),
					"error": fmt.Sprint(r),
				},
				w.lastSuccess,
			).WithStacktrace(string(debug.Stack()))
		}
	}()

	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := w.buildRequest(reqCtx)
	if err != nil {
		return envelope.NewError(w.monitorID, envelope.TypeClientError,
			err.Error(), map[string]any{"reason": err.Error()}, w.lastSuccess)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return w.classifyTransportError(err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		return envelope.NewError(w.monitorID, envelope.TypeClientError,
			fmt.Sprintf("read response body: %v", readErr),
			map[string]any{"reason": readErr.Error(), "status_code": resp.StatusCode},
			w.lastSuccess)
	}

	return w.classifyResponse(resp, body)
}

// buildRequest assembles the probe request from the typed config.
func (w *HTTPWorker) buildRequest(ctx context.Context) (*http.Request, error) {
	target, err := url.Parse(w.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(w.cfg.RequestParams) > 0 {
		query := target.Query()
		for k, v := range w.cfg.RequestParams {
			query.Set(k, v)
		}
		target.RawQuery = query.Encode()
	}

	var body io.Reader
	if w.cfg.RequestBody != "" {
		body = strings.NewReader(w.cfg.RequestBody)
	}

	req, err := http.NewRequestWithContext(ctx, w.cfg.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// classifyResponse maps an HTTP response onto the envelope contract:
// 2xx success, 3xx redirect (when not auto-followed), 4xx/5xx http_error.
func (w *HTTPWorker) classifyResponse(resp *http.Response, body []byte) envelope.Envelope {
	decoded := decodePayload(body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		now := time.Now().UTC()
		w.lastSuccess = now
		return envelope.NewSuccess(w.monitorID, map[string]any{
			"status_code": resp.StatusCode,
			"body":        decoded,
			"headers":     flattenHeaders(resp.Header),
		}, now)

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return envelope.NewError(w.monitorID, envelope.TypeRedirect,
			fmt.Sprintf("redirect not followed: %s", resp.Status),
			map[string]any{
				"status_code":  resp.StatusCode,
				"redirect_url": resp.Header.Get("Location"),
			}, w.lastSuccess)

	default:
		return envelope.NewError(w.monitorID, envelope.TypeHTTPError,
			fmt.Sprintf("endpoint returned %s", resp.Status),
			map[string]any{
				"status_code": resp.StatusCode,
				"body":        decoded,
			}, w.lastSuccess)
	}
}

// classifyTransportError separates timeouts from other transport failures.
func (w *HTTPWorker) classifyTransportError(err error) envelope.Envelope {
	errType := envelope.TypeClientError

	var urlErr *url.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &urlErr) && urlErr.Timeout()) {
		errType = envelope.TypeTimeout
	}

	return envelope.NewError(w.monitorID, errType, err.Error(),
		map[string]any{"reason": err.Error()}, w.lastSuccess)
}

// flattenHeaders keeps the first value of each response header.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
