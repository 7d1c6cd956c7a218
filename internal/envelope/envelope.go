// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package envelope defines the normalized record every protocol worker
// emits. An envelope is either a success carrying protocol-shaped data or
// a classified error; it is the only shape crossing an internal boundary,
// so downstream subscribers stay protocol-agnostic.
package envelope

import (
	"errors"
	"fmt"
	"time"
)

// Status discriminates the two envelope arms.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// MetaStatus describes the worker's connection state at emission time.
type MetaStatus string

const (
	MetaConnected    MetaStatus = "connected"
	MetaDisconnected MetaStatus = "disconnected"
	MetaConnecting   MetaStatus = "connecting"
	MetaError        MetaStatus = "error"
)

// ErrorType classifies an operational failure. The set is closed; workers
// must map every failure onto one of these values, falling back to
// TypeUnknown.
type ErrorType string

const (
	TypeNetwork        ErrorType = "network"
	TypeProtocol       ErrorType = "protocol"
	TypeAuthentication ErrorType = "authentication"
	TypeTimeout        ErrorType = "timeout"
	TypeParse          ErrorType = "parse"
	TypeRedirect       ErrorType = "redirect"
	TypeHTTPError      ErrorType = "http_error"
	TypeClientError    ErrorType = "client_error"
	TypeException      ErrorType = "exception"
	TypeUnknown        ErrorType = "unknown"
)

// errorTypes is the closed set used by ParseErrorType.
var errorTypes = map[ErrorType]struct{}{
	TypeNetwork:        {},
	TypeProtocol:       {},
	TypeAuthentication: {},
	TypeTimeout:        {},
	TypeParse:          {},
	TypeRedirect:       {},
	TypeHTTPError:      {},
	TypeClientError:    {},
	TypeException:      {},
	TypeUnknown:        {},
}

// ParseErrorType converts a string to an ErrorType, erroring on unknown
// values rather than interning arbitrary strings.
func ParseErrorType(s string) (ErrorType, error) {
	t := ErrorType(s)
	if _, ok := errorTypes[t]; !ok {
		return "", fmt.Errorf("unknown error type %q", s)
	}
	return t, nil
}

// ErrorDetail carries the classified failure of an error envelope.
// Details preserves transport-specific context (HTTP status code, response
// body, broker reason) as a free-form map.
type ErrorDetail struct {
	Type       ErrorType      `json:"type"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Stacktrace string         `json:"stacktrace,omitempty"`
}

// Meta is attached to every envelope.
type Meta struct {
	Status      MetaStatus `json:"status"`
	LastSuccess time.Time  `json:"last_success"`
}

// Envelope is the normalized success-or-error record. Exactly one of Data
// and Error is non-nil; Timestamp is always UTC.
type Envelope struct {
	MonitorID string         `json:"monitor_id"`
	Timestamp time.Time      `json:"timestamp"`
	Status    Status         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ErrorDetail   `json:"error,omitempty"`
	Meta      Meta           `json:"meta"`
}

// NewSuccess builds a success envelope for the given monitor. lastSuccess
// is recorded in meta; callers pass the instant of this success.
func NewSuccess(monitorID string, data map[string]any, lastSuccess time.Time) Envelope {
	now := time.Now().UTC()
	return Envelope{
		MonitorID: monitorID,
		Timestamp: now,
		Status:    StatusOK,
		Data:      data,
		Meta: Meta{
			Status:      MetaConnected,
			LastSuccess: lastSuccess.UTC(),
		},
	}
}

// NewError builds an error envelope. lastSuccess is the most recent
// successful probe instant (zero if none).
func NewError(monitorID string, errType ErrorType, message string, details map[string]any, lastSuccess time.Time) Envelope {
	now := time.Now().UTC()
	return Envelope{
		MonitorID: monitorID,
		Timestamp: now,
		Status:    StatusError,
		Error: &ErrorDetail{
			Type:      errType,
			Message:   message,
			Details:   details,
			Timestamp: now,
		},
		Meta: Meta{
			Status:      MetaError,
			LastSuccess: lastSuccess.UTC(),
		},
	}
}

// WithStacktrace returns a copy of the envelope with the stacktrace set on
// its error arm. No-op for success envelopes.
func (e Envelope) WithStacktrace(stack string) Envelope {
	if e.Error == nil {
		return e
	}
	detail := *e.Error
	detail.Stacktrace = stack
	e.Error = &detail
	return e
}

// IsError reports whether the envelope carries the error arm.
func (e Envelope) IsError() bool {
	return e.Status == StatusError
}

// Validate checks the envelope invariants: a monitor id, a timestamp, and
// exactly one populated arm matching the status discriminator.
func (e Envelope) Validate() error {
	if e.MonitorID == "" {
		return errors.New("envelope: missing monitor_id")
	}
	if e.Timestamp.IsZero() {
		return errors.New("envelope: missing timestamp")
	}
	switch e.Status {
	case StatusOK:
		if e.Error != nil {
			return errors.New("envelope: success arm carries an error")
		}
	case StatusError:
		if e.Error == nil {
			return errors.New("envelope: error arm carries no error detail")
		}
		if e.Data != nil {
			return errors.New("envelope: error arm carries data")
		}
		if _, err := ParseErrorType(string(e.Error.Type)); err != nil {
			return fmt.Errorf("envelope: %w", err)
		}
	default:
		return fmt.Errorf("envelope: unknown status %q", e.Status)
	}
	return nil
}
