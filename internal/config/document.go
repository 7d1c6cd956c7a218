// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package config loads and validates the operator's monitor document.
//
// The document is a single JSON file describing every probe and its
// downstream fan-out. It is loaded once at boot; the validator turns it
// into fully-typed Monitor records, accumulating every fault instead of
// failing fast, and the runtime refuses to start any monitor when the
// document is invalid.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
)

// Monitor is one validated probe description. Created by the validator;
// immutable thereafter.
type Monitor struct {
	// Name is the operator-assigned monitor id, unique within a document.
	Name string

	// Type is the protocol tag resolved against the worker registry.
	Type string

	// Config is the typed protocol configuration keyed by schema field
	// names, with declared defaults applied.
	Config schema.Values

	// Policy governs retry/backoff for this monitor.
	Policy retry.Policy

	// InformTo lists the rule names subscribed to this monitor's output,
	// in rule declaration order. Never empty for a validated monitor.
	InformTo []string
}

// LoadDocument reads and decodes the monitor document from disk. The
// result stays loosely typed; Validate performs all semantic checks.
func LoadDocument(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read monitor document: %w", err)
	}
	return DecodeDocument(raw)
}

// DecodeDocument decodes a JSON monitor document.
func DecodeDocument(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode monitor document: %w", err)
	}
	return doc, nil
}
