// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package schema

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

func testSchema() Schema {
	return Schema{
		{Name: "url", Kind: KindString, Required: true, Pattern: regexp.MustCompile(`^https?://.+`)},
		{Name: "method", Kind: KindString, Default: "GET"},
		{Name: "interval", Kind: KindInteger, Required: true, Min: MinBound(100), Max: MaxBound(3_600_000)},
		{Name: "timeout", Kind: KindInteger, Default: 5000, Min: MinBound(100)},
		{Name: "verify", Kind: KindBoolean, Default: false},
		{Name: "headers", Kind: KindMap, Default: map[string]any{}},
	}
}

func TestApplyDefaults(t *testing.T) {
	values, reasons := testSchema().Apply(map[string]any{
		"url":      "http://example.com",
		"interval": float64(1000),
	}, "config")
	if len(reasons) != 0 {
		t.Fatalf("unexpected reasons: %v", reasons)
	}

	if got := values.String("url"); got != "http://example.com" {
		t.Errorf("url = %q", got)
	}
	if got := values.String("method"); got != "GET" {
		t.Errorf("method default = %q, want GET", got)
	}
	if got := values.Int("interval"); got != 1000 {
		t.Errorf("interval = %d, want 1000", got)
	}
	if got := values.Int("timeout"); got != 5000 {
		t.Errorf("timeout default = %d, want 5000", got)
	}
	if values.Bool("verify") {
		t.Error("verify default = true, want false")
	}
}

func TestApplyAccumulatesReasons(t *testing.T) {
	// Three independent faults must all surface in one pass.
	_, reasons := testSchema().Apply(map[string]any{
		"url":      12345,
		"interval": 50,
		"bogus":    true,
	}, "Monitor 'm' -> config")

	if len(reasons) != 3 {
		t.Fatalf("got %d reasons, want 3: %v", len(reasons), reasons)
	}

	wantFragments := []string{
		"Monitor 'm' -> config.bogus: unexpected field",
		"Monitor 'm' -> config.url: must be a string",
		"Monitor 'm' -> config.interval: must be >= 100",
	}
	joined := strings.Join(reasons, "\n")
	for _, fragment := range wantFragments {
		if !strings.Contains(joined, fragment) {
			t.Errorf("missing reason %q in %v", fragment, reasons)
		}
	}
}

func TestApplyFieldChecks(t *testing.T) {
	t.Run("required missing", func(t *testing.T) {
		_, reasons := testSchema().Apply(map[string]any{"interval": 500}, "config")
		if len(reasons) != 1 || reasons[0] != "config.url: required field missing" {
			t.Fatalf("reasons = %v", reasons)
		}
	})

	t.Run("pattern mismatch", func(t *testing.T) {
		_, reasons := testSchema().Apply(map[string]any{
			"url":      "ftp://example.com",
			"interval": 500,
		}, "config")
		if len(reasons) != 1 || !strings.Contains(reasons[0], "config.url: must match pattern") {
			t.Fatalf("reasons = %v", reasons)
		}
	})

	t.Run("bounds", func(t *testing.T) {
		for value, wantReason := range map[int]string{
			99:        "config.interval: must be >= 100",
			3_600_001: "config.interval: must be <= 3600000",
		} {
			_, reasons := testSchema().Apply(map[string]any{
				"url":      "http://example.com",
				"interval": value,
			}, "config")
			if len(reasons) != 1 || reasons[0] != wantReason {
				t.Errorf("interval=%d reasons = %v, want [%s]", value, reasons, wantReason)
			}
		}
	})

	t.Run("boundary values pass", func(t *testing.T) {
		for _, value := range []int{100, 3_600_000} {
			_, reasons := testSchema().Apply(map[string]any{
				"url":      "http://example.com",
				"interval": value,
			}, "config")
			if len(reasons) != 0 {
				t.Errorf("interval=%d reasons = %v, want none", value, reasons)
			}
		}
	})

	t.Run("integral float64 accepted as integer", func(t *testing.T) {
		values, reasons := testSchema().Apply(map[string]any{
			"url":      "http://example.com",
			"interval": float64(250),
		}, "config")
		if len(reasons) != 0 {
			t.Fatalf("reasons = %v", reasons)
		}
		if got := values.Int("interval"); got != 250 {
			t.Errorf("interval = %d, want 250", got)
		}
	})

	t.Run("fractional float64 rejected as integer", func(t *testing.T) {
		_, reasons := testSchema().Apply(map[string]any{
			"url":      "http://example.com",
			"interval": 250.5,
		}, "config")
		if len(reasons) != 1 || reasons[0] != "config.interval: must be an integer" {
			t.Fatalf("reasons = %v", reasons)
		}
	})

	t.Run("map type enforced", func(t *testing.T) {
		_, reasons := testSchema().Apply(map[string]any{
			"url":      "http://example.com",
			"interval": 500,
			"headers":  "not-a-map",
		}, "config")
		if len(reasons) != 1 || reasons[0] != "config.headers: must be a map" {
			t.Fatalf("reasons = %v", reasons)
		}
	})
}

func TestApplyCustomPredicate(t *testing.T) {
	s := Schema{
		{Name: "method", Kind: KindString, Required: true, Custom: func(v any) error {
			if v != "GET" && v != "POST" {
				return errors.New("must be a valid HTTP method")
			}
			return nil
		}},
	}

	if _, reasons := s.Apply(map[string]any{"method": "GET"}, "config"); len(reasons) != 0 {
		t.Fatalf("reasons = %v", reasons)
	}

	_, reasons := s.Apply(map[string]any{"method": "YEET"}, "config")
	if len(reasons) != 1 || reasons[0] != "config.method: must be a valid HTTP method" {
		t.Fatalf("reasons = %v", reasons)
	}
}

func TestApplyEnum(t *testing.T) {
	s := Schema{{Name: "mode", Kind: KindEnum, Required: true, Enum: []string{"push", "pull"}}}

	if _, reasons := s.Apply(map[string]any{"mode": "push"}, "config"); len(reasons) != 0 {
		t.Fatalf("reasons = %v", reasons)
	}
	_, reasons := s.Apply(map[string]any{"mode": "poll"}, "config")
	if len(reasons) != 1 || !strings.Contains(reasons[0], "must be one of [push pull]") {
		t.Fatalf("reasons = %v", reasons)
	}
}

func TestMissingRequired(t *testing.T) {
	reasons := testSchema().MissingRequired("Monitor 'm' -> config")
	want := []string{
		"Monitor 'm' -> config.url: required field missing",
		"Monitor 'm' -> config.interval: required field missing",
	}
	if len(reasons) != len(want) {
		t.Fatalf("reasons = %v", reasons)
	}
	for i, reason := range reasons {
		if reason != want[i] {
			t.Errorf("reasons[%d] = %q, want %q", i, reason, want[i])
		}
	}
}

func TestStringMap(t *testing.T) {
	v := Values{"headers": map[string]any{"a": "1", "b": 2}}
	got := v.StringMap("headers")
	if got["a"] != "1" || got["b"] != "2" {
		t.Errorf("StringMap = %v", got)
	}
	if (Values{}).StringMap("headers") != nil {
		t.Error("absent map should return nil")
	}
}
