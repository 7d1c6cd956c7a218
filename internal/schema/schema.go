// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package schema describes the expected shape of a protocol config as a
// value-level structure. Each protocol worker advertises a Schema; the
// config validator applies it to the operator's raw JSON and produces a
// typed value map.
package schema

import (
	"fmt"
	"math"
	"regexp"
	"sort"
)

// Kind is the closed set of field types a schema can declare.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindFloat   Kind = "float"
	KindBoolean Kind = "boolean"
	KindMap     Kind = "map"
	KindList    Kind = "list"
	KindEnum    Kind = "enum"
)

// Field declares one expected field of a protocol config.
type Field struct {
	Name     string
	Kind     Kind
	Required bool

	// Default is applied when an optional field is absent. Must already be
	// of the field's typed representation (string, int, float64, bool,
	// map[string]any, []any).
	Default any

	// Elem is the element kind for KindList fields.
	Elem Kind

	// Enum lists the permitted values for KindEnum fields.
	Enum []string

	// Min and Max bound numeric fields when non-nil.
	Min *float64
	Max *float64

	// Pattern constrains string fields when non-nil.
	Pattern *regexp.Regexp

	// Custom is an optional predicate run after all structural checks.
	// It returns nil for ok or an error carrying the reason.
	Custom func(value any) error
}

// Schema is the ordered field list for one protocol tag.
type Schema []Field

// Values is a validated, typed config map keyed by schema field names.
// Integer fields are stored as int, floats as float64.
type Values map[string]any

// Int returns the named field as an int. Zero if absent or mistyped;
// schemas guarantee the type for validated values.
func (v Values) Int(name string) int {
	n, _ := v[name].(int)
	return n
}

// String returns the named field as a string.
func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

// Bool returns the named field as a bool.
func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

// Map returns the named field as a map.
func (v Values) Map(name string) map[string]any {
	m, _ := v[name].(map[string]any)
	return m
}

// StringMap returns the named map field with its values rendered as
// strings. Non-string values are formatted with fmt.Sprint.
func (v Values) StringMap(name string) map[string]string {
	raw := v.Map(name)
	if raw == nil {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprint(val)
	}
	return out
}

// Apply validates a raw JSON-decoded config map against the schema and
// returns the typed values plus every reason found. The prefix is
// prepended to each reason so callers can locate the fault
// ("Monitor 'x' -> config"). Apply never short-circuits: all independent
// faults across all fields are reported in one pass.
func (s Schema) Apply(raw map[string]any, prefix string) (Values, []string) {
	var reasons []string
	values := make(Values, len(s))

	declared := make(map[string]Field, len(s))
	for _, f := range s {
		declared[f.Name] = f
	}

	// Unexpected fields first, in sorted order for stable output.
	var unexpected []string
	for name := range raw {
		if _, ok := declared[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	sort.Strings(unexpected)
	for _, name := range unexpected {
		reasons = append(reasons, fmt.Sprintf("%s.%s: unexpected field", prefix, name))
	}

	for _, f := range s {
		rawValue, present := raw[f.Name]
		if !present {
			if f.Required {
				reasons = append(reasons, fmt.Sprintf("%s.%s: required field missing", prefix, f.Name))
				continue
			}
			if f.Default != nil {
				values[f.Name] = f.Default
			}
			continue
		}

		typed, fieldReasons := f.check(rawValue, fmt.Sprintf("%s.%s", prefix, f.Name))
		if len(fieldReasons) > 0 {
			reasons = append(reasons, fieldReasons...)
			continue
		}
		values[f.Name] = typed
	}

	return values, reasons
}

// MissingRequired returns one "required field missing" reason per required
// field. The validator uses it when the config map itself is absent so the
// operator still sees the complete picture.
func (s Schema) MissingRequired(prefix string) []string {
	var reasons []string
	for _, f := range s {
		if f.Required {
			reasons = append(reasons, fmt.Sprintf("%s.%s: required field missing", prefix, f.Name))
		}
	}
	return reasons
}

// check validates a single present value and converts it to its typed
// representation.
func (f Field) check(value any, path string) (any, []string) {
	var reasons []string

	switch f.Kind {
	case KindString:
		s, ok := value.(string)
		if !ok {
			return nil, []string{fmt.Sprintf("%s: must be a string", path)}
		}
		if f.Pattern != nil && !f.Pattern.MatchString(s) {
			reasons = append(reasons, fmt.Sprintf("%s: must match pattern %s", path, f.Pattern.String()))
		}
		if err := f.runCustom(s, path, &reasons); err != nil {
			return nil, reasons
		}
		if len(reasons) > 0 {
			return nil, reasons
		}
		return s, nil

	case KindInteger:
		n, ok := asInteger(value)
		if !ok {
			return nil, []string{fmt.Sprintf("%s: must be an integer", path)}
		}
		f.checkBounds(float64(n), path, &reasons)
		if err := f.runCustom(n, path, &reasons); err != nil {
			return nil, reasons
		}
		if len(reasons) > 0 {
			return nil, reasons
		}
		return n, nil

	case KindFloat:
		x, ok := asFloat(value)
		if !ok {
			return nil, []string{fmt.Sprintf("%s: must be a number", path)}
		}
		f.checkBounds(x, path, &reasons)
		if err := f.runCustom(x, path, &reasons); err != nil {
			return nil, reasons
		}
		if len(reasons) > 0 {
			return nil, reasons
		}
		return x, nil

	case KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, []string{fmt.Sprintf("%s: must be a boolean", path)}
		}
		if err := f.runCustom(b, path, &reasons); err != nil {
			return nil, reasons
		}
		return b, nil

	case KindMap:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, []string{fmt.Sprintf("%s: must be a map", path)}
		}
		if err := f.runCustom(m, path, &reasons); err != nil {
			return nil, reasons
		}
		return m, nil

	case KindList:
		list, ok := value.([]any)
		if !ok {
			return nil, []string{fmt.Sprintf("%s: must be a list", path)}
		}
		if f.Elem != "" {
			elemField := Field{Name: f.Name, Kind: f.Elem, Enum: f.Enum}
			typed := make([]any, 0, len(list))
			for i, item := range list {
				v, itemReasons := elemField.check(item, fmt.Sprintf("%s[%d]", path, i))
				if len(itemReasons) > 0 {
					reasons = append(reasons, itemReasons...)
					continue
				}
				typed = append(typed, v)
			}
			if len(reasons) > 0 {
				return nil, reasons
			}
			list = typed
		}
		if err := f.runCustom(list, path, &reasons); err != nil {
			return nil, reasons
		}
		return list, nil

	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return nil, []string{fmt.Sprintf("%s: must be a string", path)}
		}
		for _, allowed := range f.Enum {
			if s == allowed {
				if err := f.runCustom(s, path, &reasons); err != nil {
					return nil, reasons
				}
				return s, nil
			}
		}
		return nil, []string{fmt.Sprintf("%s: must be one of %v", path, f.Enum)}

	default:
		return nil, []string{fmt.Sprintf("%s: unknown schema kind %q", path, f.Kind)}
	}
}

// checkBounds appends reasons for violated numeric bounds.
func (f Field) checkBounds(x float64, path string, reasons *[]string) {
	if f.Min != nil && x < *f.Min {
		*reasons = append(*reasons, fmt.Sprintf("%s: must be >= %s", path, formatBound(*f.Min)))
	}
	if f.Max != nil && x > *f.Max {
		*reasons = append(*reasons, fmt.Sprintf("%s: must be <= %s", path, formatBound(*f.Max)))
	}
}

// runCustom invokes the custom predicate if set, recording its reason.
func (f Field) runCustom(value any, path string, reasons *[]string) error {
	if f.Custom == nil {
		return nil
	}
	if err := f.Custom(value); err != nil {
		*reasons = append(*reasons, fmt.Sprintf("%s: %s", path, err.Error()))
		return err
	}
	return nil
}

// asInteger accepts int and integral JSON numbers (float64).
func asInteger(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// asFloat accepts any JSON number.
func asFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func formatBound(x float64) string {
	if x == math.Trunc(x) {
		return fmt.Sprintf("%d", int64(x))
	}
	return fmt.Sprintf("%g", x)
}

// MinBound is a convenience for declaring bounds inline.
func MinBound(x float64) *float64 { return &x }

// MaxBound is a convenience for declaring bounds inline.
func MaxBound(x float64) *float64 { return &x }
