// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/JorgeSuarezV/argos/internal/retry"
	"github.com/JorgeSuarezV/argos/internal/schema"
)

// UnknownRuleName is the synthetic name under which rule faults are
// reported when the rule's own name is missing or unrecoverable.
const UnknownRuleName = "UNKNOWN"

// retryPolicyKeys is the exact key set a retry_policy map may carry.
var retryPolicyKeys = map[string]struct{}{
	"max_retries":      {},
	"retry_timeout":    {},
	"backoff_strategy": {},
}

// ValidationError aggregates every reason the validator found. It is
// returned as a single error so callers refuse to start any monitor.
type ValidationError struct {
	Reasons []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid monitor document: %s", strings.Join(e.Reasons, "; "))
}

// Validate transforms a decoded document into fully-typed Monitor records.
//
// It never short-circuits: all independent faults across every rule and
// monitor are collected, deduplicated, and returned together. A failing
// monitor does not abort validation of its siblings. On any fault the
// monitor slice is nil.
//
// schemas maps protocol tag to the field schema advertised by the
// installed worker for that tag.
func Validate(doc map[string]any, schemas map[string]schema.Schema) ([]Monitor, []string) {
	var reasons []string

	subscribers, ruleReasons := indexRules(doc)
	reasons = append(reasons, ruleReasons...)

	entries, structReasons := monitorEntries(doc)
	reasons = append(reasons, structReasons...)

	seen := make(map[string]struct{}, len(entries))
	monitors := make([]Monitor, 0, len(entries))

	for i, entry := range entries {
		m, monitorReasons := validateMonitor(i, entry, schemas, subscribers, seen)
		if len(monitorReasons) > 0 {
			reasons = append(reasons, monitorReasons...)
			continue
		}
		monitors = append(monitors, m)
	}

	reasons = dedupe(reasons)
	if len(reasons) > 0 {
		return nil, reasons
	}
	return monitors, nil
}

// indexRules performs pass 1: the rule structural check. It returns the
// monitor-name → rule-name index used to compute inform_to, plus every
// structural reason. Rules with faults still contribute valid targets to
// the index where possible.
func indexRules(doc map[string]any) (map[string][]string, []string) {
	var reasons []string
	subscribers := make(map[string][]string)

	rawRules, present := doc["rules"]
	if !present {
		return subscribers, nil
	}
	rules, ok := rawRules.([]any)
	if !ok {
		return subscribers, []string{"document: 'rules' must be a list"}
	}

	for _, rawRule := range rules {
		rule, ok := rawRule.(map[string]any)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("Rule '%s' must be a map", UnknownRuleName))
			continue
		}

		name := UnknownRuleName
		if n, ok := rule["name"].(string); ok && n != "" {
			name = n
		} else {
			reasons = append(reasons, fmt.Sprintf("Rule '%s' must have a non-empty 'name' field", UnknownRuleName))
		}

		targets, targetReasons := ruleTargets(name, rule["monitor"])
		reasons = append(reasons, targetReasons...)

		if name == UnknownRuleName {
			// Cannot index a rule nobody can refer to.
			continue
		}
		for _, target := range targets {
			subscribers[target] = append(subscribers[target], name)
		}
	}

	return subscribers, reasons
}

// ruleTargets extracts the monitor names a rule targets. The monitor field
// must be a non-empty string or a list of non-empty strings; everything
// else is reported. Valid list entries are kept even when siblings fail.
func ruleTargets(ruleName string, raw any) ([]string, []string) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, []string{fmt.Sprintf("Rule '%s' -> monitor: must be a non-empty string", ruleName)}
		}
		return []string{v}, nil

	case []any:
		var targets []string
		var reasons []string
		for i, item := range v {
			s, ok := item.(string)
			if !ok || s == "" {
				reasons = append(reasons, fmt.Sprintf("Rule '%s' -> monitor[%d]: must be a non-empty string", ruleName, i))
				continue
			}
			targets = append(targets, s)
		}
		return targets, reasons

	default:
		return nil, []string{fmt.Sprintf("Rule '%s' must have a 'monitor' field", ruleName)}
	}
}

// monitorEntries extracts the monitors.single array, reporting top-level
// structural faults.
func monitorEntries(doc map[string]any) ([]any, []string) {
	rawMonitors, present := doc["monitors"]
	if !present {
		return nil, nil
	}
	monitors, ok := rawMonitors.(map[string]any)
	if !ok {
		return nil, []string{"document: 'monitors' must be a map"}
	}

	rawSingle, present := monitors["single"]
	if !present {
		return nil, nil
	}
	single, ok := rawSingle.([]any)
	if !ok {
		return nil, []string{"document: 'monitors.single' must be a list"}
	}
	return single, nil
}

// validateMonitor performs pass 2 for one monitor entry. It returns either
// a fully-built Monitor record or the complete list of reasons found.
func validateMonitor(
	index int,
	rawEntry any,
	schemas map[string]schema.Schema,
	subscribers map[string][]string,
	seen map[string]struct{},
) (Monitor, []string) {
	entry, ok := rawEntry.(map[string]any)
	if !ok {
		return Monitor{}, []string{fmt.Sprintf("Monitor at index %d must be a map", index)}
	}

	name, ok := entry["name"].(string)
	if !ok || name == "" {
		return Monitor{}, []string{fmt.Sprintf("Monitor at index %d must have a non-empty 'name' field", index)}
	}

	if _, dup := seen[name]; dup {
		return Monitor{}, []string{fmt.Sprintf("Monitor '%s' is declared more than once", name)}
	}
	seen[name] = struct{}{}

	rawType, present := entry["type"]
	if !present {
		return Monitor{}, []string{fmt.Sprintf("Monitor '%s' -> type: required field missing", name)}
	}
	tag, ok := rawType.(string)
	if !ok {
		return Monitor{}, []string{fmt.Sprintf("Monitor '%s' -> type: must be a string", name)}
	}
	protoSchema, known := schemas[tag]
	if !known {
		return Monitor{}, []string{fmt.Sprintf("Monitor '%s' -> type: unknown protocol %q", name, tag)}
	}

	var reasons []string

	policy, policyReasons := validateRetryPolicy(name, entry["retry_policy"])
	reasons = append(reasons, policyReasons...)

	values, configReasons := validateProtocolConfig(name, entry["config"], protoSchema)
	reasons = append(reasons, configReasons...)

	informTo := dedupe(subscribers[name])
	if len(informTo) == 0 {
		reasons = append(reasons, fmt.Sprintf("Monitor '%s' is not targeted by any rule", name))
	}

	if len(reasons) > 0 {
		return Monitor{}, reasons
	}

	return Monitor{
		Name:     name,
		Type:     tag,
		Config:   values,
		Policy:   policy,
		InformTo: informTo,
	}, nil
}

// validateRetryPolicy checks the retry_policy map: exactly the three
// declared keys, max_retries a non-negative integer or null, retry_timeout
// a positive integer, backoff_strategy a known variant. Each failure is
// reported independently.
//
// A null max_retries disables retry exhaustion (the monitor retries
// forever); see Policy.Unlimited.
func validateRetryPolicy(monitorName string, raw any) (retry.Policy, []string) {
	prefix := fmt.Sprintf("Monitor '%s' -> retry_policy", monitorName)

	if raw == nil {
		return retry.Policy{}, []string{prefix + ": required field missing"}
	}
	rp, ok := raw.(map[string]any)
	if !ok {
		return retry.Policy{}, []string{prefix + ": must be a map"}
	}

	var reasons []string
	for key := range rp {
		if _, allowed := retryPolicyKeys[key]; !allowed {
			reasons = append(reasons, fmt.Sprintf("%s.%s: unexpected field", prefix, key))
		}
	}

	var policy retry.Policy

	rawMax, present := rp["max_retries"]
	switch {
	case !present:
		reasons = append(reasons, prefix+".max_retries: required field missing")
	case rawMax == nil:
		policy.Unlimited = true
	default:
		if n, ok := asInt(rawMax); ok && n >= 0 {
			policy.MaxRetries = n
		} else {
			reasons = append(reasons, prefix+".max_retries: must be a non-negative integer or null")
		}
	}

	if n, ok := asInt(rp["retry_timeout"]); ok && n > 0 {
		policy.Timeout = millis(n)
	} else {
		reasons = append(reasons, prefix+".retry_timeout: must be a positive integer")
	}

	if s, ok := rp["backoff_strategy"].(string); ok {
		strategy, err := retry.ParseStrategy(s)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s.backoff_strategy: must be one of [fixed linear exponential]", prefix))
		} else {
			policy.Strategy = strategy
		}
	} else {
		reasons = append(reasons, fmt.Sprintf("%s.backoff_strategy: must be one of [fixed linear exponential]", prefix))
	}

	if len(reasons) > 0 {
		return retry.Policy{}, reasons
	}
	return policy, nil
}

// validateProtocolConfig applies the protocol schema to the config map.
// When config is absent or not a map, the structural fault is reported
// together with one "required field missing" per required schema field so
// the operator sees the complete picture in a single pass.
func validateProtocolConfig(monitorName string, raw any, protoSchema schema.Schema) (schema.Values, []string) {
	prefix := fmt.Sprintf("Monitor '%s' -> config", monitorName)

	if raw == nil {
		reasons := []string{prefix + ": required field missing"}
		return nil, append(reasons, protoSchema.MissingRequired(prefix)...)
	}
	cfg, ok := raw.(map[string]any)
	if !ok {
		reasons := []string{prefix + ": must be a map"}
		return nil, append(reasons, protoSchema.MissingRequired(prefix)...)
	}

	return protoSchema.Apply(cfg, prefix)
}

// asInt accepts int and integral JSON numbers.
func asInt(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	}
	return 0, false
}

// millis converts an integer millisecond count to a duration.
func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// dedupe removes duplicate strings preserving first-occurrence order.
func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
