// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package retry implements the retry policy engine: a pure decision
// function mapping (prior failure count, policy) to the recovery action a
// coordinator sends its worker. The engine never touches I/O; logging and
// timer handling belong to the caller.
package retry

import (
	"fmt"
	"math/bits"
	"time"
)

// Strategy selects the backoff delay formula.
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// ParseStrategy converts a string to a Strategy, erroring on unknown values.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyFixed, StrategyLinear, StrategyExponential:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("unknown backoff strategy %q", s)
	}
}

// Policy governs how a monitor's operational failures are retried.
type Policy struct {
	// MaxRetries is the number of retries granted after the first failure.
	// 0 shuts the monitor down on its first failure. Ignored when
	// Unlimited is set.
	MaxRetries int

	// Unlimited disables retry exhaustion; the monitor retries forever.
	// Set by the validator when the document declares max_retries: null.
	Unlimited bool

	// Strategy selects the delay formula.
	Strategy Strategy

	// Timeout is the base delay fed into the strategy formula.
	Timeout time.Duration
}

// Command discriminates the two recovery actions.
type Command string

const (
	CommandRetry    Command = "retry"
	CommandShutdown Command = "shutdown"
)

// Action is the coordinator's reply to an operational failure. Delay is
// strictly positive for CommandRetry and zero for CommandShutdown.
type Action struct {
	Command Command
	Delay   time.Duration
}

// Retry builds a retry action with the given delay.
func Retry(delay time.Duration) Action {
	return Action{Command: CommandRetry, Delay: delay}
}

// Shutdown builds a shutdown action.
func Shutdown() Action {
	return Action{Command: CommandShutdown}
}

// Decide maps the number of prior failures to the next recovery action.
//
// retryCount is the number of failures before the current one, so the
// failure being handled is attempt retryCount+1. With MaxRetries == 0 the
// first failure already exhausts the policy.
//
// Delay formulas, with base = p.Timeout:
//
//	fixed:       base
//	linear:      base * (retryCount + 1)
//	exponential: base * 2^retryCount
//
// Decide is referentially transparent; it performs no I/O and reads no
// state beyond its arguments.
func Decide(retryCount int, p Policy) Action {
	if !p.Unlimited && retryCount >= p.MaxRetries {
		return Shutdown()
	}

	var delay time.Duration
	switch p.Strategy {
	case StrategyLinear:
		delay = p.Timeout * time.Duration(retryCount+1)
	case StrategyExponential:
		delay = p.Timeout
		if p.Timeout > 0 {
			shift := uint(retryCount)
			// Saturate once another doubling would overflow the base.
			if limit := uint(bits.LeadingZeros64(uint64(p.Timeout))) - 1; shift > limit {
				shift = limit
			}
			delay = p.Timeout << shift
		}
	default: // StrategyFixed
		delay = p.Timeout
	}

	if delay <= 0 {
		delay = p.Timeout
	}
	return Retry(delay)
}
