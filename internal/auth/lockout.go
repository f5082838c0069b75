// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth

import "time"

// Default lockout parameters.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 30 * time.Minute
)

// LockState is the derived lockout state of an account. It is computed
// per-read from (failed attempts, locked_until); no separate state column
// exists, and every entry point derives it through LockoutPolicy so login
// and future flows cannot diverge.
type LockState int

const (
	// LockOpen means failures are below the threshold.
	LockOpen LockState = iota

	// LockActive means the lockout window is still running; authentication
	// is rejected without verifying credentials.
	LockActive

	// LockExpired means a lockout was set but its window has passed; the
	// next attempt is treated as the start of a fresh window.
	LockExpired
)

// LockoutPolicy decides when repeated failures lock an account.
type LockoutPolicy struct {
	// Threshold is the failure count that triggers a lockout.
	Threshold int

	// Duration is how long a triggered lockout lasts.
	Duration time.Duration
}

// DefaultLockoutPolicy returns the platform defaults (5 failures / 30 min).
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold: DefaultLockoutThreshold,
		Duration:  DefaultLockoutDuration,
	}
}

// State derives the lockout state at the given instant.
func (p LockoutPolicy) State(failedAttempts int, lockedUntil *time.Time, now time.Time) LockState {
	if lockedUntil != nil && lockedUntil.After(now) {
		return LockActive
	}
	if failedAttempts >= p.Threshold {
		return LockExpired
	}
	return LockOpen
}

// RetryAfter returns the time remaining in an active lockout, zero otherwise.
func (p LockoutPolicy) RetryAfter(lockedUntil *time.Time, now time.Time) time.Duration {
	if lockedUntil == nil || !lockedUntil.After(now) {
		return 0
	}
	return lockedUntil.Sub(now)
}
