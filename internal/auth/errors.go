// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth

import "errors"

// Sentinel errors for the authentication core. Callers branch on these with
// errors.Is; the oops codes wrapped around them carry diagnostic context for
// server-side logs only.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when registering an email that is
	// already taken.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredentials covers both unknown email and wrong password.
	// The two cases are intentionally indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account temporarily locked")

	// ErrInvalidToken is returned for unknown, expired, revoked, or
	// already-used session and refresh tokens.
	ErrInvalidToken = errors.New("invalid or reused token")

	// ErrInvalidState is returned when the callback state does not match
	// the state issued for this client context.
	ErrInvalidState = errors.New("invalid state parameter")

	// ErrProviderUnavailable is returned after the provider exchange has
	// failed on transport and exhausted its single retry.
	ErrProviderUnavailable = errors.New("identity provider unavailable")

	// ErrInvalidProviderResponse is returned when the provider response
	// lacks a verifiable subject identifier. Never retried.
	ErrInvalidProviderResponse = errors.New("invalid provider response")

	// ErrInternal is the safe classification for hashing or store
	// failures that must not leak as credential errors.
	ErrInternal = errors.New("internal error")
)
