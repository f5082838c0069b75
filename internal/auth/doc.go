// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

// Package auth implements credential and session management for the
// CareCircle platform: password hashing, login lockout, opaque
// session/refresh token pairs, and the external identity provider
// handshake. HTTP routing lives outside this package; services here
// return results and typed errors only.
package auth
