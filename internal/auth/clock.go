// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth

import "time"

// Clock supplies the current time. Lockout and expiry logic reads time only
// through a Clock so tests can advance it without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by the wall clock, in UTC.
func SystemClock() Clock { return systemClock{} }
