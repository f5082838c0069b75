// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth

// MetricsRecorder receives counters for authentication outcomes. The
// observability package provides a Prometheus-backed implementation.
type MetricsRecorder interface {
	LoginSucceeded()
	LoginFailed()
	AccountLockedOut()
	SessionIssued()
	SessionRefreshed()
	SessionRevoked()
	RefreshReuseDetected()
	ExternalLogin(provider string)
	ExternalExchangeFailed(provider string)
}

// NopMetrics discards all recordings.
type NopMetrics struct{}

func (NopMetrics) LoginSucceeded()               {}
func (NopMetrics) LoginFailed()                  {}
func (NopMetrics) AccountLockedOut()             {}
func (NopMetrics) SessionIssued()                {}
func (NopMetrics) SessionRefreshed()             {}
func (NopMetrics) SessionRevoked()               {}
func (NopMetrics) RefreshReuseDetected()         {}
func (NopMetrics) ExternalLogin(string)          {}
func (NopMetrics) ExternalExchangeFailed(string) {}

var _ MetricsRecorder = NopMetrics{}
