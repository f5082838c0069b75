// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionManager issues, authenticates, rotates, and revokes session and
// refresh token pairs. It is the only writer of token values.
type SessionManager struct {
	sessions   SessionRepository
	clock      Clock
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
	metrics    MetricsRecorder
}

// SessionManagerOption configures a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithTokenTTLs overrides the access and refresh token lifetimes.
func WithTokenTTLs(access, refresh time.Duration) SessionManagerOption {
	return func(m *SessionManager) {
		m.accessTTL = access
		m.refreshTTL = refresh
	}
}

// WithSessionClock overrides the time source.
func WithSessionClock(clock Clock) SessionManagerOption {
	return func(m *SessionManager) { m.clock = clock }
}

// WithSessionMetrics attaches a metrics recorder.
func WithSessionMetrics(metrics MetricsRecorder) SessionManagerOption {
	return func(m *SessionManager) { m.metrics = metrics }
}

// NewSessionManager creates a SessionManager with default lifetimes
// (30 minutes access, 30 days refresh).
func NewSessionManager(sessions SessionRepository, logger *slog.Logger, opts ...SessionManagerOption) (*SessionManager, error) {
	if sessions == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("session repository is required")
	}
	if logger == nil {
		return nil, oops.Code("SESSION_MANAGER_INVALID").Errorf("logger is required")
	}

	m := &SessionManager{
		sessions:   sessions,
		clock:      SystemClock(),
		accessTTL:  DefaultAccessTokenTTL,
		refreshTTL: DefaultRefreshTokenTTL,
		logger:     logger,
		metrics:    NopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.accessTTL <= 0 || m.refreshTTL <= 0 {
		return nil, oops.Code("SESSION_MANAGER_INVALID").
			With("access_ttl", m.accessTTL).
			With("refresh_ttl", m.refreshTTL).
			Errorf("token lifetimes must be positive")
	}
	return m, nil
}

// Issue creates a new session for the account and returns the plaintext
// token pair. Both tokens are independent 256-bit random values.
func (m *SessionManager) Issue(ctx context.Context, accountID ulid.ULID, device DeviceInfo) (*TokenPair, error) {
	sessionToken, sessionHash, err := GenerateToken()
	if err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").Wrap(err)
	}
	refreshToken, refreshHash, err := GenerateToken()
	if err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").Wrap(err)
	}

	now := m.clock.Now()
	session := &Session{
		ID:               ulid.Make(),
		AccountID:        accountID,
		TokenHash:        sessionHash,
		RefreshTokenHash: refreshHash,
		DeviceInfo:       device.Device,
		UserAgent:        device.UserAgent,
		IPAddress:        device.IP,
		IsActive:         true,
		AccessExpiresAt:  now.Add(m.accessTTL),
		ExpiresAt:        now.Add(m.refreshTTL),
		CreatedAt:        now,
		LastActivityAt:   now,
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").
			With("operation", "persist session").
			With("account_id", accountID.String()).
			Wrap(err)
	}

	m.metrics.SessionIssued()
	return &TokenPair{
		SessionID:    session.ID,
		SessionToken: sessionToken,
		RefreshToken: refreshToken,
		ExpiresAt:    session.AccessExpiresAt,
	}, nil
}

// Authenticate resolves a session token to its session. It rejects tokens
// that are unknown, revoked, or past either expiry, and updates the
// activity timestamp best-effort on success.
func (m *SessionManager) Authenticate(ctx context.Context, sessionToken string) (*Session, error) {
	if sessionToken == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Wrap(ErrInvalidToken)
	}

	session, err := m.sessions.GetByTokenHash(ctx, HashToken(sessionToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Wrap(ErrInvalidToken)
		}
		return nil, oops.Code("SESSION_AUTHENTICATE_FAILED").Wrap(err)
	}

	now := m.clock.Now()
	if !session.IsActive || now.After(session.AccessExpiresAt) || now.After(session.ExpiresAt) {
		return nil, oops.Code("SESSION_INVALID").Wrap(ErrInvalidToken)
	}

	// Best effort; authentication succeeds even if the write fails.
	if err := m.sessions.UpdateLastActivity(ctx, session.ID, now); err != nil {
		m.logger.Warn("failed to update session activity",
			"session_id", session.ID.String(), "error", err)
	}

	return session, nil
}

// Refresh rotates a refresh token: the old token is invalidated in the same
// atomic operation that installs the new pair. Presenting an already-rotated
// token revokes the whole session as a compromise signal.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Wrap(ErrInvalidToken)
	}
	oldHash := HashToken(refreshToken)

	sessionToken, sessionHash, err := GenerateToken()
	if err != nil {
		return nil, oops.Code("SESSION_REFRESH_FAILED").Wrap(err)
	}
	newRefreshToken, newRefreshHash, err := GenerateToken()
	if err != nil {
		return nil, oops.Code("SESSION_REFRESH_FAILED").Wrap(err)
	}

	now := m.clock.Now()
	session, err := m.sessions.Rotate(ctx, oldHash, RotateParams{
		NewTokenHash:        sessionHash,
		NewRefreshTokenHash: newRefreshHash,
		AccessExpiresAt:     now.Add(m.accessTTL),
		ExpiresAt:           now.Add(m.refreshTTL),
		Now:                 now,
	})
	if err == nil {
		m.metrics.SessionRefreshed()
		return &TokenPair{
			SessionID:    session.ID,
			SessionToken: sessionToken,
			RefreshToken: newRefreshToken,
			ExpiresAt:    session.AccessExpiresAt,
		}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("SESSION_REFRESH_FAILED").Wrap(err)
	}

	// No active session holds this token. If it was the previous token of
	// a rotated session, someone is replaying it: kill the session family.
	rotated, findErr := m.sessions.FindRotated(ctx, oldHash)
	if findErr == nil {
		if revokeErr := m.sessions.Revoke(ctx, rotated.ID); revokeErr != nil {
			m.logger.Error("failed to revoke session after token reuse",
				"session_id", rotated.ID.String(), "error", revokeErr)
		}
		m.metrics.RefreshReuseDetected()
		m.logger.Warn("refresh token reuse detected, session revoked",
			"session_id", rotated.ID.String(),
			"account_id", rotated.AccountID.String())
		return nil, oops.Code("SESSION_TOKEN_REUSED").
			With("session_id", rotated.ID.String()).
			Wrap(ErrInvalidToken)
	}
	if !errors.Is(findErr, ErrNotFound) {
		return nil, oops.Code("SESSION_REFRESH_FAILED").Wrap(findErr)
	}

	return nil, oops.Code("SESSION_INVALID").Wrap(ErrInvalidToken)
}

// lookup resolves a session token without validity checks. Logout uses it
// so revoking an expired session stays a no-op instead of an error.
func (m *SessionManager) lookup(ctx context.Context, sessionToken string) (*Session, error) {
	return m.sessions.GetByTokenHash(ctx, HashToken(sessionToken))
}

// Revoke deactivates a single session. Used by logout and forced-logout.
func (m *SessionManager) Revoke(ctx context.Context, id ulid.ULID) error {
	if err := m.sessions.Revoke(ctx, id); err != nil {
		return oops.Code("SESSION_REVOKE_FAILED").
			With("session_id", id.String()).
			Wrap(err)
	}
	m.metrics.SessionRevoked()
	return nil
}

// RevokeAllForAccount deactivates every session belonging to the account.
func (m *SessionManager) RevokeAllForAccount(ctx context.Context, accountID ulid.ULID) error {
	if err := m.sessions.RevokeByAccount(ctx, accountID); err != nil {
		return oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes sessions past their overall expiry. Safe to run on
// any schedule; expired rows are already rejected at read time.
func (m *SessionManager) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := m.sessions.DeleteExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, oops.Code("SESSION_SWEEP_FAILED").Wrap(err)
	}
	return n, nil
}
