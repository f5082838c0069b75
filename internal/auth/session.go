// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token configuration.
const (
	// TokenBytes is the entropy of session and refresh tokens.
	// 32 bytes = 64 hex chars.
	TokenBytes = 32

	// DefaultAccessTokenTTL is the default session-token lifetime.
	DefaultAccessTokenTTL = 30 * time.Minute

	// DefaultRefreshTokenTTL is the default refresh-token lifetime and the
	// overall lifetime of a session row.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Session is one logical device/browser login. Tokens are stored only as
// SHA-256 hashes; the plaintext goes to the client once and is never
// persisted.
type Session struct {
	ID               ulid.ULID
	AccountID        ulid.ULID
	TokenHash        string
	RefreshTokenHash string

	// RotatedFromHash holds the previous refresh-token hash after a
	// rotation. Presenting that old token again is the reuse signal that
	// revokes this session.
	RotatedFromHash *string

	DeviceInfo      string
	UserAgent       string
	IPAddress       string
	IsActive        bool
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
	CreatedAt       time.Time
	LastActivityAt  time.Time
}

// DeviceInfo describes the client context a session was issued for.
type DeviceInfo struct {
	Device    string
	UserAgent string
	IP        string
}

// TokenPair is handed to the client after issue or refresh.
type TokenPair struct {
	SessionID    ulid.ULID
	SessionToken string
	RefreshToken string
	ExpiresAt    time.Time
}

// GenerateToken creates a secure random token and its storage hash.
// Returns (plaintext_token, sha256_hash, error).
func GenerateToken() (token, hash string, err error) {
	buf := make([]byte, TokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}

	token = hex.EncodeToString(buf)
	hash = HashToken(token)
	return token, hash, nil
}

// HashToken computes the SHA-256 hash of a token for storage and lookup.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyTokenHash checks a plaintext token against a stored hash in
// constant time.
func VerifyTokenHash(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// RotateParams are the replacement values written by a refresh rotation.
type RotateParams struct {
	NewTokenHash        string
	NewRefreshTokenHash string
	AccessExpiresAt     time.Time
	ExpiresAt           time.Time
	Now                 time.Time
}

// SessionRepository manages session persistence. Rotate is the only
// operation that replaces token values on an existing row, and it must be
// atomic: of two concurrent rotations on the same refresh token exactly one
// succeeds.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByID retrieves a session by ID. Returns ErrNotFound if missing.
	GetByID(ctx context.Context, id ulid.ULID) (*Session, error)

	// GetByTokenHash retrieves a session by its session-token hash.
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// GetByAccount retrieves all sessions for an account, newest first.
	GetByAccount(ctx context.Context, accountID ulid.ULID) ([]*Session, error)

	// Rotate atomically replaces both token hashes on the active,
	// unexpired session holding refreshHash, recording refreshHash as
	// RotatedFromHash. Returns ErrNotFound when no such row exists.
	Rotate(ctx context.Context, refreshHash string, params RotateParams) (*Session, error)

	// FindRotated retrieves the session whose previous refresh token was
	// refreshHash, if any. Used for reuse detection.
	FindRotated(ctx context.Context, refreshHash string) (*Session, error)

	// UpdateLastActivity updates the activity timestamp.
	UpdateLastActivity(ctx context.Context, id ulid.ULID, at time.Time) error

	// Revoke sets is_active = false. Revoking an already-revoked session
	// is not an error.
	Revoke(ctx context.Context, id ulid.ULID) error

	// RevokeByAccount revokes every session for an account.
	RevokeByAccount(ctx context.Context, accountID ulid.ULID) error

	// DeleteExpired removes sessions whose overall expiry has passed and
	// returns the count of deleted rows.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
