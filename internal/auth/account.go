// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

// Account lifecycle states. Accounts are never hard-deleted; closing one is
// a transition to StatusDisabled.
const (
	StatusPendingVerification AccountStatus = "pending_verification"
	StatusActive              AccountStatus = "active"
	StatusLocked              AccountStatus = "locked"
	StatusDisabled            AccountStatus = "disabled"
)

// Account is the identity root. PasswordHash is nil for accounts created
// purely through an external provider.
type Account struct {
	ID             ulid.ULID
	Email          string
	PasswordHash   *string
	Status         AccountStatus
	Nickname       string
	FailedAttempts int
	LockedUntil    *time.Time
	LastLoginAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ExternalIdentity binds a (provider, subject) pair to exactly one account.
type ExternalIdentity struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	Provider  string
	SubjectID string
	Email     string
	CreatedAt time.Time
}

// ProviderIdentity is the verified claim set extracted from a provider's
// token exchange.
type ProviderIdentity struct {
	SubjectID     string
	Email         string
	EmailVerified bool
	DisplayName   string
}

// NormalizeEmail canonicalizes an email for storage and lookup:
// trimmed and lowercased. Uniqueness over the normalized form is enforced
// by the store, not here, to prevent races.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccountRepository manages account persistence. All counter mutations are
// atomic at the row level; concurrent failed logins must each count.
type AccountRepository interface {
	// Create stores a new account. Returns ErrDuplicateEmail if the
	// normalized email is already taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID. Returns ErrNotFound if missing.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by normalized email (case-insensitive).
	// Returns ErrNotFound if missing.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// RecordFailedLogin atomically increments the failure counter and sets
	// locked_until when the new count reaches threshold. Returns the
	// post-increment counter state.
	RecordFailedLogin(ctx context.Context, id ulid.ULID, threshold int, lockFor time.Duration, now time.Time) (attempts int, lockedUntil *time.Time, err error)

	// ResetAndRecordFailure atomically resets the counter to zero and then
	// records one failure, used when an expired lockout starts a fresh
	// window with a failed attempt.
	ResetAndRecordFailure(ctx context.Context, id ulid.ULID, now time.Time) error

	// RecordSuccessfulLogin atomically zeroes the failure counter, clears
	// locked_until, and sets last_login_at.
	RecordSuccessfulLogin(ctx context.Context, id ulid.ULID, now time.Time) error

	// UpdateStatus transitions the account status.
	UpdateStatus(ctx context.Context, id ulid.ULID, status AccountStatus) error

	// FindOrLinkExternal resolves a (provider, subject) pair to a local
	// account, creating the link and, if necessary, the account. Repeated
	// calls with the same pair return the same account.
	FindOrLinkExternal(ctx context.Context, provider, subjectID string, identity ProviderIdentity, now time.Time) (*Account, error)
}
