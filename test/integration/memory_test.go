// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

//go:build integration

package integration

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/carecircle/carecircle/internal/auth"
)

// inMemoryAccountRepo is a simple in-memory implementation of
// auth.AccountRepository. It simulates database persistence without
// requiring PostgreSQL.
type inMemoryAccountRepo struct {
	mu       sync.RWMutex
	accounts map[ulid.ULID]*auth.Account
	byEmail  map[string]ulid.ULID
	links    map[string]ulid.ULID // provider + "\x00" + subject id
}

func newInMemoryAccountRepo() *inMemoryAccountRepo {
	return &inMemoryAccountRepo{
		accounts: make(map[ulid.ULID]*auth.Account),
		byEmail:  make(map[string]ulid.ULID),
		links:    make(map[string]ulid.ULID),
	}
}

func linkKey(provider, subjectID string) string {
	return provider + "\x00" + subjectID
}

func (r *inMemoryAccountRepo) Create(_ context.Context, account *auth.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Empty emails are not unique, matching the partial index on accounts.
	email := strings.ToLower(account.Email)
	if email != "" {
		if _, dup := r.byEmail[email]; dup {
			return auth.ErrDuplicateEmail
		}
		r.byEmail[email] = account.ID
	}
	clone := *account
	r.accounts[account.ID] = &clone
	return nil
}

func (r *inMemoryAccountRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *account
	return &clone, nil
}

func (r *inMemoryAccountRepo) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *r.accounts[id]
	return &clone, nil
}

func (r *inMemoryAccountRepo) RecordFailedLogin(_ context.Context, id ulid.ULID, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return 0, nil, auth.ErrNotFound
	}
	account.FailedAttempts++
	if account.FailedAttempts >= threshold {
		lockedUntil := now.Add(lockFor)
		account.LockedUntil = &lockedUntil
	}
	account.UpdatedAt = now
	return account.FailedAttempts, account.LockedUntil, nil
}

func (r *inMemoryAccountRepo) ResetAndRecordFailure(_ context.Context, id ulid.ULID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	account.FailedAttempts = 1
	account.LockedUntil = nil
	account.UpdatedAt = now
	return nil
}

func (r *inMemoryAccountRepo) RecordSuccessfulLogin(_ context.Context, id ulid.ULID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil
	loginAt := now
	account.LastLoginAt = &loginAt
	account.UpdatedAt = now
	return nil
}

func (r *inMemoryAccountRepo) UpdateStatus(_ context.Context, id ulid.ULID, status auth.AccountStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	account.Status = status
	return nil
}

func (r *inMemoryAccountRepo) FindOrLinkExternal(_ context.Context, provider, subjectID string, identity auth.ProviderIdentity, now time.Time) (*auth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.links[linkKey(provider, subjectID)]; ok {
		clone := *r.accounts[id]
		return &clone, nil
	}

	var account *auth.Account
	if identity.Email != "" {
		if id, ok := r.byEmail[strings.ToLower(identity.Email)]; ok {
			account = r.accounts[id]
			if account.Status == auth.StatusPendingVerification && identity.EmailVerified {
				account.Status = auth.StatusActive
			}
		}
	}
	if account == nil {
		account = &auth.Account{
			ID:        ulid.Make(),
			Email:     strings.ToLower(identity.Email),
			Status:    auth.StatusActive,
			Nickname:  identity.DisplayName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.accounts[account.ID] = account
		if account.Email != "" {
			r.byEmail[account.Email] = account.ID
		}
	}

	r.links[linkKey(provider, subjectID)] = account.ID
	clone := *account
	return &clone, nil
}

var _ auth.AccountRepository = (*inMemoryAccountRepo)(nil)

// inMemorySessionRepo is a simple in-memory implementation of
// auth.SessionRepository.
type inMemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[ulid.ULID]*auth.Session
}

func newInMemorySessionRepo() *inMemorySessionRepo {
	return &inMemorySessionRepo{sessions: make(map[ulid.ULID]*auth.Session)}
}

func (r *inMemorySessionRepo) Create(_ context.Context, session *auth.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *inMemorySessionRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (r *inMemorySessionRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		if session.TokenHash == tokenHash {
			clone := *session
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *inMemorySessionRepo) GetByAccount(_ context.Context, accountID ulid.ULID) ([]*auth.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*auth.Session
	for _, session := range r.sessions {
		if session.AccountID == accountID {
			clone := *session
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *inMemorySessionRepo) Rotate(_ context.Context, refreshHash string, params auth.RotateParams) (*auth.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.RefreshTokenHash != refreshHash {
			continue
		}
		if !session.IsActive || !session.ExpiresAt.After(params.Now) {
			break
		}
		old := session.RefreshTokenHash
		session.RotatedFromHash = &old
		session.TokenHash = params.NewTokenHash
		session.RefreshTokenHash = params.NewRefreshTokenHash
		session.AccessExpiresAt = params.AccessExpiresAt
		session.ExpiresAt = params.ExpiresAt
		session.LastActivityAt = params.Now
		clone := *session
		return &clone, nil
	}
	return nil, auth.ErrNotFound
}

func (r *inMemorySessionRepo) FindRotated(_ context.Context, refreshHash string) (*auth.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		if session.RotatedFromHash != nil && *session.RotatedFromHash == refreshHash {
			clone := *session
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r *inMemorySessionRepo) UpdateLastActivity(_ context.Context, id ulid.ULID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	session.LastActivityAt = now
	return nil
}

func (r *inMemorySessionRepo) Revoke(_ context.Context, id ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	session.IsActive = false
	return nil
}

func (r *inMemorySessionRepo) RevokeByAccount(_ context.Context, accountID ulid.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range r.sessions {
		if session.AccountID == accountID {
			session.IsActive = false
		}
	}
	return nil
}

func (r *inMemorySessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, session := range r.sessions {
		if !session.ExpiresAt.After(now) {
			delete(r.sessions, id)
			count++
		}
	}
	return count, nil
}

var _ auth.SessionRepository = (*inMemorySessionRepo)(nil)

// stubProvider is an auth.Provider that returns a fixed identity without any
// network traffic.
type stubProvider struct {
	name     string
	identity auth.ProviderIdentity
	err      error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) AuthorizeURL(state string) string {
	return "https://idp.example/authorize?state=" + state
}

func (p *stubProvider) Exchange(_ context.Context, _ string) (*auth.ProviderIdentity, error) {
	if p.err != nil {
		return nil, p.err
	}
	identity := p.identity
	return &identity, nil
}

var _ auth.Provider = (*stubProvider)(nil)
