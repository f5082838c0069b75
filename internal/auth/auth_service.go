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

// MinPasswordBytes is the minimum accepted password length in bytes.
const MinPasswordBytes = 8

// RegisterInput carries a registration request.
type RegisterInput struct {
	Email    string
	Password string
	Nickname string
	Device   DeviceInfo
}

// LoginInput carries a credential login request.
type LoginInput struct {
	Email    string
	Password string
	Device   DeviceInfo
}

// AuthResult is the outcome of a successful register, login, or refresh.
type AuthResult struct {
	Account *Account
	Tokens  *TokenPair
}

// DevBypass is a fixed development identity that short-circuits login.
// It can only be enabled at construction and only in development mode;
// config validation rejects it for production.
type DevBypass struct {
	Enabled   bool
	AccountID ulid.ULID
	Email     string
	Nickname  string
}

// Service is the authentication entry point. It composes the hasher,
// account store, lockout policy, session manager, and external bridge,
// and owns the mapping from internal failures to the caller-visible
// error taxonomy.
type Service struct {
	hasher   PasswordHasher
	accounts AccountRepository
	sessions *SessionManager
	external *ExternalService
	lockout  LockoutPolicy
	clock    Clock
	logger   *slog.Logger
	metrics  MetricsRecorder
	bypass   DevBypass
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLockoutPolicy overrides the default lockout thresholds.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) { s.lockout = p }
}

// WithClock overrides the time source.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithExternalService attaches the external-provider login bridge.
func WithExternalService(ext *ExternalService) ServiceOption {
	return func(s *Service) { s.external = ext }
}

// WithDevBypass enables the fixed development identity. Callers must gate
// this on the deployment mode before construction.
func WithDevBypass(b DevBypass) ServiceOption {
	return func(s *Service) { s.bypass = b }
}

// NewService creates the authentication service.
func NewService(hasher PasswordHasher, accounts AccountRepository, sessions *SessionManager, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if hasher == nil || accounts == nil || sessions == nil || logger == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("hasher, account repository, session manager, and logger are required")
	}

	s := &Service{
		hasher:   hasher,
		accounts: accounts,
		sessions: sessions,
		lockout:  DefaultLockoutPolicy(),
		clock:    SystemClock(),
		logger:   logger,
		metrics:  NopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.bypass.Enabled {
		s.logger.Warn("development login bypass is active",
			"bypass_email", s.bypass.Email)
	}
	return s, nil
}

// Register creates an account with a hashed credential and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := NormalizeEmail(in.Email)
	if email == "" {
		return nil, oops.Code("AUTH_REGISTER_INVALID").
			With("reason", "empty email").
			Wrap(ErrInvalidCredentials)
	}
	if len(in.Password) < MinPasswordBytes {
		return nil, oops.Code("AUTH_REGISTER_INVALID").
			With("reason", "password too short").
			Wrap(ErrInvalidCredentials)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").Wrap(errors.Join(ErrInternal, err))
	}

	now := s.clock.Now()
	account := &Account{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: &hash,
		Status:       StatusPendingVerification,
		Nickname:     in.Nickname,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, oops.Code("AUTH_DUPLICATE_EMAIL").Wrap(ErrDuplicateEmail)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").Wrap(errors.Join(ErrInternal, err))
	}

	pair, err := s.sessions.Issue(ctx, account.ID, in.Device)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").Wrap(errors.Join(ErrInternal, err))
	}

	s.logger.Info("account registered", "account_id", account.ID.String())
	return &AuthResult{Account: account, Tokens: pair}, nil
}

// Login verifies credentials and issues a session. Unknown email, wrong
// password, and disabled accounts are indistinguishable to the caller.
// Locked accounts are rejected before any hash verification.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if s.bypass.Enabled {
		return s.bypassLogin(ctx, in)
	}

	email := NormalizeEmail(in.Email)
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.LoginFailed()
			return nil, oops.Code("AUTH_UNKNOWN_EMAIL").Wrap(ErrInvalidCredentials)
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").Wrap(errors.Join(ErrInternal, err))
	}

	now := s.clock.Now()
	lockState := s.lockout.State(account.FailedAttempts, account.LockedUntil, now)
	if lockState == LockActive {
		s.metrics.LoginFailed()
		return nil, oops.Code("AUTH_ACCOUNT_LOCKED").
			With("retry_after", s.lockout.RetryAfter(account.LockedUntil, now).String()).
			Wrap(ErrAccountLocked)
	}

	if account.Status == StatusDisabled {
		s.metrics.LoginFailed()
		s.logger.Warn("login attempt on disabled account",
			"account_id", account.ID.String())
		return nil, oops.Code("AUTH_ACCOUNT_DISABLED").Wrap(ErrInvalidCredentials)
	}
	if account.PasswordHash == nil {
		// External-only account; it has no local credential to verify.
		s.metrics.LoginFailed()
		return nil, oops.Code("AUTH_NO_LOCAL_CREDENTIAL").Wrap(ErrInvalidCredentials)
	}

	ok, err := s.hasher.Verify(in.Password, *account.PasswordHash)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").Wrap(errors.Join(ErrInternal, err))
	}
	if !ok {
		return nil, s.recordFailure(ctx, account, lockState, now)
	}

	if err := s.accounts.RecordSuccessfulLogin(ctx, account.ID, now); err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").Wrap(errors.Join(ErrInternal, err))
	}
	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.LastLoginAt = &now

	pair, err := s.sessions.Issue(ctx, account.ID, in.Device)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").Wrap(errors.Join(ErrInternal, err))
	}

	s.metrics.LoginSucceeded()
	s.logger.Info("login succeeded", "account_id", account.ID.String())
	return &AuthResult{Account: account, Tokens: pair}, nil
}

// recordFailure counts a failed credential check. An expired lock means the
// previous window is over, so the count restarts at one.
func (s *Service) recordFailure(ctx context.Context, account *Account, state LockState, now time.Time) error {
	s.metrics.LoginFailed()

	if state == LockExpired {
		if err := s.accounts.ResetAndRecordFailure(ctx, account.ID, now); err != nil {
			return oops.Code("AUTH_LOGIN_FAILED").Wrap(errors.Join(ErrInternal, err))
		}
		return oops.Code("AUTH_BAD_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	attempts, lockedUntil, err := s.accounts.RecordFailedLogin(ctx, account.ID, s.lockout.Threshold, s.lockout.Duration, now)
	if err != nil {
		return oops.Code("AUTH_LOGIN_FAILED").Wrap(errors.Join(ErrInternal, err))
	}
	if lockedUntil != nil {
		s.metrics.AccountLockedOut()
		s.logger.Warn("account locked after repeated failures",
			"account_id", account.ID.String(),
			"failed_attempts", attempts,
			"locked_until", lockedUntil.Format(time.RFC3339))
	}
	return oops.Code("AUTH_BAD_CREDENTIALS").Wrap(ErrInvalidCredentials)
}

// bypassLogin returns the fixed development identity without consulting the
// store or the hasher. Tokens are generated but never persisted.
func (s *Service) bypassLogin(ctx context.Context, in LoginInput) (*AuthResult, error) {
	_ = ctx
	s.logger.Warn("development bypass login", "email", in.Email)

	sessionToken, _, err := GenerateToken()
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").Wrap(errors.Join(ErrInternal, err))
	}
	refreshToken, _, err := GenerateToken()
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").Wrap(errors.Join(ErrInternal, err))
	}

	now := s.clock.Now()
	account := &Account{
		ID:        s.bypass.AccountID,
		Email:     s.bypass.Email,
		Status:    StatusActive,
		Nickname:  s.bypass.Nickname,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return &AuthResult{
		Account: account,
		Tokens: &TokenPair{
			SessionToken: sessionToken,
			RefreshToken: refreshToken,
			ExpiresAt:    now.Add(DefaultAccessTokenTTL),
		},
	}, nil
}

// Authenticate resolves a session token to its account.
func (s *Service) Authenticate(ctx context.Context, sessionToken string) (*Account, error) {
	session, err := s.sessions.Authenticate(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_ORPHANED").Wrap(ErrInvalidToken)
		}
		return nil, oops.Code("AUTH_AUTHENTICATE_FAILED").Wrap(errors.Join(ErrInternal, err))
	}
	return account, nil
}

// Refresh rotates a refresh token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.sessions.Refresh(ctx, refreshToken)
}

// Logout revokes the session behind the token. Already-invalid tokens are
// a no-op so repeated logouts cannot fail.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return nil
	}
	session, err := s.sessions.lookup(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_LOGOUT_FAILED").Wrap(errors.Join(ErrInternal, err))
	}
	if !session.IsActive {
		return nil
	}
	return s.sessions.Revoke(ctx, session.ID)
}

// ExternalLogin starts an external-provider login and returns the redirect URL.
func (s *Service) ExternalLogin(provider, clientKey string) (string, error) {
	if s.external == nil {
		return "", oops.Code("EXTERNAL_DISABLED").Wrap(ErrProviderUnavailable)
	}
	return s.external.Initiate(provider, clientKey)
}

// ExternalCallback completes an external-provider login.
func (s *Service) ExternalCallback(ctx context.Context, provider, state, code, clientKey string, device DeviceInfo) (*AuthResult, error) {
	if s.external == nil {
		return nil, oops.Code("EXTERNAL_DISABLED").Wrap(ErrProviderUnavailable)
	}
	pair, account, err := s.external.Callback(ctx, provider, state, code, clientKey, device)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Account: account, Tokens: pair}, nil
}
