// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// DefaultStateTTL bounds how long an authorization flow may stay pending.
const DefaultStateTTL = 10 * time.Minute

type stateEntry struct {
	clientKey string
	provider  string
	expiresAt time.Time
}

// StateStore issues and consumes single-use anti-forgery state tokens for
// external login flows. Entries are bound to the client that initiated the
// flow and expire after a fixed window.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	clock   Clock
	ttl     time.Duration
}

// NewStateStore creates a state store with the given TTL. A zero ttl uses
// DefaultStateTTL.
func NewStateStore(clock Clock, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{
		entries: make(map[string]stateEntry),
		clock:   clock,
		ttl:     ttl,
	}
}

// Issue creates a state token bound to clientKey and provider.
func (s *StateStore) Issue(clientKey, provider string) (string, error) {
	token, _, err := GenerateToken()
	if err != nil {
		return "", oops.Code("STATE_ISSUE_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.entries[token] = stateEntry{
		clientKey: clientKey,
		provider:  provider,
		expiresAt: s.clock.Now().Add(s.ttl),
	}
	return token, nil
}

// Consume validates and removes a state token. It fails if the token is
// unknown, expired, bound to a different client, or issued for a different
// provider. A token can be consumed at most once.
func (s *StateStore) Consume(state, clientKey, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	if !ok || s.clock.Now().After(entry.expiresAt) {
		return oops.Code("STATE_INVALID").Wrap(ErrInvalidState)
	}
	if subtle.ConstantTimeCompare([]byte(entry.clientKey), []byte(clientKey)) != 1 {
		return oops.Code("STATE_CLIENT_MISMATCH").Wrap(ErrInvalidState)
	}
	if entry.provider != provider {
		return oops.Code("STATE_PROVIDER_MISMATCH").Wrap(ErrInvalidState)
	}
	return nil
}

// Len reports the number of pending states, expired entries included.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *StateStore) pruneLocked() {
	now := s.clock.Now()
	for token, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, token)
		}
	}
}

// ExternalService runs the external-provider login flow: redirect out with
// an anti-forgery state, then on callback verify the state, exchange the
// code, and find or link the local account.
type ExternalService struct {
	providers map[string]Provider
	states    *StateStore
	accounts  AccountRepository
	sessions  *SessionManager
	clock     Clock
	logger    *slog.Logger
	metrics   MetricsRecorder
}

// NewExternalService wires the external login flow. At least one provider
// must be registered.
func NewExternalService(
	providers []Provider,
	states *StateStore,
	accounts AccountRepository,
	sessions *SessionManager,
	clock Clock,
	logger *slog.Logger,
	metrics MetricsRecorder,
) (*ExternalService, error) {
	if len(providers) == 0 {
		return nil, oops.Code("EXTERNAL_SERVICE_INVALID").Errorf("at least one provider is required")
	}
	if states == nil || accounts == nil || sessions == nil || logger == nil {
		return nil, oops.Code("EXTERNAL_SERVICE_INVALID").Errorf("all dependencies are required")
	}
	if clock == nil {
		clock = SystemClock()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}

	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if _, dup := byName[p.Name()]; dup {
			return nil, oops.Code("EXTERNAL_SERVICE_INVALID").
				With("provider", p.Name()).
				Errorf("duplicate provider registration")
		}
		byName[p.Name()] = p
	}

	return &ExternalService{
		providers: byName,
		states:    states,
		accounts:  accounts,
		sessions:  sessions,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Initiate starts an external login: it issues a state token bound to the
// caller and returns the provider's consent URL.
func (s *ExternalService) Initiate(provider, clientKey string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", oops.Code("PROVIDER_UNKNOWN").
			With("provider", provider).
			Wrap(ErrInvalidState)
	}

	state, err := s.states.Issue(clientKey, provider)
	if err != nil {
		return "", err
	}
	return p.AuthorizeURL(state), nil
}

// Callback completes an external login. The state is consumed before any
// network call; a bad state never reaches the provider.
func (s *ExternalService) Callback(ctx context.Context, provider, state, code, clientKey string, device DeviceInfo) (*TokenPair, *Account, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, nil, oops.Code("PROVIDER_UNKNOWN").
			With("provider", provider).
			Wrap(ErrInvalidState)
	}

	if err := s.states.Consume(state, clientKey, provider); err != nil {
		return nil, nil, err
	}

	identity, err := p.Exchange(ctx, code)
	if err != nil {
		s.metrics.ExternalExchangeFailed(provider)
		return nil, nil, err
	}

	account, err := s.accounts.FindOrLinkExternal(ctx, provider, identity.SubjectID, *identity, s.clock.Now())
	if err != nil {
		return nil, nil, oops.Code("EXTERNAL_LINK_FAILED").
			With("provider", provider).
			Wrap(err)
	}
	if account.Status == StatusDisabled {
		return nil, nil, oops.Code("ACCOUNT_DISABLED").
			With("account_id", account.ID.String()).
			Wrap(ErrInvalidCredentials)
	}

	pair, err := s.sessions.Issue(ctx, account.ID, device)
	if err != nil {
		return nil, nil, err
	}

	s.metrics.ExternalLogin(provider)
	s.logger.Info("external login completed",
		"provider", provider,
		"account_id", account.ID.String())
	return pair, account, nil
}
