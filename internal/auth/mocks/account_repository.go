// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/carecircle/carecircle/internal/auth"
)

// MockAccountRepository is a mock implementation of auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

// NewMockAccountRepository creates a mock wired to the test's lifecycle.
func NewMockAccountRepository(t *testing.T) *MockAccountRepository {
	t.Helper()
	m := &MockAccountRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	if account, ok := args.Get(0).(*auth.Account); ok {
		return account, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	args := m.Called(ctx, email)
	if account, ok := args.Get(0).(*auth.Account); ok {
		return account, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountRepository) RecordFailedLogin(ctx context.Context, id ulid.ULID, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	args := m.Called(ctx, id, threshold, lockFor, now)
	var lockedUntil *time.Time
	if v, ok := args.Get(1).(*time.Time); ok {
		lockedUntil = v
	}
	return args.Int(0), lockedUntil, args.Error(2)
}

func (m *MockAccountRepository) ResetAndRecordFailure(ctx context.Context, id ulid.ULID, now time.Time) error {
	args := m.Called(ctx, id, now)
	return args.Error(0)
}

func (m *MockAccountRepository) RecordSuccessfulLogin(ctx context.Context, id ulid.ULID, now time.Time) error {
	args := m.Called(ctx, id, now)
	return args.Error(0)
}

func (m *MockAccountRepository) UpdateStatus(ctx context.Context, id ulid.ULID, status auth.AccountStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockAccountRepository) FindOrLinkExternal(ctx context.Context, provider, subjectID string, identity auth.ProviderIdentity, now time.Time) (*auth.Account, error) {
	args := m.Called(ctx, provider, subjectID, identity, now)
	if account, ok := args.Get(0).(*auth.Account); ok {
		return account, args.Error(1)
	}
	return nil, args.Error(1)
}

var _ auth.AccountRepository = (*MockAccountRepository)(nil)
