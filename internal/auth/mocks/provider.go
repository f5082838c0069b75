// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package mocks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/carecircle/carecircle/internal/auth"
)

// MockProvider is a mock implementation of auth.Provider.
type MockProvider struct {
	mock.Mock
}

// NewMockProvider creates a mock wired to the test's lifecycle.
func NewMockProvider(t *testing.T) *MockProvider {
	t.Helper()
	m := &MockProvider{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockProvider) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockProvider) AuthorizeURL(state string) string {
	args := m.Called(state)
	return args.String(0)
}

func (m *MockProvider) Exchange(ctx context.Context, code string) (*auth.ProviderIdentity, error) {
	args := m.Called(ctx, code)
	if identity, ok := args.Get(0).(*auth.ProviderIdentity); ok {
		return identity, args.Error(1)
	}
	return nil, args.Error(1)
}

var _ auth.Provider = (*MockProvider)(nil)
