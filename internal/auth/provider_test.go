// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carecircle/carecircle/internal/auth"
	"github.com/carecircle/carecircle/pkg/errutil"
)

func testProviderConfig(serverURL string) auth.ProviderConfig {
	return auth.ProviderConfig{
		Name:         "testidp",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.example/callback",
		AuthURL:      serverURL + "/authorize",
		TokenURL:     serverURL + "/token",
		UserInfoURL:  serverURL + "/userinfo",
	}
}

// newProviderServer serves a well-behaved token and userinfo endpoint.
// tokenHandler, when non-nil, overrides the token endpoint.
func newProviderServer(t *testing.T, tokenHandler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	if tokenHandler == nil {
		tokenHandler = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
		}
	}
	mux.HandleFunc("/token", tokenHandler)
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"sub-1","email":"dana@example.com","email_verified":true,"name":"Dana"}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestNewOAuthProvider(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*auth.ProviderConfig)
	}{
		{"missing name", func(c *auth.ProviderConfig) { c.Name = "" }},
		{"missing client id", func(c *auth.ProviderConfig) { c.ClientID = "" }},
		{"missing client secret", func(c *auth.ProviderConfig) { c.ClientSecret = "" }},
		{"missing token url", func(c *auth.ProviderConfig) { c.TokenURL = "" }},
		{"missing userinfo url", func(c *auth.ProviderConfig) { c.UserInfoURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testProviderConfig("https://idp.example")
			tt.mutate(&config)
			_, err := auth.NewOAuthProvider(config)
			errutil.AssertErrorCode(t, err, "PROVIDER_CONFIG_INVALID")
		})
	}

	t.Run("default scopes applied", func(t *testing.T) {
		provider, err := auth.NewOAuthProvider(testProviderConfig("https://idp.example"))
		require.NoError(t, err)
		assert.Contains(t, provider.AuthorizeURL("state-1"), "openid")
	})
}

func TestOAuthProvider_AuthorizeURL(t *testing.T) {
	config := testProviderConfig("https://idp.example")
	config.Scopes = []string{"openid", "email"}
	provider, err := auth.NewOAuthProvider(config)
	require.NoError(t, err)

	got := provider.AuthorizeURL("state-xyz")
	assert.Contains(t, got, "https://idp.example/authorize?")
	assert.Contains(t, got, "state=state-xyz")
	assert.Contains(t, got, "client_id=client-id")
	assert.Contains(t, got, "response_type=code")
	assert.Contains(t, got, "scope=openid+email")
}

func TestOAuthProvider_Exchange(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the provider identity", func(t *testing.T) {
		server := newProviderServer(t, nil)
		provider, err := auth.NewOAuthProvider(testProviderConfig(server.URL))
		require.NoError(t, err)

		identity, err := provider.Exchange(ctx, "code-1")
		require.NoError(t, err)
		assert.Equal(t, "sub-1", identity.SubjectID)
		assert.Equal(t, "dana@example.com", identity.Email)
		assert.True(t, identity.EmailVerified)
		assert.Equal(t, "Dana", identity.DisplayName)
	})

	t.Run("retries once after a server error", func(t *testing.T) {
		var calls atomic.Int32
		server := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
		})
		provider, err := auth.NewOAuthProvider(testProviderConfig(server.URL))
		require.NoError(t, err)

		identity, err := provider.Exchange(ctx, "code-1")
		require.NoError(t, err)
		assert.Equal(t, "sub-1", identity.SubjectID)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("gives up after persistent server errors", func(t *testing.T) {
		var calls atomic.Int32
		server := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})
		provider, err := auth.NewOAuthProvider(testProviderConfig(server.URL))
		require.NoError(t, err)

		_, err = provider.Exchange(ctx, "code-1")
		errutil.AssertErrorIs(t, err, auth.ErrProviderUnavailable)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("rejected code is not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		})
		provider, err := auth.NewOAuthProvider(testProviderConfig(server.URL))
		require.NoError(t, err)

		_, err = provider.Exchange(ctx, "code-1")
		errutil.AssertErrorIs(t, err, auth.ErrInvalidProviderResponse)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("malformed token response is not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = w.Write([]byte(`not json`))
		})
		provider, err := auth.NewOAuthProvider(testProviderConfig(server.URL))
		require.NoError(t, err)

		_, err = provider.Exchange(ctx, "code-1")
		errutil.AssertErrorIs(t, err, auth.ErrInvalidProviderResponse)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("empty access token rejected", func(t *testing.T) {
		server := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
		})
		provider, err := auth.NewOAuthProvider(testProviderConfig(server.URL))
		require.NoError(t, err)

		_, err = provider.Exchange(ctx, "code-1")
		errutil.AssertErrorIs(t, err, auth.ErrInvalidProviderResponse)
	})

	t.Run("missing subject identifier rejected", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"access_token":"at-1"}`))
		})
		mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"email":"dana@example.com"}`))
		})
		server := httptest.NewServer(mux)
		t.Cleanup(server.Close)

		provider, err := auth.NewOAuthProvider(testProviderConfig(server.URL))
		require.NoError(t, err)

		_, err = provider.Exchange(ctx, "code-1")
		errutil.AssertErrorIs(t, err, auth.ErrInvalidProviderResponse)
	})

	t.Run("unreachable provider reports unavailable", func(t *testing.T) {
		server := newProviderServer(t, nil)
		config := testProviderConfig(server.URL)
		server.Close()

		provider, err := auth.NewOAuthProvider(config)
		require.NoError(t, err)

		_, err = provider.Exchange(ctx, "code-1")
		errutil.AssertErrorIs(t, err, auth.ErrProviderUnavailable)
	})

	t.Run("token exchange sends the code and credentials", func(t *testing.T) {
		var gotCode, gotGrant string
		server := newProviderServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			gotCode = r.PostFormValue("code")
			gotGrant = r.PostFormValue("grant_type")
			_, _ = w.Write([]byte(`{"access_token":"at-1"}`))
		})
		provider, err := auth.NewOAuthProvider(testProviderConfig(server.URL))
		require.NoError(t, err)

		_, err = provider.Exchange(ctx, "code-42")
		require.NoError(t, err)
		assert.Equal(t, "code-42", gotCode)
		assert.Equal(t, "authorization_code", gotGrant)
	})
}
