// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const (
	providerHTTPTimeout  = 10 * time.Second
	providerRetryBackoff = 500 * time.Millisecond
	// One retry only; the caller's request is blocked while we wait.
	providerRetryAttempts = 2
)

// Provider exchanges an authorization code for a verified identity at an
// external identity provider.
type Provider interface {
	// Name returns the provider key stored alongside linked identities.
	Name() string
	// AuthorizeURL builds the redirect URL for the provider's consent page.
	AuthorizeURL(state string) string
	// Exchange trades an authorization code for the subject's identity.
	// Transient provider failures surface as ErrProviderUnavailable,
	// malformed responses as ErrInvalidProviderResponse.
	Exchange(ctx context.Context, code string) (*ProviderIdentity, error)
}

// ProviderConfig holds the endpoints and credentials for one OAuth 2.0
// authorization-code provider. All URLs can point at a test server.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

// OAuthProvider is a generic authorization-code client. The same
// implementation serves Google, Auth0, and Keycloak; only the configured
// endpoints differ.
type OAuthProvider struct {
	config ProviderConfig
	client *http.Client
}

// NewOAuthProvider validates the configuration and returns a provider.
func NewOAuthProvider(config ProviderConfig) (*OAuthProvider, error) {
	errb := oops.Code("PROVIDER_CONFIG_INVALID").With("provider", config.Name)
	if config.Name == "" {
		return nil, errb.Errorf("provider name is required")
	}
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, errb.Errorf("client credentials are required")
	}
	if config.AuthURL == "" || config.TokenURL == "" || config.UserInfoURL == "" {
		return nil, errb.Errorf("auth, token, and userinfo URLs are required")
	}
	if len(config.Scopes) == 0 {
		config.Scopes = []string{"openid", "email", "profile"}
	}
	return &OAuthProvider{
		config: config,
		client: &http.Client{Timeout: providerHTTPTimeout},
	}, nil
}

func (p *OAuthProvider) Name() string { return p.config.Name }

// AuthorizeURL builds the consent-page redirect with the anti-forgery state.
func (p *OAuthProvider) AuthorizeURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {strings.Join(p.config.Scopes, " ")},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

type providerTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type providerUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Exchange trades the authorization code for the provider's identity claims.
// Network errors and 5xx responses are retried once before giving up.
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*ProviderIdentity, error) {
	var tokenResp *providerTokenResponse
	err := p.withRetry(ctx, func(ctx context.Context) error {
		var err error
		tokenResp, err = p.exchangeToken(ctx, code)
		return err
	})
	if err != nil {
		return nil, err
	}

	var info *providerUserInfo
	err = p.withRetry(ctx, func(ctx context.Context) error {
		var err error
		info, err = p.fetchUserInfo(ctx, tokenResp.AccessToken)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &ProviderIdentity{
		SubjectID:     info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		DisplayName:   info.Name,
	}, nil
}

// withRetry runs fn, retrying once on transient failures. Errors not marked
// retryable (malformed responses, 4xx) pass through unchanged.
func (p *OAuthProvider) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(providerRetryAttempts-1, retry.NewConstant(providerRetryBackoff))
	return retry.Do(ctx, backoff, fn)
}

func (p *OAuthProvider) exchangeToken(ctx context.Context, code string) (*providerTokenResponse, error) {
	errb := oops.Code("PROVIDER_EXCHANGE_FAILED").With("provider", p.config.Name)

	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errb.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retry.RetryableError(errb.Wrap(ErrProviderUnavailable))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.RetryableError(errb.Wrap(ErrProviderUnavailable))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, retry.RetryableError(errb.
			With("status", resp.StatusCode).
			Wrap(ErrProviderUnavailable))
	}
	if resp.StatusCode != http.StatusOK {
		// 4xx means the code is bad or already used; retrying cannot help.
		return nil, errb.With("status", resp.StatusCode).Wrap(ErrInvalidProviderResponse)
	}

	var tokenResp providerTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, errb.With("reason", "malformed token response").Wrap(ErrInvalidProviderResponse)
	}
	if tokenResp.AccessToken == "" {
		return nil, errb.With("reason", "empty access token").Wrap(ErrInvalidProviderResponse)
	}
	return &tokenResp, nil
}

func (p *OAuthProvider) fetchUserInfo(ctx context.Context, accessToken string) (*providerUserInfo, error) {
	errb := oops.Code("PROVIDER_USERINFO_FAILED").With("provider", p.config.Name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retry.RetryableError(errb.Wrap(ErrProviderUnavailable))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.RetryableError(errb.Wrap(ErrProviderUnavailable))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, retry.RetryableError(errb.
			With("status", resp.StatusCode).
			Wrap(ErrProviderUnavailable))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errb.With("status", resp.StatusCode).Wrap(ErrInvalidProviderResponse)
	}

	var info providerUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, errb.With("reason", "malformed user info").Wrap(ErrInvalidProviderResponse)
	}
	if info.Sub == "" {
		return nil, errb.With("reason", "missing subject identifier").Wrap(ErrInvalidProviderResponse)
	}
	return &info, nil
}

var _ Provider = (*OAuthProvider)(nil)
