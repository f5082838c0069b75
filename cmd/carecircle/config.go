// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package main

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/carecircle/carecircle/internal/auth"
)

// Deployment modes. Development is the only mode that may carry a login
// bypass block.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// Config is the full service configuration.
type Config struct {
	Mode string `koanf:"mode"`

	Log struct {
		Format string `koanf:"format"`
		Level  string `koanf:"level"`
	} `koanf:"log"`

	Database struct {
		URL string `koanf:"url"`
	} `koanf:"database"`

	Observability struct {
		Addr string `koanf:"addr"`
	} `koanf:"observability"`

	Auth struct {
		BcryptCost       int           `koanf:"bcrypt_cost"`
		LockoutThreshold int           `koanf:"lockout_threshold"`
		LockoutDuration  time.Duration `koanf:"lockout_duration"`
		AccessTokenTTL   time.Duration `koanf:"access_token_ttl"`
		RefreshTokenTTL  time.Duration `koanf:"refresh_token_ttl"`
		StateTTL         time.Duration `koanf:"state_ttl"`

		DevBypass struct {
			Enabled   bool   `koanf:"enabled"`
			AccountID string `koanf:"account_id"`
			Email     string `koanf:"email"`
			Nickname  string `koanf:"nickname"`
		} `koanf:"dev_bypass"`
	} `koanf:"auth"`

	Providers []struct {
		Name         string   `koanf:"name"`
		ClientID     string   `koanf:"client_id"`
		ClientSecret string   `koanf:"client_secret"`
		RedirectURL  string   `koanf:"redirect_url"`
		AuthURL      string   `koanf:"auth_url"`
		TokenURL     string   `koanf:"token_url"`
		UserInfoURL  string   `koanf:"userinfo_url"`
		Scopes       []string `koanf:"scopes"`
	} `koanf:"providers"`

	Sweep struct {
		Interval time.Duration `koanf:"interval"`
	} `koanf:"sweep"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	var cfg Config
	cfg.Mode = ModeProduction
	cfg.Log.Format = "json"
	cfg.Log.Level = "info"
	cfg.Observability.Addr = "127.0.0.1:9100"
	cfg.Auth.BcryptCost = auth.DefaultBcryptCost
	cfg.Auth.LockoutThreshold = auth.DefaultLockoutThreshold
	cfg.Auth.LockoutDuration = auth.DefaultLockoutDuration
	cfg.Auth.AccessTokenTTL = auth.DefaultAccessTokenTTL
	cfg.Auth.RefreshTokenTTL = auth.DefaultRefreshTokenTTL
	cfg.Auth.StateTTL = auth.DefaultStateTTL
	cfg.Sweep.Interval = time.Hour
	return cfg
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// and command-line flags, in that order of precedence.
func LoadConfig(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := DefaultConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return cfg, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load flags").
				Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service refuses to run
// with. The development bypass is rejected outright in production mode; a
// production deployment cannot reach the bypass code path at all.
func (c *Config) Validate() error {
	errb := oops.Code("CONFIG_INVALID")

	if c.Mode != ModeProduction && c.Mode != ModeDevelopment {
		return errb.With("mode", c.Mode).
			Errorf("mode must be %q or %q", ModeProduction, ModeDevelopment)
	}
	if c.Mode == ModeProduction && c.Auth.DevBypass.Enabled {
		return errb.Errorf("dev_bypass cannot be enabled in production mode")
	}
	if c.Auth.DevBypass.Enabled {
		if _, err := ulid.Parse(c.Auth.DevBypass.AccountID); err != nil {
			return errb.With("account_id", c.Auth.DevBypass.AccountID).
				Errorf("dev_bypass.account_id must be a valid ULID")
		}
		if c.Auth.DevBypass.Email == "" {
			return errb.Errorf("dev_bypass.email is required when dev_bypass is enabled")
		}
	}

	if c.Auth.BcryptCost < auth.MinBcryptCost || c.Auth.BcryptCost > auth.MaxBcryptCost {
		return errb.With("bcrypt_cost", c.Auth.BcryptCost).
			Errorf("bcrypt_cost must be between %d and %d", auth.MinBcryptCost, auth.MaxBcryptCost)
	}
	if c.Auth.LockoutThreshold < 1 {
		return errb.With("lockout_threshold", c.Auth.LockoutThreshold).
			Errorf("lockout_threshold must be at least 1")
	}
	if c.Auth.LockoutDuration <= 0 {
		return errb.Errorf("lockout_duration must be positive")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return errb.Errorf("token lifetimes must be positive")
	}
	if c.Auth.StateTTL <= 0 {
		return errb.Errorf("state_ttl must be positive")
	}
	if c.Sweep.Interval <= 0 {
		return errb.Errorf("sweep.interval must be positive")
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return errb.Errorf("provider name is required")
		}
		if _, dup := seen[p.Name]; dup {
			return errb.With("provider", p.Name).
				Errorf("duplicate provider configuration")
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// DevBypass converts the configuration block to the service's bypass value.
// Returns a disabled bypass unless the mode is development.
func (c *Config) DevBypass() auth.DevBypass {
	if c.Mode != ModeDevelopment || !c.Auth.DevBypass.Enabled {
		return auth.DevBypass{}
	}
	id, err := ulid.Parse(c.Auth.DevBypass.AccountID)
	if err != nil {
		// Validate rejects unparseable IDs before this point.
		return auth.DevBypass{}
	}
	return auth.DevBypass{
		Enabled:   true,
		AccountID: id,
		Email:     c.Auth.DevBypass.Email,
		Nickname:  c.Auth.DevBypass.Nickname,
	}
}

// ProviderConfigs converts the configured providers to auth.ProviderConfig
// values.
func (c *Config) ProviderConfigs() []auth.ProviderConfig {
	configs := make([]auth.ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		configs = append(configs, auth.ProviderConfig{
			Name:         p.Name,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
			AuthURL:      p.AuthURL,
			TokenURL:     p.TokenURL,
			UserInfoURL:  p.UserInfoURL,
			Scopes:       p.Scopes,
		})
	}
	return configs
}
