// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"runtime"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// Bcrypt cost bounds. Values outside [MinBcryptCost, MaxBcryptCost] are
// rejected at construction, never clamped.
const (
	MinBcryptCost     = 10
	MaxBcryptCost     = 15
	DefaultBcryptCost = 12
)

// bcryptInputLimit is bcrypt's hard limit on input length in bytes.
// Longer secrets are reduced to a SHA-256 hex digest first.
const bcryptInputLimit = 72

// preDigestPrefix tags stored hashes whose input was pre-reduced, so
// verification always knows which transformation produced a hash.
const preDigestPrefix = "$bcrypt-sha256$"

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a storable hash of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on
	// malformed stored hash.
	Verify(password, encodedHash string) (bool, error)
}

// BcryptHasher implements PasswordHasher using bcrypt, with a deterministic
// SHA-256 pre-reduction for secrets over bcrypt's 72-byte input limit.
type BcryptHasher struct {
	cost int

	// gate bounds concurrent bcrypt computations so one burst of logins
	// cannot monopolize every CPU.
	gate chan struct{}
}

// NewBcryptHasher creates a BcryptHasher with the given cost.
// Costs outside [MinBcryptCost, MaxBcryptCost] are rejected.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < MinBcryptCost || cost > MaxBcryptCost {
		return nil, oops.Code("AUTH_INVALID_HASH_COST").
			With("cost", cost).
			With("min", MinBcryptCost).
			With("max", MaxBcryptCost).
			Errorf("bcrypt cost %d outside [%d, %d]", cost, MinBcryptCost, MaxBcryptCost)
	}
	return &BcryptHasher{
		cost: cost,
		gate: make(chan struct{}, 2*runtime.GOMAXPROCS(0)),
	}, nil
}

// Hash produces a tagged bcrypt hash of the password.
// The plaintext and any pre-digest value never appear in errors.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	input, reduced := reduceSecret(password)

	h.gate <- struct{}{}
	raw, err := bcrypt.GenerateFromPassword(input, h.cost)
	<-h.gate
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").Errorf("cannot process credential")
	}

	if reduced {
		return preDigestPrefix + string(raw), nil
	}
	return string(raw), nil
}

// Verify checks if the password matches the stored hash. The stored prefix
// decides whether the pre-reduction applies; there is no fallback between
// the two forms.
func (h *BcryptHasher) Verify(password, encodedHash string) (bool, error) {
	if password == "" || encodedHash == "" {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("empty password or hash")
	}

	stored := encodedHash
	input := []byte(password)
	if rest, found := strings.CutPrefix(encodedHash, preDigestPrefix); found {
		stored = rest
		input = digestSecret(password)
	} else if !strings.HasPrefix(encodedHash, "$2") {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash format")
	}

	h.gate <- struct{}{}
	err := bcrypt.CompareHashAndPassword([]byte(stored), input)
	<-h.gate

	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
}

// reduceSecret returns the bytes to feed bcrypt and whether the
// pre-reduction was applied. The reduction is byte-exact over the UTF-8
// encoding, never locale-dependent.
func reduceSecret(password string) (input []byte, reduced bool) {
	if len(password) <= bcryptInputLimit {
		return []byte(password), false
	}
	return digestSecret(password), true
}

// digestSecret reduces a long secret to its lowercase hex SHA-256 digest,
// 64 bytes, within bcrypt's input limit.
func digestSecret(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}

// Compile-time interface check.
var _ PasswordHasher = (*BcryptHasher)(nil)
