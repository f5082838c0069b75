// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CareCircle Contributors

package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carecircle/carecircle/internal/auth"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercases", "Alice@Example.COM", "alice@example.com"},
		{"trims whitespace", "  bob@example.com\t", "bob@example.com"},
		{"already normal", "carol@example.com", "carol@example.com"},
		{"only whitespace", "   ", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.NormalizeEmail(tt.input))
		})
	}
}
