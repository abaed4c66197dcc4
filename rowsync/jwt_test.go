// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuth_GenerateAndValidate(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	token, err := auth.GenerateToken("user-1", "tenant-1", "admin", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "rowsync", claims.Issuer)
}

func TestJWTAuth_RejectsWrongSecret(t *testing.T) {
	token, err := NewJWTAuth("secret-a").GenerateToken("user-1", "tenant-1", "", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTAuth("secret-b").ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTAuth_RejectsExpiredToken(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	token, err := auth.GenerateToken("user-1", "tenant-1", "", -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTAuth_RejectsMissingTenant(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	token, err := auth.GenerateToken("user-1", "", "", time.Hour)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTAuth_Authenticate(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	token, err := auth.GenerateToken("user-1", "tenant-1", "member", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/sync/pull", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	actor, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, Actor{UserID: "user-1", TenantID: "tenant-1", Role: "member"}, actor)
}

func TestJWTAuth_AuthenticateRejectsMalformedHeader(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"no bearer prefix", "token-without-prefix"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/sync/pull", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			_, err := auth.Authenticate(r)
			assert.Error(t, err)
		})
	}
}
