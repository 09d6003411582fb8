package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_GenerateAndValidate(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := svc.GenerateToken(1, "operator")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 1, claims.UserID)
	assert.Equal(t, "operator", claims.Username)
	assert.Equal(t, defaultIssuer, claims.Issuer)
}

func TestService_ValidateToken_Rejects(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	foreign, err := NewService("other-secret", time.Hour).GenerateToken(1, "operator")
	require.NoError(t, err)
	otherIssuer, err := NewService("test-secret", time.Hour).WithIssuer("someone-else").GenerateToken(1, "operator")
	require.NoError(t, err)
	expired, err := NewService("test-secret", -time.Hour).GenerateToken(1, "operator")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "invalid-token", ErrInvalidToken},
		{"wrong secret", foreign, ErrInvalidToken},
		{"wrong issuer", otherIssuer, ErrInvalidToken},
		{"expired", expired, ErrExpiredToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("Sup3r-secret")
	require.NoError(t, err)

	assert.True(t, CheckPassword("Sup3r-secret", hash))
	assert.False(t, CheckPassword("wrong", hash))
}
