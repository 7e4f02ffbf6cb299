package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenSigner_IssueThenVerifyRoundTrips(t *testing.T) {
	s := NewTokenSigner("test-secret", "", time.Hour)
	token, err := s.Issue("user-1", "admin")
	require.NoError(t, err)

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestTokenSigner_RejectsTamperedSignature(t *testing.T) {
	s := NewTokenSigner("test-secret", "", time.Hour)
	token, err := s.Issue("user-1", "admin")
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "abcd"
	_, err = s.Verify(tampered)
	assert.Error(t, err)
}

func TestTokenSigner_RejectsExpiredToken(t *testing.T) {
	s := NewTokenSigner("test-secret", "", time.Hour)
	s.ttl = -time.Hour // NewTokenSigner replaces a non-positive TTL with the default
	token, err := s.Issue("user-1", "admin")
	require.NoError(t, err)

	_, err = s.Verify(token)
	assert.EqualError(t, err, "token expired")
}

func TestTokenSigner_RejectsMalformedToken(t *testing.T) {
	s := NewTokenSigner("test-secret", "", time.Hour)
	_, err := s.Verify("not-a-token")
	assert.Error(t, err)
}

func TestTokenSigner_AcceptsPreviousKeyDuringGraceWindow(t *testing.T) {
	old := NewTokenSigner("old-secret", "", time.Hour)
	token, err := old.Issue("user-1", "admin")
	require.NoError(t, err)

	rotated := NewTokenSigner("new-secret", "old-secret", time.Hour)
	claims, err := rotated.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestTokenSigner_RejectsUnknownKey(t *testing.T) {
	s := NewTokenSigner("some-secret", "", time.Hour)
	token, err := s.Issue("user-1", "admin")
	require.NoError(t, err)

	other := NewTokenSigner("different-secret", "", time.Hour)
	_, err = other.Verify(token)
	assert.Error(t, err)
}
