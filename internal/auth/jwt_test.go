package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGenerateAndValidateAdminToken round-trips a freshly issued token.
func TestGenerateAndValidateAdminToken(t *testing.T) {
	manager := NewJWTManager("test-secret", "clawcierge-test", time.Hour)

	token, err := manager.GenerateAdminToken()
	require.NoError(t, err)

	claims, err := manager.ValidateAdminToken(token)
	require.NoError(t, err)
	assert.Equal(t, AdminRole, claims.Role)
	assert.Equal(t, "clawcierge-test", claims.Issuer)
}

// TestValidateAdminToken_WrongSecret rejects a token signed by a
// different manager instance.
func TestValidateAdminToken_WrongSecret(t *testing.T) {
	issuer := NewJWTManager("secret-a", "clawcierge-test", time.Hour)
	verifier := NewJWTManager("secret-b", "clawcierge-test", time.Hour)

	token, err := issuer.GenerateAdminToken()
	require.NoError(t, err)

	_, err = verifier.ValidateAdminToken(token)
	assert.Error(t, err)
}

// TestValidateAdminToken_Expired rejects a token past its expiry.
func TestValidateAdminToken_Expired(t *testing.T) {
	manager := NewJWTManager("test-secret", "clawcierge-test", time.Millisecond)

	token, err := manager.GenerateAdminToken()
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = manager.ValidateAdminToken(token)
	assert.Error(t, err)
}

// TestNewJWTManager_Defaults falls back to a 24h token duration and the
// "clawcierge" issuer when left unset.
func TestNewJWTManager_Defaults(t *testing.T) {
	manager := NewJWTManager("test-secret", "", 0)

	assert.Equal(t, 24*time.Hour, manager.TokenDuration())
	assert.Equal(t, "clawcierge", manager.issuer)
}

// TestHashPassword_ComparePassword round-trips a password through bcrypt.
func TestHashPassword_ComparePassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	assert.True(t, ComparePassword(hash, "correct horse battery staple"))
	assert.False(t, ComparePassword(hash, "wrong password"))
}
