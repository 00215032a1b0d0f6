package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNewChannelTokenClaims(t *testing.T) {
	tok, err := NewChannelToken("secret", "kiosk-1", "PARK", 10)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(10*time.Minute), tok.Exp, 5*time.Second)

	parsed, err := jwt.Parse(tok.Token, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "kiosk-1", claims["sub"])
	assert.Equal(t, "PARK", claims["chan"])
}

func TestHolderTokensAreUnique(t *testing.T) {
	a, err := NewHolderToken()
	require.NoError(t, err)
	b, err := NewHolderToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}

func TestAPIKeyHashRoundTrip(t *testing.T) {
	hash, err := HashAPIKey("channel-key-1", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, VerifyAPIKey(hash, "channel-key-1"))
	assert.False(t, VerifyAPIKey(hash, "channel-key-2"))
}
