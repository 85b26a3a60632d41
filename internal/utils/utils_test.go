package utils

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "s3cret"))
	assert.False(t, VerifyPassword(hash, "wrong"))
}

func TestNormalizeCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, normalizeCost(0))
	assert.Equal(t, bcrypt.DefaultCost, normalizeCost(-3))
	assert.Equal(t, bcrypt.MinCost, normalizeCost(1))
	assert.Equal(t, bcrypt.MaxCost, normalizeCost(99))
	assert.Equal(t, 12, normalizeCost(12))
}

func TestHashPasswordNormalizesLowCost(t *testing.T) {
	hash, err := HashPassword("s3cret", 1)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
	assert.True(t, VerifyPassword(hash, "s3cret"))
}

func TestNewAccessTokenClaims(t *testing.T) {
	at, err := NewAccessToken("secret", 42, "ADVISOR", 15)
	require.NoError(t, err)

	tok, err := jwt.Parse(at.Token, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	require.NoError(t, err)
	claims := tok.Claims.(jwt.MapClaims)
	assert.Equal(t, float64(42), claims["sub"])
	assert.Equal(t, "ADVISOR", claims["role"])
}

func TestRefreshTokenHashIsStable(t *testing.T) {
	rt, err := NewRefreshToken(30)
	require.NoError(t, err)
	assert.Len(t, rt.Raw, 96)
	assert.Equal(t, HashRefreshRaw(rt.Raw), HashRefreshRaw(rt.Raw))
	assert.NotEqual(t, rt.Raw, HashRefreshRaw(rt.Raw))
}
