package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"fadedreams/roadassist/domain"
)

func TestTokenManager_IssueAndParse(t *testing.T) {
	m, err := NewTokenManager("secret", time.Hour)
	require.NoError(t, err)

	token, err := m.Issue("u1", domain.RoleMechanic)
	require.NoError(t, err)

	actor, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{UserID: "u1", Role: domain.RoleMechanic}, actor)
}

func TestTokenManager_Parse_Expired(t *testing.T) {
	m, err := NewTokenManager("secret", time.Hour)
	require.NoError(t, err)
	issued := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return issued }

	token, err := m.Issue("u1", domain.RoleUser)
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Parse(token)
	require.Error(t, err)
	assert.Equal(t, domain.KindAuth, domain.KindOf(err))
	assert.Equal(t, "token expired", domain.MessageOf(err))
}

func TestTokenManager_Parse_Rejects(t *testing.T) {
	m, err := NewTokenManager("secret", time.Hour)
	require.NoError(t, err)
	other, err := NewTokenManager("other", time.Hour)
	require.NoError(t, err)

	foreign, err := other.Issue("u1", domain.RoleAdmin)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Role: domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":   "not-a-token",
		"wrong key": foreign,
		"alg none":  unsigned,
		"empty":     "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := m.Parse(token)
			require.Error(t, err)
			assert.Equal(t, domain.KindAuth, domain.KindOf(err))
		})
	}
}

func TestNewTokenManager_Validates(t *testing.T) {
	_, err := NewTokenManager("", time.Hour)
	assert.Error(t, err)
	_, err = NewTokenManager("s", 0)
	assert.Error(t, err)
}

func TestPassword_HashAndCheck(t *testing.T) {
	hash, err := HashPassword("hunter22", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)
	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter23"))
}
