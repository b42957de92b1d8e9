package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doctordirect/consult-relay/internal/core"
)

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "ddrelay",
		Audience: "consult",
		TTL:      time.Hour,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := testJWTConfig()

	token, err := GenerateToken(cfg, "doc-1", "Dr. Who", "doctor")
	require.NoError(t, err)

	claims, err := ValidateToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", claims.Subject)
	assert.Equal(t, "Dr. Who", claims.Name)
	assert.Equal(t, "doctor", claims.Role)
}

func TestValidateTokenRejects(t *testing.T) {
	cfg := testJWTConfig()

	sign := func(claims jwt.MapClaims, secret string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong secret", token: sign(jwt.MapClaims{"sub": "u", "iss": "ddrelay", "aud": "consult", "exp": exp}, "other")},
		{name: "expired", token: sign(jwt.MapClaims{"sub": "u", "iss": "ddrelay", "aud": "consult", "exp": time.Now().Add(-time.Minute).Unix()}, "test-secret-change-me")},
		{name: "wrong issuer", token: sign(jwt.MapClaims{"sub": "u", "iss": "evil", "aud": "consult", "exp": exp}, "test-secret-change-me")},
		{name: "wrong audience", token: sign(jwt.MapClaims{"sub": "u", "iss": "ddrelay", "aud": "other", "exp": exp}, "test-secret-change-me")},
		{name: "missing subject", token: sign(jwt.MapClaims{"iss": "ddrelay", "aud": "consult", "exp": exp}, "test-secret-change-me")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateToken(cfg, tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestResolverModes(t *testing.T) {
	cfg := testJWTConfig()
	token, err := GenerateToken(cfg, "pat-9", "Pat", "patient")
	require.NoError(t, err)
	claimed := core.Identity{UserID: "someone-else", Role: core.RoleAdmin}

	t.Run("token mode requires token", func(t *testing.T) {
		r, err := NewResolver(ModeToken, cfg)
		require.NoError(t, err)

		_, err = r.Resolve("", claimed)
		assert.ErrorIs(t, err, ErrTokenRequired)

		id, err := r.Resolve(token, claimed)
		require.NoError(t, err)
		assert.Equal(t, core.Identity{UserID: "pat-9", DisplayName: "Pat", Role: core.RolePatient}, id)
	})

	t.Run("trust mode accepts claim", func(t *testing.T) {
		r, err := NewResolver(ModeTrust, nil)
		require.NoError(t, err)

		id, err := r.Resolve("", claimed)
		require.NoError(t, err)
		assert.Equal(t, claimed, id)
	})

	t.Run("trust mode prefers token", func(t *testing.T) {
		r, err := NewResolver(ModeTrust, cfg)
		require.NoError(t, err)

		id, err := r.Resolve(token, claimed)
		require.NoError(t, err)
		assert.Equal(t, "pat-9", id.UserID)

		_, err = r.Resolve("bogus", claimed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("token mode without secret", func(t *testing.T) {
		_, err := NewResolver(ModeToken, &JWTConfig{})
		assert.ErrorIs(t, err, ErrNoSecret)
	})
}

func TestResolveBearer(t *testing.T) {
	cfg := testJWTConfig()
	r, err := NewResolver(ModeToken, cfg)
	require.NoError(t, err)

	token, err := GenerateToken(cfg, "doc-1", "", "doctor")
	require.NoError(t, err)

	id, err := r.ResolveBearer("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", id.UserID)

	_, err = r.ResolveBearer(token)
	assert.ErrorIs(t, err, ErrTokenRequired)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Trust ")
	require.NoError(t, err)
	assert.Equal(t, ModeTrust, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeToken, m)

	_, err = ParseMode("open")
	assert.Error(t, err)
}
