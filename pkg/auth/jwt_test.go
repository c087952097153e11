package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManagerRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "", "")

	token, err := m.GenerateToken("user-42", "user@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)
}

func TestJWTManagerRejects(t *testing.T) {
	good := NewJWTManager("secret", "issuer-a", "authenticated")

	expired, err := good.GenerateToken("user-1", "", -time.Minute)
	require.NoError(t, err)

	otherSecret, err := NewJWTManager("other", "issuer-a", "authenticated").GenerateToken("user-1", "", time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := NewJWTManager("secret", "issuer-b", "authenticated").GenerateToken("user-1", "", time.Hour)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong secret", otherSecret},
		{"wrong issuer", wrongIssuer},
		{"alg none", noneAlg},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := good.ValidateToken(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestJWTManagerWithoutSecret(t *testing.T) {
	m := NewJWTManager("", "", "")

	_, err := m.ValidateToken("anything")
	assert.ErrorIs(t, err, ErrVerificationDisabled)

	_, err = m.GenerateToken("user", "", time.Hour)
	assert.ErrorIs(t, err, ErrVerificationDisabled)
}

func TestJWTManagerRequiresSubject(t *testing.T) {
	m := NewJWTManager("secret", "", "")
	token, err := m.GenerateToken("", "", time.Hour)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrMissingSubject)
}
