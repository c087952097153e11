package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrVerificationDisabled = errors.New("token verification is not configured")
	ErrMissingSubject       = errors.New("token has no subject")
)

// Claims mirrors the access tokens issued by the identity provider.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager verifies HS256 bearer tokens signed with the provider's shared secret.
type JWTManager struct {
	secretKey []byte
	issuer    string
	audience  string
}

func NewJWTManager(secretKey, issuer, audience string) *JWTManager {
	return &JWTManager{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		audience:  audience,
	}
}

// GenerateToken signs a token for subject. Used by local tooling and tests; production tokens
// come from the identity provider.
func (m *JWTManager) GenerateToken(subject, email string, ttl time.Duration) (string, error) {
	if len(m.secretKey) == 0 {
		return "", ErrVerificationDisabled
	}

	now := time.Now()
	claims := &Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if m.issuer != "" {
		claims.Issuer = m.issuer
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// ValidateToken parses and verifies tokenString, returning its claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	if len(m.secretKey) == 0 {
		return nil, ErrVerificationDisabled
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	return claims, nil
}
