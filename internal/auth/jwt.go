package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTManager issues signed access tokens.
type JWTManager struct {
	secret        []byte
	audience      string
	tokenDuration time.Duration
}

// NewJWTManager constructs a token issuer.
func NewJWTManager(secret, audience string, duration time.Duration) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		audience:      audience,
		tokenDuration: duration,
	}
}

// GenerateToken signs an HS256 token with the username as subject.
func (j *JWTManager) GenerateToken(username string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenDuration)),
	}
	if j.audience != "" {
		claims.Audience = jwt.ClaimStrings{j.audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}
