package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes a caller can hold. The authentication flow ingests attempts; the
// operator tooling reads and resolves.
const (
	ScopeIngest = "risk:ingest"
	ScopeRead   = "risk:read"
	ScopeAdmin  = "risk:admin"
)

// ServiceClaims are the claims carried by a service token. Callers of this
// API are internal services, not end users.
type ServiceClaims struct {
	Service string   `json:"svc"`
	Scopes  []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token carries the given scope. Admin tokens
// imply every other scope.
func (c *ServiceClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// TokenManager handles service token generation and validation
type TokenManager struct {
	secret string
	expiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, expiry time.Duration) *TokenManager {
	return &TokenManager{
		secret: secret,
		expiry: expiry,
	}
}

// GenerateServiceToken creates a token for a calling service with JTI
func (tm *TokenManager) GenerateServiceToken(service string, scopes []string) (string, error) {
	jti := uuid.New().String()

	claims := &ServiceClaims{
		Service: service,
		Scopes:  scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   service,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(tm.secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.Service == "" {
		return nil, fmt.Errorf("invalid token: missing service claim")
	}

	return claims, nil
}
