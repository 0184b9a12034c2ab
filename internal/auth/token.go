// Package auth issues and validates the JWT tokens that guard the relay's
// administrative REST operations (clearing history, replaying events).
// Regular chat traffic over WebSocket is anonymous and does not use tokens.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "tuniway-relay"

// Claims defines the data stored inside a relay admin token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenService signs and validates admin tokens with an HMAC secret.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given signing secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret)}
}

// Generate creates a signed HS256 token for the given username, valid for
// ttl from now.
func (s *TokenService) Generate(username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies the signature and expiration of a token
// string and returns its claims.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	return claims, nil
}

// Valid reports whether the token passes signature and expiry checks.
func (s *TokenService) Valid(tokenString string) bool {
	_, err := s.Validate(tokenString)
	return err == nil
}

// UsernameOf returns the username carried by a valid token, or "" when the
// token does not validate.
func (s *TokenService) UsernameOf(tokenString string) string {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return ""
	}
	return claims.Username
}
