// Package rpcauth provides optional bearer-token authentication for
// the HTTP upgrade path, grounded on bun-kms's internal/auth/jwt.go.
// It has no bearing on the wire protocol itself: pure-TCP Dial and
// DialSecure never touch it.
package rpcauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the dialing client by ClientID, which NewToken
// also sets as the token subject. This module only validates the
// token; callers may layer authorization on top.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
}

// NewToken mints a signed bearer token for clientID, valid for expiry.
func NewToken(secret []byte, clientID string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
		ClientID: clientID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and verifies tokenString, returning its Claims.
func ValidateToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
