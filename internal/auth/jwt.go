package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the backend's access token the client reads.
// The signature is not verified here; that is the server's job.
type Claims struct {
	Nickname string `json:"nickName,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes token without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// ExpiresAt returns the token's exp claim. ok is false for opaque tokens and
// tokens without an expiry.
func ExpiresAt(token string) (exp time.Time, ok bool) {
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
