// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

// Package identity resolves the authenticated user behind a connection.
// Tokens are minted by the external session service; this package only
// verifies and decodes them.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the resolved user behind a websocket connection.
type Identity struct {
	UserID      string
	DisplayName string
}

// ErrInvalidToken is returned for missing, malformed, expired or
// wrongly-signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Verifier validates session tokens presented at connection upgrade.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// JWTVerifier verifies HMAC-signed session tokens.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with the given secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify checks the token signature and expiry and extracts the identity
// from the sub and name claims.
func (v *JWTVerifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, ErrInvalidToken
	}

	ident := Identity{UserID: sub}
	if name, ok := claims["name"].(string); ok {
		ident.DisplayName = name
	}
	return ident, nil
}

// MintToken signs a token for the given identity. Used by tests and local
// development; production tokens come from the session service.
func MintToken(secret string, ident Identity, expiry time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":  ident.UserID,
		"name": ident.DisplayName,
		"exp":  expiry.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// AnonymousVerifier accepts any token and derives the identity from it
// verbatim. Used when no JWT secret is configured.
type AnonymousVerifier struct{}

// Verify treats the presented token as an opaque user identifier.
func (AnonymousVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: token, DisplayName: token}, nil
}
