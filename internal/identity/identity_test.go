// ChatRelay - Trip Chat Ingestion and Flush Pipeline
// Copyright 2026 Tripmesh
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tripmesh/chatrelay

package identity

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret-key"

func TestJWTVerifier_RoundTrip(t *testing.T) {
	want := Identity{UserID: "user-1", DisplayName: "Ada"}

	token, err := MintToken(testSecret, want, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	got, err := NewJWTVerifier(testSecret).Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != want {
		t.Errorf("Verify = %+v, want %+v", got, want)
	}
}

func TestJWTVerifier_Rejections(t *testing.T) {
	valid, err := MintToken(testSecret, Identity{UserID: "user-1"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	expired, err := MintToken(testSecret, Identity{UserID: "user-1"}, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	noSubject, err := MintToken(testSecret, Identity{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	cases := []struct {
		name   string
		secret string
		token  string
	}{
		{"empty token", testSecret, ""},
		{"garbage token", testSecret, "not.a.jwt"},
		{"wrong secret", "other-secret", valid},
		{"expired", testSecret, expired},
		{"missing subject", testSecret, noSubject},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewJWTVerifier(tc.secret).Verify(tc.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestAnonymousVerifier(t *testing.T) {
	ident, err := AnonymousVerifier{}.Verify("wanderer")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ident.UserID != "wanderer" {
		t.Errorf("UserID = %q, want wanderer", ident.UserID)
	}

	if _, err := (AnonymousVerifier{}).Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token should be rejected, got %v", err)
	}
}
