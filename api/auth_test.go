package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func localAuth(secret string) *Auth {
	return &Auth{
		Audience:  "api://retro",
		Issuer:    "https://issuer/",
		LocalMode: true,
		LocalKey:  []byte(secret),
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestBearerTokenParsing(t *testing.T) {
	if _, err := bearerToken(""); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if _, err := bearerToken("Basic abc"); err != errBadAuthorization {
		t.Fatalf("expected bad header error, got %v", err)
	}
	if _, err := bearerToken("Bearer " + strings.Repeat(".", 100)); err != errBadAuthorization {
		t.Fatalf("expected bad header error for many periods, got %v", err)
	}
	token, err := bearerToken("  Bearer header.payload.signature  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token: %q", token)
	}
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	auth := localAuth("test-secret")
	signed := signToken(t, "test-secret", jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://retro",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
	})

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromAuthHeaderRejectsExpiredToken(t *testing.T) {
	auth := localAuth("test-secret")
	signed := signToken(t, "test-secret", jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://retro",
		"iss": "https://issuer/",
		"exp": time.Now().Add(-10 * time.Minute).Unix(),
	})

	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestUserIDFromAuthHeaderRejectsWrongAudience(t *testing.T) {
	auth := localAuth("test-secret")
	signed := signToken(t, "test-secret", jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://other",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})

	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}
}

func TestUserIDFromAuthHeaderRejectsBadSignature(t *testing.T) {
	auth := localAuth("test-secret")
	signed := signToken(t, "wrong-secret", jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://retro",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})

	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected signature mismatch to be rejected")
	}
}

func TestUserIDFromAuthHeaderRequiresSub(t *testing.T) {
	auth := localAuth("test-secret")
	signed := signToken(t, "test-secret", jwt.MapClaims{
		"aud": "api://retro",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})

	if _, err := auth.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected token without sub to be rejected")
	}
}
