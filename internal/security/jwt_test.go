package security

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundtrip(t *testing.T) {
	secret := []byte("test-secret")

	token, err := GenerateToken("ops", "admin", secret, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("expected subject ops, got %q", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Errorf("expected role admin, got %q", claims.Role)
	}
	if claims.ExpiresAt <= claims.IssuedAt {
		t.Error("expiry not after issue time")
	}
}

func TestValidateWrongSecret(t *testing.T) {
	token, err := GenerateToken("ops", "admin", []byte("right"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	_, err = ValidateToken(token, []byte("wrong"))
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := GenerateToken("ops", "admin", secret, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	_, err = ValidateToken(token, secret)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateGarbage(t *testing.T) {
	_, err := ValidateToken("not.a.jwt", []byte("secret"))
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
