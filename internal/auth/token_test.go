package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewTokenService("test-secret")

	token, err := svc.Generate("admin", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error generating token: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("unexpected error validating token: %v", err)
	}
	if claims.Username != "admin" {
		t.Errorf("expected username 'admin', got %q", claims.Username)
	}
	if claims.Issuer != issuer {
		t.Errorf("expected issuer %q, got %q", issuer, claims.Issuer)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	svc := NewTokenService("test-secret")

	token, err := svc.Generate("admin", -time.Minute)
	if err != nil {
		t.Fatalf("unexpected error generating token: %v", err)
	}

	if _, err := svc.Validate(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuerSvc := NewTokenService("secret-a")
	verifierSvc := NewTokenService("secret-b")

	token, err := issuerSvc.Generate("admin", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error generating token: %v", err)
	}

	if _, err := verifierSvc.Validate(token); err == nil {
		t.Error("expected error for token signed with a different secret")
	}
}

func TestValidAndUsernameOf(t *testing.T) {
	svc := NewTokenService("test-secret")

	token, err := svc.Generate("fatma", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !svc.Valid(token) {
		t.Error("expected token to be valid")
	}
	if got := svc.UsernameOf(token); got != "fatma" {
		t.Errorf("expected username 'fatma', got %q", got)
	}

	if svc.Valid("garbage") {
		t.Error("expected garbage token to be invalid")
	}
	if got := svc.UsernameOf("garbage"); got != "" {
		t.Errorf("expected empty username for garbage token, got %q", got)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := NewTokenService("test-secret")
	if _, err := svc.Validate("not.a.token"); err == nil {
		t.Error("expected error for malformed token")
	}
}
