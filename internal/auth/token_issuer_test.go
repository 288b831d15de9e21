package auth

import (
	"testing"
	"time"
)

const testSigningSecret = "unit-test-secret"

func TestIssueAndValidateRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return time.Unix(1750000000, 0).UTC() },
	})

	token, expiresIn, err := issuer.IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expiresIn != 3600 {
		t.Fatalf("expected 3600s expiry, got %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("expected subject user-1, got %q", subject)
	}
}

func TestIssueTokenRequiresSubject(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte(testSigningSecret)})
	if _, _, err := issuer.IssueToken("", "alice"); err == nil {
		t.Fatalf("expected error for empty user id")
	}
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{})
	if _, _, err := issuer.IssueToken("user-1", "alice"); err == nil {
		t.Fatalf("expected error for missing signing secret")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte(testSigningSecret)})
	other := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("different-secret")})

	token, _, err := issuer.IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatalf("expected validation to fail for wrong secret")
	}
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Unix(1750000000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return issuedAt },
	})

	token, _, err := issuer.IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lateValidator := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return issuedAt.Add(2 * time.Hour) },
	})
	if _, err := lateValidator.ValidateToken(token); err == nil {
		t.Fatalf("expected validation to fail after expiry")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte(testSigningSecret)})
	if _, err := issuer.ValidateToken("not-a-jwt"); err == nil {
		t.Fatalf("expected validation to fail for malformed token")
	}
}
