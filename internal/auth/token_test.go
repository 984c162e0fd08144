package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, secret, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{}
	if sub != "" {
		claims["sub"] = sub
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestResolve_VerifyMode_ValidToken(t *testing.T) {
	r := NewTokenResolver("issuer-secret", true)
	sub, aerr := r.Resolve("Bearer " + mintToken(t, "issuer-secret", "user-42"))
	if aerr != nil {
		t.Fatalf("Resolve: %v", aerr)
	}
	if sub != "user-42" {
		t.Fatalf("expected user-42, got %q", sub)
	}
}

func TestResolve_VerifyMode_NoBearerPrefix(t *testing.T) {
	r := NewTokenResolver("issuer-secret", true)
	sub, aerr := r.Resolve(mintToken(t, "issuer-secret", "user-42"))
	if aerr != nil || sub != "user-42" {
		t.Fatalf("raw token without prefix should resolve, got sub=%q err=%v", sub, aerr)
	}
}

func TestResolve_VerifyMode_WrongSecret(t *testing.T) {
	r := NewTokenResolver("issuer-secret", true)
	_, aerr := r.Resolve("Bearer " + mintToken(t, "attacker-secret", "user-42"))
	if aerr == nil || aerr.Code != CodeUnauthorized {
		t.Fatalf("expected unauthorized for tampered token, got %v", aerr)
	}
}

func TestResolve_VerifyMode_GarbageToken(t *testing.T) {
	r := NewTokenResolver("issuer-secret", true)
	for _, tok := range []string{"", "Bearer ", "Bearer not.a.jwt", "Bearer    "} {
		if _, aerr := r.Resolve(tok); aerr == nil || aerr.Code != CodeUnauthorized {
			t.Fatalf("token %q: expected unauthorized, got %v", tok, aerr)
		}
	}
}

func TestResolve_VerifyMode_MissingSubject(t *testing.T) {
	r := NewTokenResolver("issuer-secret", true)
	_, aerr := r.Resolve("Bearer " + mintToken(t, "issuer-secret", ""))
	if aerr == nil || aerr.Code != CodeUnauthorized {
		t.Fatalf("expected unauthorized for missing sub, got %v", aerr)
	}
}

func TestResolve_TrustedIssuerMode_SkipsVerification(t *testing.T) {
	r := NewTokenResolver("", false)
	// Signed with a secret this resolver has never seen.
	sub, aerr := r.Resolve("Bearer " + mintToken(t, "some-upstream-secret", "user-7"))
	if aerr != nil {
		t.Fatalf("trusted-issuer mode must accept unverifiable signatures: %v", aerr)
	}
	if sub != "user-7" {
		t.Fatalf("expected user-7, got %q", sub)
	}
}

func TestResolve_TrustedIssuerMode_StillRequiresWellFormedToken(t *testing.T) {
	r := NewTokenResolver("", false)
	if _, aerr := r.Resolve("Bearer gibberish"); aerr == nil || aerr.Code != CodeUnauthorized {
		t.Fatalf("expected unauthorized for malformed token, got %v", aerr)
	}
}
