package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"beamcode/internal/session"
)

func TestBearerAuthenticatorAcceptsMatchingToken(t *testing.T) {
	a := NewBearerAuthenticator("sekret")
	id, err := a.Authenticate("Bearer sekret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.Role != session.RoleParticipant {
		t.Errorf("role = %q, want participant", id.Role)
	}
}

func TestBearerAuthenticatorRejectsMismatch(t *testing.T) {
	a := NewBearerAuthenticator("sekret")
	if _, err := a.Authenticate("Bearer wrong"); err == nil {
		t.Fatal("expected error for mismatched token")
	}
}

func TestChainFallsBackToAnonymous(t *testing.T) {
	c := NewChain(true, NewBearerAuthenticator("sekret"))
	id, err := c.Authenticate("")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.Role != session.RoleObserver {
		t.Errorf("role = %q, want observer", id.Role)
	}
}

func TestChainRejectsEmptyWithoutAnonymous(t *testing.T) {
	c := NewChain(false, NewBearerAuthenticator("sekret"))
	if _, err := c.Authenticate(""); err == nil {
		t.Fatal("expected error when anonymous is disallowed")
	}
}

func TestJWTAuthenticatorAcceptsValidToken(t *testing.T) {
	secret := "shared-secret"
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		DisplayName: "Ada",
		Role:        "participant",
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	a := NewJWTAuthenticator(secret)
	id, err := a.Authenticate("Bearer " + signed)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.UserID != "u1" || id.DisplayName != "Ada" {
		t.Errorf("id = %+v, want u1/Ada", id)
	}
}

func TestJWTAuthenticatorRejectsWrongSecret(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	})
	signed, err := tok.SignedString([]byte("right-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	a := NewJWTAuthenticator("wrong-secret")
	if _, err := a.Authenticate("Bearer " + signed); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}
