package token

import (
	"errors"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestMintVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer(testSecret, "voteguard-identity")
	tok, err := issuer.Mint("id_123", KindFull, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	id, kind, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != "id_123" {
		t.Errorf("unexpected identity %q", id)
	}
	if kind != KindFull {
		t.Errorf("unexpected kind %q", kind)
	}
}

func TestVerifyDistinguishesKinds(t *testing.T) {
	issuer := NewIssuer(testSecret, "voteguard-identity")
	tok, err := issuer.Mint("id_123", KindIntermediate, time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	_, kind, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if kind != KindIntermediate {
		t.Fatalf("phase-1 token must carry the intermediate kind, got %q", kind)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer := NewIssuer(testSecret, "voteguard-identity")
	tok, err := issuer.Mint("id_123", KindFull, -time.Second)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, _, err := issuer.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	minter := NewIssuer(testSecret, "voteguard-identity")
	verifier := NewIssuer([]byte("another-key-another-key-another-k"), "voteguard-identity")
	tok, err := minter.Mint("id_123", KindFull, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, _, err := verifier.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong key, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer := NewIssuer(testSecret, "voteguard-identity")
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, _, err := issuer.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken for %q, got %v", tok, err)
		}
	}
}
