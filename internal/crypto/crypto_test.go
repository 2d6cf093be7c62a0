package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("Secret123!")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "Secret123!" {
		t.Fatalf("hash must not equal cleartext")
	}
	if !VerifyPassword(hash, "Secret123!") {
		t.Fatalf("expected password to verify")
	}
	if VerifyPassword(hash, "Secret123") {
		t.Fatalf("expected wrong password to fail")
	}
	if VerifyPassword("not-a-hash", "Secret123!") {
		t.Fatalf("expected malformed hash to fail closed")
	}
}

func TestProvisionTOTPProducesEnrollmentArtifact(t *testing.T) {
	secret, enrollment, err := ProvisionTOTP("Voteguard Voting System", "alice")
	if err != nil {
		t.Fatalf("provision totp: %v", err)
	}
	if secret == "" {
		t.Fatalf("expected non-empty secret")
	}
	if !strings.HasPrefix(enrollment.OTPAuthURL, "otpauth://totp/") {
		t.Fatalf("unexpected otpauth url %q", enrollment.OTPAuthURL)
	}
	if !strings.Contains(enrollment.OTPAuthURL, "alice") {
		t.Fatalf("otpauth url must carry the account label, got %q", enrollment.OTPAuthURL)
	}
	if !strings.HasPrefix(enrollment.QRCode, "data:image/png;base64,") {
		t.Fatalf("unexpected qr artifact prefix %q", enrollment.QRCode[:min(len(enrollment.QRCode), 30)])
	}
}

func TestVerifyTOTPAcceptsSkewWindows(t *testing.T) {
	secret, _, err := ProvisionTOTP("Voteguard Voting System", "alice")
	if err != nil {
		t.Fatalf("provision totp: %v", err)
	}
	now := time.Now().UTC()

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := totp.GenerateCode(secret, now.Add(offset))
		if err != nil {
			t.Fatalf("generate code: %v", err)
		}
		if !VerifyTOTPAt(secret, code, now) {
			t.Errorf("expected code for offset %v to verify", offset)
		}
	}

	stale, err := totp.GenerateCode(secret, now.Add(-90*time.Second))
	if err != nil {
		t.Fatalf("generate stale code: %v", err)
	}
	if VerifyTOTPAt(secret, stale, now) {
		t.Fatalf("expected code two windows back to fail")
	}
	if VerifyTOTPAt(secret, "000000", now) && VerifyTOTPAt(secret, "123456", now) {
		t.Fatalf("expected arbitrary codes to fail")
	}
}
