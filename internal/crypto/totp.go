package crypto

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/voteguard/voteguard-identity/internal/protocol"
)

// totpOpts are the RFC 6238 parameters shared by provisioning and
// verification: 30 second step, 6 digits, HMAC-SHA1. Changing either side
// alone would strand every enrolled authenticator.
var totpValidateOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

const qrCodeSize = 200

// ProvisionTOTP generates a fresh shared secret for the given account and the
// enrollment artifact a voter scans into an authenticator app. Storing the
// secret is the caller's responsibility.
func ProvisionTOTP(issuer, username string) (secret string, enrollment protocol.Enrollment, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: username,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", protocol.Enrollment{}, fmt.Errorf("generate totp secret: %w", err)
	}
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", protocol.Enrollment{}, fmt.Errorf("render enrollment qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", protocol.Enrollment{}, fmt.Errorf("encode enrollment qr: %w", err)
	}
	enrollment = protocol.Enrollment{
		OTPAuthURL: key.URL(),
		QRCode:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	return key.Secret(), enrollment, nil
}

// VerifyTOTP checks a submitted code against the stored secret, accepting the
// current 30-second window plus one window of clock skew on either side.
func VerifyTOTP(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totpValidateOpts)
	return err == nil && ok
}

// VerifyTOTPAt is VerifyTOTP against an explicit clock, for tests.
func VerifyTOTPAt(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totpValidateOpts)
	return err == nil && ok
}
