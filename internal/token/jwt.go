// Package token mints and verifies the signed bearer tokens that carry login
// state between requests. A token's kind records how far the login state
// machine has progressed: an intermediate token proves password+certificate
// only, a full token proves completed two-factor authentication.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Kind string

const (
	// KindIntermediate is issued after phase-1 login; TOTP is still pending.
	KindIntermediate Kind = "2fa_pending"
	// KindFull is issued after phase-2 login.
	KindFull Kind = "full"
)

// ErrInvalidToken covers every verification failure: bad signature, expiry,
// malformed payload, unknown kind. Callers surface it uniformly.
var ErrInvalidToken = errors.New("invalid token")

type sessionClaims struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens with a process-wide secret loaded
// once from configuration.
type Issuer struct {
	secret []byte
	issuer string
}

func NewIssuer(secret []byte, issuer string) *Issuer {
	return &Issuer{secret: secret, issuer: issuer}
}

// Mint signs a token asserting "this bearer is identityID" for ttl.
func (i *Issuer) Mint(identityID string, kind Kind, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the identity reference and
// token kind. Every failure collapses to ErrInvalidToken.
func (i *Issuer) Verify(tokenString string) (identityID string, kind Kind, err error) {
	var claims sessionClaims
	tok, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	switch claims.Kind {
	case KindIntermediate, KindFull:
	default:
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Kind, nil
}
