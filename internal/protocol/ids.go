package protocol

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const passwordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomPassword draws n characters from an unambiguous alphanumeric
// alphabet. Used for initial passwords during bulk provisioning.
func RandomPassword(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random password: %w", err)
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}

// RandomDigits returns n decimal digits, e.g. a username suffix.
func RandomDigits(n int) (string, error) {
	out := make([]byte, n)
	ten := big.NewInt(10)
	for i := range out {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("random digits: %w", err)
		}
		out[i] = byte('0' + d.Int64())
	}
	return string(out), nil
}
