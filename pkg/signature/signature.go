// Package signature computes and verifies hex-encoded HMAC-SHA256 message signatures.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Header is the HTTP header carrying a payload signature.
const Header = "X-Signature"

var (
	// ErrMissing indicates no signature accompanied the payload.
	ErrMissing = errors.New("signature missing")
	// ErrMismatch indicates the signature does not match the payload.
	ErrMismatch = errors.New("signature mismatch")
)

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks sig against the HMAC of payload in constant time.
func Verify(secret, payload []byte, sig string) error {
	if sig == "" {
		return ErrMissing
	}

	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrMismatch
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrMismatch
	}
	return nil
}
