package github

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // GitHub signs the X-Hub-Signature header with HMAC-SHA1
	"encoding/hex"
	"errors"
)

const (
	signatureHeader = "X-Hub-Signature"
	signaturePrefix = "sha1="
	// signatureHeaderLen is the length of a valid signature header value:
	// the prefix followed by a hex encoded SHA1 digest.
	signatureHeaderLen = len(signaturePrefix) + 2*sha1.Size
)

// ErrSignatureMismatch is returned when a signature does not match the
// computed HMAC of a payload.
var ErrSignatureMismatch = errors.New("payload signature mismatch")

// VerifySignature computes the HMAC-SHA1 of payload keyed with secret and
// compares it in constant time with signature.
// If they differ, including when signature does not have the length of a
// SHA1 digest, ErrSignatureMismatch is returned.
func VerifySignature(payload, secret, signature []byte) error {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(payload)

	if !hmac.Equal(mac.Sum(nil), signature) {
		return ErrSignatureMismatch
	}

	return nil
}

// parseSignatureHeader returns the decoded digest of an X-Hub-Signature
// header value.
// Values that do not have the exact length of a valid header are reported as
// missing header.
func parseSignatureHeader(val string) ([]byte, *HTTPError) {
	if len(val) != signatureHeaderLen {
		return nil, ErrSignatureHeaderRequired
	}

	if val[:len(signaturePrefix)] != signaturePrefix {
		return nil, ErrUnsupportedHMACMethod
	}

	sig, err := hex.DecodeString(val[len(signaturePrefix):])
	if err != nil {
		return nil, ErrInvalidSignatureHeader
	}

	return sig, nil
}
