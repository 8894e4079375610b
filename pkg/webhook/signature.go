package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Signature scheme prefixes.
const (
	schemeSHA256 = "sha256="
	schemeSHA1   = "sha1="
)

// verifySignature checks the HMAC of the raw payload bytes against the
// signature header value. The comparison is constant-time. The sha1 scheme
// is only honored when allowSHA1 is set; an unrecognized scheme prefix or
// a non-hex digest is a mismatch.
func verifySignature(secret, payload []byte, header string, allowSHA1 bool) error {
	switch {
	case header == "":
		return fmt.Errorf("%w: no signature header", ErrSignature)

	case strings.HasPrefix(header, schemeSHA256):
		digest, err := hex.DecodeString(strings.TrimPrefix(header, schemeSHA256))
		if err != nil {
			return fmt.Errorf("%w: signature is not valid hex", ErrSignature)
		}
		mac := hmac.New(sha256.New, secret)
		mac.Write(payload)
		if !hmac.Equal(digest, mac.Sum(nil)) {
			return fmt.Errorf("%w: sha256 mismatch", ErrSignature)
		}
		return nil

	case strings.HasPrefix(header, schemeSHA1):
		if !allowSHA1 {
			return fmt.Errorf("%w: sha1 signatures are disabled", ErrSignature)
		}
		digest, err := hex.DecodeString(strings.TrimPrefix(header, schemeSHA1))
		if err != nil {
			return fmt.Errorf("%w: signature is not valid hex", ErrSignature)
		}
		mac := hmac.New(sha1.New, secret)
		mac.Write(payload)
		if !hmac.Equal(digest, mac.Sum(nil)) {
			return fmt.Errorf("%w: sha1 mismatch", ErrSignature)
		}
		return nil

	default:
		return fmt.Errorf("%w: unrecognized signature scheme", ErrSignature)
	}
}

// SignSHA256 computes the primary-scheme signature header value for a
// payload. Exported for test fixtures and outbound webhook emitters.
func SignSHA256(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return schemeSHA256 + hex.EncodeToString(mac.Sum(nil))
}

// SignSHA1 computes the legacy-scheme signature header value for a payload.
func SignSHA1(secret, payload []byte) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write(payload)
	return schemeSHA1 + hex.EncodeToString(mac.Sum(nil))
}
