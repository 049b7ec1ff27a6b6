package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrEmptySecret is returned when a signer is built without key material.
var ErrEmptySecret = errors.New("audit: signing secret must not be empty")

// Signer computes keyed HMAC-SHA256 signatures over canonical JSON.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the lowercase hex signature of fields. Two maps holding the
// same data sign identically regardless of key order or the Go types used to
// express equal values.
func (s *Signer) Sign(fields map[string]any) (string, error) {
	encoded, err := EncodeCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("canonicalize signed fields: %w", err)
	}
	return s.Digest(encoded), nil
}

// Digest is the hex HMAC of raw bytes.
func (s *Signer) Digest(data []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature of fields and compares it in constant time.
func (s *Signer) Verify(fields map[string]any, signature string) (bool, error) {
	expected, err := s.Sign(fields)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}
