package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	sealSalt = []byte("continuity-audit-v1")
	sealInfo = []byte("manifest-seal")
)

// Signer seals manifest hashes with HMAC-SHA256
type Signer struct {
	key []byte
}

// NewSigner derives the sealing key from secret with HKDF-SHA256
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, sealSalt, sealInfo), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &Signer{key: key}, nil
}

// Sign returns the hex seal of manifestHash
func (s *Signer) Sign(manifestHash string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(manifestHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a seal in constant time
func (s *Signer) Verify(manifestHash, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(s.Sign(manifestHash))
	return hmac.Equal(got, want)
}
