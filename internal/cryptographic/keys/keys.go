package keys

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length of an X25519 public or secret key.
const KeySize = 32

// ErrKeyFormat marks key material that is empty, not base64, or the wrong
// length. Callers must check with errors.Is before using such material.
var ErrKeyFormat = errors.New("malformed key material")

// NewKeyPair generates a fresh X25519 key pair for NaCl box.
func NewKeyPair() (pub, sec *[KeySize]byte, err error) {
	pub, sec, err = box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate keypair: %w", err)
	}
	return pub, sec, nil
}

// Decode parses a base64-encoded key. Surrounding whitespace and stray
// quotes are stripped first; some clients publish keys copied through JSON.
func Decode(b64 string) (*[KeySize]byte, error) {
	s := strings.TrimSpace(b64)
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil, fmt.Errorf("%w: empty key", ErrKeyFormat)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrKeyFormat, len(raw), KeySize)
	}
	var k [KeySize]byte
	copy(k[:], raw)
	return &k, nil
}

func Encode(k *[KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(k[:])
}
