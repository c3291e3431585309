package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"

	"secure_chat/internal/cryptographic/keys"
)

// NonceSize is the NaCl box nonce length.
const NonceSize = 24

// ErrDecrypt is returned when authentication fails: wrong key, corrupted
// ciphertext, or tampered nonce. This is an expected outcome, not a crash;
// callers render a placeholder and move on.
var ErrDecrypt = errors.New("decryption failed")

// Envelope is one encrypted message body as it travels on the wire:
// a fresh random nonce and the ciphertext with its authentication tag,
// both base64.
type Envelope struct {
	Nonce  string `json:"nonce"`
	Cipher string `json:"cipher"`
}

// DeriveSharedSecret computes the symmetric key for a peer pair via ECDH.
// It is symmetric: derive(aSec, bPub) == derive(bSec, aPub).
func DeriveSharedSecret(peerPub, mySecret *[keys.KeySize]byte) *[keys.KeySize]byte {
	var shared [keys.KeySize]byte
	box.Precompute(&shared, peerPub, mySecret)
	return &shared
}

// DeriveSharedSecretB64 is DeriveSharedSecret over base64 key material,
// rejecting malformed keys with keys.ErrKeyFormat before any use.
func DeriveSharedSecretB64(peerPubB64, mySecretB64 string) (*[keys.KeySize]byte, error) {
	peerPub, err := keys.Decode(peerPubB64)
	if err != nil {
		return nil, fmt.Errorf("peer public key: %w", err)
	}
	mySec, err := keys.Decode(mySecretB64)
	if err != nil {
		return nil, fmt.Errorf("secret key: %w", err)
	}
	return DeriveSharedSecret(peerPub, mySec), nil
}

// Seal encrypts plaintext under the shared secret with a fresh random nonce.
func Seal(plaintext string, shared *[keys.KeySize]byte) (*Envelope, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}
	boxed := box.SealAfterPrecomputation(nil, []byte(plaintext), &nonce, shared)
	return &Envelope{
		Nonce:  base64.StdEncoding.EncodeToString(nonce[:]),
		Cipher: base64.StdEncoding.EncodeToString(boxed),
	}, nil
}

// Open authenticates and decrypts an envelope. Any authentication failure
// comes back as ErrDecrypt.
func Open(env *Envelope, shared *[keys.KeySize]byte) (string, error) {
	rawNonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(rawNonce) != NonceSize {
		return "", ErrDecrypt
	}
	rawCipher, err := base64.StdEncoding.DecodeString(env.Cipher)
	if err != nil {
		return "", ErrDecrypt
	}
	var nonce [NonceSize]byte
	copy(nonce[:], rawNonce)
	plain, ok := box.OpenAfterPrecomputation(nil, rawCipher, &nonce, shared)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// Encode serializes the envelope for embedding as the encryptedContent
// string of a transport message.
func (e *Envelope) Encode() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Parse reads an envelope back out of an encryptedContent string.
func Parse(s string) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if e.Nonce == "" || e.Cipher == "" {
		return nil, fmt.Errorf("parse envelope: missing nonce or cipher")
	}
	return &e, nil
}
