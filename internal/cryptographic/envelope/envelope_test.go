package envelope

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"secure_chat/internal/cryptographic/keys"
)

func TestSharedSecretSymmetry(t *testing.T) {
	alicePub, aliceSec, err := keys.NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	bobPub, bobSec, err := keys.NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	ab := DeriveSharedSecret(bobPub, aliceSec)
	ba := DeriveSharedSecret(alicePub, bobSec)
	if !bytes.Equal(ab[:], ba[:]) {
		t.Error("shared secrets differ between the two derivation directions")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	_, aliceSec, _ := keys.NewKeyPair()
	bobPub, _, _ := keys.NewKeyPair()
	shared := DeriveSharedSecret(bobPub, aliceSec)

	plaintexts := []string{"hello", "", "späße ünïcode 💬", string(make([]byte, 4096))}
	for _, p := range plaintexts {
		env, err := Seal(p, shared)
		if err != nil {
			t.Fatalf("Seal(%q) failed: %v", p, err)
		}
		got, err := Open(env, shared)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if got != p {
			t.Errorf("round trip mismatch: got %q want %q", got, p)
		}
	}
}

func TestTamperDetection(t *testing.T) {
	_, aliceSec, _ := keys.NewKeyPair()
	bobPub, _, _ := keys.NewKeyPair()
	shared := DeriveSharedSecret(bobPub, aliceSec)

	env, err := Seal("do not touch", shared)
	if err != nil {
		t.Fatal(err)
	}

	flip := func(b64 string, bit int) string {
		raw, _ := base64.StdEncoding.DecodeString(b64)
		raw[bit/8] ^= 1 << (bit % 8)
		return base64.StdEncoding.EncodeToString(raw)
	}

	rawCipher, _ := base64.StdEncoding.DecodeString(env.Cipher)
	for bit := 0; bit < len(rawCipher)*8; bit++ {
		tampered := &Envelope{Nonce: env.Nonce, Cipher: flip(env.Cipher, bit)}
		if _, err := Open(tampered, shared); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("flipping cipher bit %d: got %v, want ErrDecrypt", bit, err)
		}
	}
	for bit := 0; bit < NonceSize*8; bit++ {
		tampered := &Envelope{Nonce: flip(env.Nonce, bit), Cipher: env.Cipher}
		if _, err := Open(tampered, shared); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("flipping nonce bit %d: got %v, want ErrDecrypt", bit, err)
		}
	}
}

func TestWrongKeyFails(t *testing.T) {
	_, aliceSec, _ := keys.NewKeyPair()
	bobPub, _, _ := keys.NewKeyPair()
	_, eveSec, _ := keys.NewKeyPair()

	env, _ := Seal("secret", DeriveSharedSecret(bobPub, aliceSec))
	if _, err := Open(env, DeriveSharedSecret(bobPub, eveSec)); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt with wrong key, got %v", err)
	}
}

func TestNonceUniqueness(t *testing.T) {
	_, aliceSec, _ := keys.NewKeyPair()
	bobPub, _, _ := keys.NewKeyPair()
	shared := DeriveSharedSecret(bobPub, aliceSec)

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		env, err := Seal("same plaintext", shared)
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[env.Nonce]; dup {
			t.Fatalf("duplicate nonce after %d encryptions", i)
		}
		seen[env.Nonce] = struct{}{}
	}
}

func TestDeriveSharedSecretB64RejectsBadKeys(t *testing.T) {
	pub, sec, _ := keys.NewKeyPair()
	good := keys.Encode(pub)
	goodSec := keys.Encode(sec)

	cases := []struct {
		name     string
		peer, my string
	}{
		{"empty peer", "", goodSec},
		{"empty secret", good, ""},
		{"not base64", "@@not-base64@@", goodSec},
		{"short key", base64.StdEncoding.EncodeToString([]byte("short")), goodSec},
		{"long key", base64.StdEncoding.EncodeToString(make([]byte, 64)), goodSec},
	}
	for _, tc := range cases {
		if _, err := DeriveSharedSecretB64(tc.peer, tc.my); !errors.Is(err, keys.ErrKeyFormat) {
			t.Errorf("%s: got %v, want ErrKeyFormat", tc.name, err)
		}
	}

	if _, err := DeriveSharedSecretB64(good, goodSec); err != nil {
		t.Errorf("valid keys rejected: %v", err)
	}
}

func TestEnvelopeEncodeParse(t *testing.T) {
	_, aliceSec, _ := keys.NewKeyPair()
	bobPub, _, _ := keys.NewKeyPair()
	shared := DeriveSharedSecret(bobPub, aliceSec)

	env, _ := Seal("wire format", shared)
	parsed, err := Parse(env.Encode())
	if err != nil {
		t.Fatal(err)
	}
	got, err := Open(parsed, shared)
	if err != nil || got != "wire format" {
		t.Errorf("Open after Encode/Parse: %q, %v", got, err)
	}

	if _, err := Parse("not json"); err == nil {
		t.Error("expected error for malformed envelope string")
	}
	if _, err := Parse(`{"nonce":""}`); err == nil {
		t.Error("expected error for missing fields")
	}
}
