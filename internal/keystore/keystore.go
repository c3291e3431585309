package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"secure_chat/internal/cryptographic/keys"
	"secure_chat/internal/utils/log"
)

const (
	// FileName must never change again; older names are migrated once.
	FileName = "keypair-v1.json"
)

var legacyFileNames = []string{"keypair.json", "keypair-v0.json"}

type (
	// KeyPair is the long-term installation identity, both halves base64.
	// The secret key never leaves the directory it is persisted in.
	KeyPair struct {
		PublicKey string `json:"publicKey"`
		SecretKey string `json:"secretKey"`
	}

	// legacyKeyPair covers the field names older installations used.
	legacyKeyPair struct {
		PublicKey    string `json:"publicKey"`
		PublicKeyB64 string `json:"publicKeyB64"`
		PublicX      string `json:"public_x"`
		SecretKey    string `json:"secretKey"`
		SecretKeyB64 string `json:"secretKeyB64"`
	}
)

// LoadOrCreate returns the keypair persisted under dir, migrating legacy
// files and field names when found. Generation happens at most once per
// installation; a corrupt store that cannot be migrated falls back to a
// fresh keypair, which makes old conversations undecryptable under the new
// identity.
func LoadOrCreate(dir string) (*KeyPair, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore dir: %w", err)
	}

	path := filepath.Join(dir, FileName)
	if kp := readValid(path); kp != nil {
		return kp, nil
	}

	if kp := migrateLegacy(dir, path); kp != nil {
		return kp, nil
	}

	pub, sec, err := keys.NewKeyPair()
	if err != nil {
		return nil, err
	}
	kp := &KeyPair{PublicKey: keys.Encode(pub), SecretKey: keys.Encode(sec)}
	if err := write(path, kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// Keys decodes the stored base64 halves into usable key material.
func (kp *KeyPair) Keys() (pub, sec *[keys.KeySize]byte, err error) {
	if pub, err = keys.Decode(kp.PublicKey); err != nil {
		return nil, nil, err
	}
	if sec, err = keys.Decode(kp.SecretKey); err != nil {
		return nil, nil, err
	}
	return pub, sec, nil
}

func readValid(path string) *KeyPair {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	kp := parseAnyShape(data)
	if kp == nil {
		log.Warn("keystore file unreadable, regenerating", zap.String("path", path))
	}
	return kp
}

// parseAnyShape accepts the current shape or any known legacy field naming,
// validating the key material before accepting it.
func parseAnyShape(data []byte) *KeyPair {
	var lk legacyKeyPair
	if err := json.Unmarshal(data, &lk); err != nil {
		return nil
	}
	kp := &KeyPair{
		PublicKey: firstNonEmpty(lk.PublicKey, lk.PublicKeyB64, lk.PublicX),
		SecretKey: firstNonEmpty(lk.SecretKey, lk.SecretKeyB64),
	}
	if _, _, err := kp.Keys(); err != nil {
		return nil
	}
	return kp
}

func migrateLegacy(dir, path string) *KeyPair {
	for _, name := range legacyFileNames {
		legacyPath := filepath.Join(dir, name)
		data, err := os.ReadFile(legacyPath)
		if err != nil {
			continue
		}
		kp := parseAnyShape(data)
		if kp == nil {
			continue
		}
		if err := write(path, kp); err != nil {
			log.Error("keystore migration write failed", zap.Error(err))
			return nil
		}
		os.Remove(legacyPath)
		log.Info("migrated legacy keystore", zap.String("from", name))
		return kp
	}
	return nil
}

func write(path string, kp *KeyPair) error {
	data, err := json.Marshal(kp)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("persist keypair: %w", err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
