// Package secrets manages the master encryption key, credential
// encryption/decryption, admin password hashing, and request-signing key
// derivation. Exchange and ranking API keys are never stored in plaintext.
package secrets

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/nacl/secretbox"
)

const keySize = 32

// ErrDecryptionFailed indicates ciphertext could not be opened with the
// current master key, most often because the key changed or the blob is
// corrupt. Callers must treat it as "no credential available", never panic.
var ErrDecryptionFailed = errors.New("secrets: decryption failed")

// MasterKey is the 32-byte key used for nacl/secretbox credential
// encryption and as the HMAC key underlying SigningKey derivation.
type MasterKey struct {
	key [keySize]byte
}

// LoadMasterKey resolves the master key in priority order: the
// REBALANCER_MASTER_KEY environment variable (base64, 32 bytes decoded),
// then a key file under dataDir, then generates and persists a fresh key
// while logging a loud warning — mirrors the teacher's env-first,
// file-fallback resolution for TRADER_DATA_DIR.
func LoadMasterKey(dataDir string, log zerolog.Logger) (*MasterKey, error) {
	if raw := os.Getenv("REBALANCER_MASTER_KEY"); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("secrets: REBALANCER_MASTER_KEY is not valid base64: %w", err)
		}
		if len(decoded) != keySize {
			return nil, fmt.Errorf("secrets: REBALANCER_MASTER_KEY must decode to %d bytes, got %d", keySize, len(decoded))
		}
		var mk MasterKey
		copy(mk.key[:], decoded)
		return &mk, nil
	}

	keyPath := filepath.Join(dataDir, "master.key")
	if data, err := os.ReadFile(keyPath); err == nil {
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil || len(decoded) != keySize {
			return nil, fmt.Errorf("secrets: master key file %s is corrupt", keyPath)
		}
		var mk MasterKey
		copy(mk.key[:], decoded)
		return &mk, nil
	}

	var mk MasterKey
	if _, err := rand.Read(mk.key[:]); err != nil {
		return nil, fmt.Errorf("secrets: generating master key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("secrets: creating data dir for master key: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(mk.key[:])
	if err := os.WriteFile(keyPath, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("secrets: persisting generated master key: %w", err)
	}
	log.Warn().Str("path", keyPath).Msg("no master key found, generated a new one; existing encrypted credentials will no longer decrypt")
	return &mk, nil
}

// Encrypt seals plaintext with nacl/secretbox under a random nonce,
// returning base64(nonce || ciphertext).
func (mk *MasterKey) Encrypt(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("secrets: generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &mk.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. On any failure it returns
// ErrDecryptionFailed and an empty string; it never panics.
func (mk *MasterKey) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	if len(raw) < 24 {
		return "", ErrDecryptionFailed
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])

	opened, ok := secretbox.Open(nil, raw[24:], &nonce, &mk.key)
	if !ok {
		return "", ErrDecryptionFailed
	}
	return string(opened), nil
}

// SigningKey derives a stable per-purpose key from the master key via
// HMAC-SHA256, so no second secret needs to be provisioned or stored for
// internal signing (e.g. session cookies, if a web layer is added later).
func (mk *MasterKey) SigningKey(purpose string) []byte {
	mac := hmac.New(sha256.New, mk.key[:])
	mac.Write([]byte(purpose))
	return mac.Sum(nil)
}

// HashPassword bcrypt-hashes the admin password for storage in settings.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("secrets: hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
