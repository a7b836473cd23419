package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// ErrDecrypt is returned for any decryption failure: wrong user, bad
// blob, tampered ciphertext. Callers must treat it as hard failure and
// never fall back to plaintext.
var ErrDecrypt = errors.New("decryption failed")

const blobPrefix = "v1:"

// Vault performs authenticated symmetric encryption of credentials.
// The per-user key is derived from the process master key and the
// user's stored salt, so a leaked database alone cannot decrypt.
type Vault struct {
	masterKey []byte

	mu   sync.Mutex
	keys map[string][]byte // userID -> derived key
}

// New creates a vault around the process master key.
func New(masterKey string) *Vault {
	return &Vault{
		masterKey: []byte(masterKey),
		keys:      make(map[string][]byte),
	}
}

// NewSalt returns a fresh per-user salt for registration.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// key derives (and caches) the AES-256 key for one user. scrypt is
// deliberately slow; the cache keeps per-turn decryption cheap.
func (v *Vault) key(userID string, salt []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if k, ok := v.keys[userID]; ok {
		return k, nil
	}
	k, err := scrypt.Key(v.masterKey, salt, 32768, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	v.keys[userID] = k
	return k, nil
}

// Encrypt seals plaintext for one user. The blob is
// "v1:" + base64(nonce || ciphertext).
func (v *Vault) Encrypt(plain string, userID string, salt []byte) (string, error) {
	key, err := v.key(userID, salt)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to build gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return blobPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt for the same user.
func (v *Vault) Decrypt(blob string, userID string, salt []byte) (string, error) {
	if !strings.HasPrefix(blob, blobPrefix) {
		return "", fmt.Errorf("%w: unknown blob format", ErrDecrypt)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(blob, blobPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	key, err := v.key(userID, salt)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to build gcm: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: blob too short", ErrDecrypt)
	}

	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// Redact masks a stored credential for list responses: first 3 visible
// characters, then stars, then the last 4.
func Redact(id string) string {
	if len(id) <= 8 {
		return "****"
	}
	return id[:3] + "****" + id[len(id)-4:]
}

// IsDecryptError reports whether err came from a failed decryption.
func IsDecryptError(err error) bool { return errors.Is(err, ErrDecrypt) }
