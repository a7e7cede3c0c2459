package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	keySize   = 32
	nonceSize = 12
)

// Vault encrypts short secret strings with AES-256-GCM so they are safe at
// rest. The stored envelope is "nonce:ciphertext:tag" with each field hex
// encoded; a fresh random nonce is drawn per call.
type Vault struct {
	key    []byte
	logger *slog.Logger
}

// NewVault derives the vault key from the configured secret. A secret of
// exactly 32 bytes is used verbatim; anything else is hashed with SHA-256,
// which is logged as a warning so operators notice the fallback.
func NewVault(secret string, logger *slog.Logger) (*Vault, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption key is required")
	}

	key := []byte(secret)
	if len(key) != keySize {
		logger.Warn("encryption key is not 32 bytes, deriving via SHA-256",
			"key_length", len(key))
		sum := sha256.Sum256(key)
		key = sum[:]
	}

	return &Vault{key: key, logger: logger}, nil
}

// Encrypt seals the plaintext into an envelope string. An empty plaintext
// yields an empty envelope, mirroring nullable token columns.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-gcm.Overhead()]
	tag := sealed[len(sealed)-gcm.Overhead():]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ciphertext) + ":" + hex.EncodeToString(tag), nil
}

// Decrypt opens an envelope produced by Encrypt. A malformed or tampered
// envelope returns the empty string: callers treat that as "token
// unavailable" rather than an error on their happy path.
func (v *Vault) Decrypt(envelope string) string {
	if envelope == "" {
		return ""
	}

	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		v.logger.Error("malformed ciphertext envelope", "parts", len(parts))
		return ""
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		v.logger.Error("invalid envelope nonce", "error", err)
		return ""
	}

	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		v.logger.Error("invalid envelope ciphertext", "error", err)
		return ""
	}

	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		v.logger.Error("invalid envelope auth tag", "error", err)
		return ""
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		v.logger.Error("init cipher for decrypt", "error", err)
		return ""
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		v.logger.Error("init gcm for decrypt", "error", err)
		return ""
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		v.logger.Error("envelope authentication failed", "error", err)
		return ""
	}

	return string(plaintext)
}
