package archive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"backup-orchestrator/internal/backup"
)

// pbkdf2Iterations is the PBKDF2-SHA256 iteration count for password-derived
// keys.
const pbkdf2Iterations = 100000

// Encryptor seals and opens backup artifacts with AES-256-GCM.
type Encryptor struct {
	key []byte
}

// NewEncryptor creates an encryptor from a 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return &Encryptor{key: key}, nil
}

// Encrypt encrypts data using AES-256-GCM. The nonce is prepended to the
// ciphertext.
func (e *Encryptor) Encrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, backup.NewEncryptionError("failed to create AES cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, backup.NewEncryptionError("failed to create GCM cipher", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, backup.NewEncryptionError("failed to generate nonce", err)
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt decrypts data produced by Encrypt.
func (e *Encryptor) Decrypt(encryptedData []byte) ([]byte, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, backup.NewEncryptionError("failed to create AES cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, backup.NewEncryptionError("failed to create GCM cipher", err)
	}

	nonceSize := gcm.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, backup.NewEncryptionError("encrypted data too short", nil)
	}

	nonce, ciphertext := encryptedData[:nonceSize], encryptedData[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, backup.NewEncryptionError("failed to decrypt data", err)
	}

	return plaintext, nil
}

// GenerateKey generates a new 256-bit encryption key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32) // 256 bits
	if _, err := rand.Read(key); err != nil {
		return nil, backup.NewEncryptionError("failed to generate encryption key", err)
	}
	return key, nil
}

// DeriveKey derives a 32-byte key from a password using PBKDF2-SHA256.
func DeriveKey(password string, salt []byte) []byte {
	if len(salt) == 0 {
		salt = make([]byte, 32)
		rand.Read(salt)
	}
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
}

// LoadKeyFromEnv loads an encryption key from an environment variable (hex-encoded)
func LoadKeyFromEnv(envVar string) ([]byte, error) {
	hexKey := os.Getenv(envVar)
	if hexKey == "" {
		return nil, backup.NewEncryptionError(fmt.Sprintf("environment variable %s not set", envVar), nil)
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, backup.NewEncryptionError("failed to decode hex key from environment variable", err)
	}

	if len(key) != 32 {
		return nil, backup.NewEncryptionError("key from environment variable must be 32 bytes for AES-256", nil)
	}

	return key, nil
}

// LoadKeyFromFile loads an encryption key from a file
func LoadKeyFromFile(filepath string) ([]byte, error) {
	key, err := os.ReadFile(filepath)
	if err != nil {
		return nil, backup.NewEncryptionError("failed to read key from file", err)
	}

	if len(key) != 32 {
		return nil, backup.NewEncryptionError("key file must contain 32 bytes for AES-256", nil)
	}

	return key, nil
}

// SaveKeyToFile saves an encryption key to a file with restricted permissions.
func SaveKeyToFile(key []byte, filepath string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	if err := os.WriteFile(filepath, key, 0600); err != nil {
		return backup.NewEncryptionError("failed to save key to file", err)
	}

	return nil
}

// ValidateKey validates that a key is suitable for AES-256
func ValidateKey(key []byte) error {
	if len(key) != 32 {
		return backup.NewEncryptionError("key must be 32 bytes for AES-256", nil)
	}

	// Check for weak keys (all zeros, all ones)
	allZeros := true
	allOnes := true
	for _, b := range key {
		if b != 0 {
			allZeros = false
		}
		if b != 0xFF {
			allOnes = false
		}
	}

	if allZeros {
		return backup.NewEncryptionError("key cannot be all zeros", nil)
	}
	if allOnes {
		return backup.NewEncryptionError("key cannot be all ones", nil)
	}

	return nil
}
