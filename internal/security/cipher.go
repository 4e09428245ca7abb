// File: internal/security/cipher.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the length of the per-record random salt. Stored blobs are split on
	// this boundary without a length prefix, so it must never change.
	SaltSize = 64
	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length.
	TagSize = 16
	// KeySize selects AES-256.
	KeySize = 32
	// DefaultIterations is the PBKDF2-HMAC-SHA256 work factor for new records.
	DefaultIterations = 310000

	// MinBlobSize is the shortest ciphertext blob that can hold a non-empty payload.
	MinBlobSize = NonceSize + 1 + TagSize
)

var (
	// ErrInvalidPassphrase is returned when the authentication tag does not verify.
	// A wrong passphrase and tampered ciphertext are indistinguishable by construction.
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	// ErrCorruptedData is returned when the blob is structurally too short to decrypt.
	ErrCorruptedData = errors.New("corrupted data")
)

// Cipher is a stateless passphrase-based AEAD primitive. The zero value is not usable;
// construct it with New or NewWithIterations.
type Cipher struct {
	iterations int
	random     io.Reader
}

// New returns a Cipher using the default work factor.
func New() *Cipher {
	return &Cipher{iterations: DefaultIterations, random: rand.Reader}
}

// NewWithIterations returns a Cipher with a custom PBKDF2 work factor, which may only
// be raised above the default.
func NewWithIterations(iterations int) (*Cipher, error) {
	if iterations < DefaultIterations {
		return nil, fmt.Errorf("pbkdf2 iterations must be at least %d, got %d", DefaultIterations, iterations)
	}
	return &Cipher{iterations: iterations, random: rand.Reader}, nil
}

// Iterations reports the configured work factor.
func (c *Cipher) Iterations() int {
	return c.iterations
}

// DeriveKey stretches the passphrase and salt into a 32-byte key. It is deterministic.
func (c *Cipher) DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, c.iterations, KeySize, sha256.New)
}

// Encrypt seals plaintext under a key derived from passphrase and a fresh salt.
// The returned blob is nonce || ciphertext || tag. It panics on an empty passphrase,
// which is a programming error on the caller's side.
func (c *Cipher) Encrypt(plaintext []byte, passphrase string) (blob, salt []byte, err error) {
	mustPassphrase(passphrase)

	salt = make([]byte, SaltSize)
	if _, err := io.ReadFull(c.random, salt); err != nil {
		return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := newGCM(c.DeriveKey(passphrase, salt))
	if err != nil {
		return nil, nil, err
	}

	// Seal appends ciphertext and tag to the nonce slice.
	return gcm.Seal(nonce, nonce, plaintext, nil), salt, nil
}

// Decrypt opens a blob produced by Encrypt. It returns ErrCorruptedData for blobs that
// are too short and ErrInvalidPassphrase when authentication fails.
func (c *Cipher) Decrypt(blob, salt []byte, passphrase string) ([]byte, error) {
	mustPassphrase(passphrase)

	if len(blob) < MinBlobSize {
		return nil, fmt.Errorf("%w: blob is %d bytes, need at least %d", ErrCorruptedData, len(blob), MinBlobSize)
	}

	gcm, err := newGCM(c.DeriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	// Standard GCM: 12-byte nonce, 16-byte tag.
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func mustPassphrase(passphrase string) {
	if passphrase == "" {
		panic("security: passphrase must not be empty")
	}
}
