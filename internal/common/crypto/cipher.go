// Package crypto seals chat message content at rest.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const formatV1 byte = 1

var (
	ErrInvalidKey        = errors.New("message key must be 32 bytes")
	ErrMalformedCipher   = errors.New("ciphertext is malformed")
	ErrUnsupportedFormat = errors.New("ciphertext format is not supported")
)

// Cipher encrypts and decrypts message content with a single process-wide
// key. It is immutable after construction and safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds an XChaCha20-Poly1305 cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns version || nonce || sealed. associatedData binds the
// ciphertext to its record, so a blob copied onto another record fails to open.
func (c *Cipher) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+c.aead.Overhead())
	out[0] = formatV1
	if _, err := rand.Read(out[1 : 1+nonceSize]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(out, out[1:1+nonceSize], plaintext, associatedData), nil
}

func (c *Cipher) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < 1+nonceSize+c.aead.Overhead() {
		return nil, ErrMalformedCipher
	}
	if ciphertext[0] != formatV1 {
		return nil, ErrUnsupportedFormat
	}
	nonce := ciphertext[1 : 1+nonceSize]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext[1+nonceSize:], associatedData)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return plaintext, nil
}

// GenerateKey returns a fresh random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
