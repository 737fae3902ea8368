package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"julesq/internal/errs"
)

// AESCipher encrypts stored user tokens with AES-GCM. Ciphertexts are
// base64(nonce || sealed).
type AESCipher struct {
	aead cipher.AEAD
}

// NewAESCipher builds a cipher from a base64-encoded 16/24/32-byte key.
func NewAESCipher(encodedKey string) (*AESCipher, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, errs.Wrap(err, "decode token key")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(err, "build aes cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(err, "build gcm")
	}
	return &AESCipher{aead: aead}, nil
}

func (c *AESCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errs.Wrap(err, "generate nonce")
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AESCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errs.Wrap(err, "decode ciphertext")
	}
	if len(raw) < c.aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}
