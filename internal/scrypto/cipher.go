package scrypto

import (
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// Encrypt XORs plaintext with the ChaCha20 (RFC 7539) keystream for
// key/nonce, block counter starting at 0. Output length equals input length.
//
// A (key, nonce) pair must never encrypt two different messages.
func Encrypt(key, nonce, plaintext []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}
	out := make([]byte, len(plaintext))
	c.XORKeyStream(out, plaintext)
	return out, nil
}

// Decrypt is Encrypt applied to ciphertext.
func Decrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	return Encrypt(key, nonce, ciphertext)
}
