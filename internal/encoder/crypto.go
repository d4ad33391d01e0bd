package encoder

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/faanross/simulacra_png/internal/format"
	"github.com/faanross/simulacra_png/internal/scrypto"
)

// SecureMessage is everything an embed writes, plus the key needed to
// place the ciphertext. Key must be zeroed by the caller.
type SecureMessage struct {
	Header     format.Header
	Ciphertext []byte
	Tag        [format.TAG_SIZE]byte
	Key        []byte
}

// Payload returns the fixed-position header and tag block
func (m *SecureMessage) Payload() format.Payload {
	return format.Payload{Header: m.Header, Tag: m.Tag}
}

// EncryptMessage draws salt and nonce, derives the key, encrypts with
// ChaCha20 and tags Header||Ciphertext with HMAC-SHA256.
func (sse *SecureStegoEncoder) EncryptMessage() (*SecureMessage, error) {
	var h format.Header
	if _, err := io.ReadFull(sse.random, h.Salt[:]); err != nil {
		return nil, fmt.Errorf("salt generation failed: %w", err)
	}
	if _, err := io.ReadFull(sse.random, h.Nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	key := scrypto.DeriveKey(sse.password, h.Salt[:])

	ciphertext, err := scrypto.Encrypt(key, h.Nonce[:], sse.message)
	if err != nil {
		scrypto.ZeroBytes(key)
		return nil, fmt.Errorf("encryption failed: %w", err)
	}
	h.CiphertextLength = uint32(len(ciphertext))

	msg := &SecureMessage{Header: h, Ciphertext: ciphertext, Key: key}
	copy(msg.Tag[:], scrypto.ComputeTag(key, append(h.Bytes(), ciphertext...)))

	sse.logger.Debug("message encrypted",
		zap.Int("plaintext_bytes", len(sse.message)),
		zap.Int("kdf_iterations", format.PBKDF2_ITERS),
	)
	return msg, nil
}
