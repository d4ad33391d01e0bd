package decoder

import (
	"fmt"

	"github.com/faanross/simulacra_png/internal/format"
	"github.com/faanross/simulacra_png/internal/scrypto"
)

// DecryptPayload verifies the tag over Header||Ciphertext and only then
// decrypts. Any mismatch is reported as an IntegrityError.
func (ssd *SecureStegoDecoder) DecryptPayload(key []byte, payload format.Payload, ciphertext []byte) ([]byte, error) {
	authenticated := append(payload.Header.Bytes(), ciphertext...)
	if !scrypto.VerifyTag(key, authenticated, payload.Tag[:]) {
		return nil, &format.IntegrityError{}
	}

	plaintext, err := scrypto.Decrypt(key, payload.Header.Nonce[:], ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
