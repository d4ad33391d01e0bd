package decoder

import (
	"go.uber.org/zap"

	"github.com/faanross/simulacra_png/internal/format"
	"github.com/faanross/simulacra_png/internal/scrypto"
	"github.com/faanross/simulacra_png/internal/slots"
)

// SecureStegoDecoder recovers and authenticates a hidden message
type SecureStegoDecoder struct {
	password []byte
	logger   *zap.Logger
}

// Option configures a SecureStegoDecoder
type Option func(*SecureStegoDecoder)

// WithLogger attaches a logger for debug output
func WithLogger(l *zap.Logger) Option {
	return func(ssd *SecureStegoDecoder) {
		if l != nil {
			ssd.logger = l
		}
	}
}

// NewSecureStegoDecoder creates a decoder instance
func NewSecureStegoDecoder(password []byte, opts ...Option) *SecureStegoDecoder {
	ssd := &SecureStegoDecoder{password: password, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ssd)
	}
	return ssd
}

// ExtractedMessage contains the decrypted message and metadata
type ExtractedMessage struct {
	Message       []byte
	Header        format.Header
	SlotsRead     int
	Authenticated bool
}

// Extract reads the payload from the reserved region, regenerates the slot
// sequence and returns the plaintext only if the tag verifies. The carrier
// is never modified.
func (ssd *SecureStegoDecoder) Extract(pixels []byte) (*ExtractedMessage, error) {
	total := len(pixels)
	if err := format.ValidateCarrier(total); err != nil {
		return nil, err
	}

	raw, err := format.ReadPayload(pixels)
	if err != nil {
		return nil, err
	}
	payload := format.ParsePayload(raw)
	header := payload.Header

	// A length the carrier cannot hold is indistinguishable from tampering.
	if uint64(header.CiphertextLength)*format.BITS_PER_BYTE > uint64(format.AvailableBits(total)) {
		ssd.logger.Debug("stored length exceeds capacity",
			zap.Uint32("ciphertext_bytes", header.CiphertextLength),
			zap.Int("carrier_elements", total),
		)
		return nil, &format.IntegrityError{}
	}

	key := scrypto.DeriveKey(ssd.password, header.Salt[:])
	defer scrypto.ZeroBytes(key)

	seed, err := slots.DeriveSeed(key)
	if err != nil {
		return nil, err
	}
	count := int(header.CiphertextLength) * format.BITS_PER_BYTE
	positions, err := slots.SelectSlots(seed, format.RESERVED_ELEMENTS, total, count)
	if err != nil {
		return nil, err
	}

	ciphertext, err := format.ReadBitsAt(pixels, positions)
	if err != nil {
		return nil, err
	}

	plaintext, err := ssd.DecryptPayload(key, payload, ciphertext)
	if err != nil {
		return nil, err
	}

	ssd.logger.Debug("message extracted",
		zap.Int("carrier_elements", total),
		zap.Int("ciphertext_bytes", len(ciphertext)),
		zap.Int("slots", len(positions)),
	)
	return &ExtractedMessage{
		Message:       plaintext,
		Header:        header,
		SlotsRead:     len(positions),
		Authenticated: true,
	}, nil
}

// ExtractMessage returns the message hidden in pixels under passphrase
func ExtractMessage(pixels, passphrase []byte) ([]byte, error) {
	result, err := NewSecureStegoDecoder(passphrase).Extract(pixels)
	if err != nil {
		return nil, err
	}
	return result.Message, nil
}
