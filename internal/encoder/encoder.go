package encoder

import (
	"crypto/rand"
	"io"

	"go.uber.org/zap"

	"github.com/faanross/simulacra_png/internal/format"
	"github.com/faanross/simulacra_png/internal/scrypto"
	"github.com/faanross/simulacra_png/internal/slots"
)

// SecureStegoEncoder hides an encrypted message in an existing carrier
type SecureStegoEncoder struct {
	password []byte
	message  []byte
	random   io.Reader
	logger   *zap.Logger
}

// Option configures a SecureStegoEncoder
type Option func(*SecureStegoEncoder)

// WithRandom replaces crypto/rand as the source of salt and nonce. Only
// tests should need this; reusing a salt and nonce pair breaks secrecy.
func WithRandom(r io.Reader) Option {
	return func(sse *SecureStegoEncoder) { sse.random = r }
}

// WithLogger attaches a logger for debug output
func WithLogger(l *zap.Logger) Option {
	return func(sse *SecureStegoEncoder) {
		if l != nil {
			sse.logger = l
		}
	}
}

// NewSecureStegoEncoder creates an encoder for one message and passphrase
func NewSecureStegoEncoder(message []byte, password []byte, opts ...Option) *SecureStegoEncoder {
	sse := &SecureStegoEncoder{
		password: password,
		message:  message,
		random:   rand.Reader,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(sse)
	}
	return sse
}

// Embed writes the payload and ciphertext into pixels in place and returns
// the same buffer. Carrier and capacity are checked before anything is
// derived or written, so a failed call leaves pixels untouched.
func (sse *SecureStegoEncoder) Embed(pixels []byte) ([]byte, error) {
	total := len(pixels)
	if err := format.ValidateCarrier(total); err != nil {
		return nil, err
	}
	if err := format.CheckCapacity(total, len(sse.message)); err != nil {
		return nil, err
	}
	if uint64(len(sse.message)) > uint64(^uint32(0)) {
		return nil, &format.CapacityError{RequiredBits: len(sse.message) * format.BITS_PER_BYTE, AvailableBits: format.AvailableBits(total)}
	}

	secMsg, err := sse.EncryptMessage()
	if err != nil {
		return nil, err
	}
	defer scrypto.ZeroBytes(secMsg.Key)

	seed, err := slots.DeriveSeed(secMsg.Key)
	if err != nil {
		return nil, err
	}
	positions, err := slots.SelectSlots(seed, format.RESERVED_ELEMENTS, total, len(secMsg.Ciphertext)*format.BITS_PER_BYTE)
	if err != nil {
		return nil, err
	}

	if err := format.WritePayload(pixels, secMsg.Payload().Bytes()); err != nil {
		return nil, err
	}
	if err := format.WriteBitsAt(pixels, positions, secMsg.Ciphertext); err != nil {
		return nil, err
	}

	sse.logger.Debug("message embedded",
		zap.Int("carrier_elements", total),
		zap.Int("ciphertext_bytes", len(secMsg.Ciphertext)),
		zap.Int("slots", len(positions)),
		zap.Int("capacity_bytes", format.MaxMessageSize(total)),
	)
	return pixels, nil
}

// EmbedMessage hides message in pixels using fresh random salt and nonce
func EmbedMessage(pixels, message, passphrase []byte) ([]byte, error) {
	return NewSecureStegoEncoder(message, passphrase).Embed(pixels)
}
