package format

// Carrier layout constants
const (
	CHANNELS      = 3 // RGB channels per pixel
	BITS_PER_BYTE = 8

	// RESERVED_ELEMENTS is the fixed prefix of the carrier that never
	// receives ciphertext. Every third element in it carries one payload bit.
	RESERVED_ELEMENTS = 1536

	// HEADER_SLOT_STRIDE and HEADER_SLOT_OFFSET place payload bit i at
	// element i*3+2 (the blue channel of pixel i).
	HEADER_SLOT_STRIDE = 3
	HEADER_SLOT_OFFSET = 2
)

// Security constants
const (
	SALT_SIZE    = 16
	NONCE_SIZE   = 12 // ChaCha20 (RFC 7539) nonce
	KEY_SIZE     = 32
	TAG_SIZE     = 32 // HMAC-SHA256
	PBKDF2_ITERS = 200000
)

// Payload layout: [CiphertextLength(4, LE)][Salt(16)][Nonce(12)][Tag(32)]
const (
	LENGTH_SIZE  = 4
	HEADER_SIZE  = LENGTH_SIZE + SALT_SIZE + NONCE_SIZE // 32
	PAYLOAD_SIZE = HEADER_SIZE + TAG_SIZE               // 64
	PAYLOAD_BITS = PAYLOAD_SIZE * BITS_PER_BYTE         // 512
)
