package format

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 32-byte record stored in the reserved region ahead of
// the tag. Salt and Nonce are public; CiphertextLength must be readable
// before any ciphertext slot is located.
type Header struct {
	CiphertextLength uint32
	Salt             [SALT_SIZE]byte
	Nonce            [NONCE_SIZE]byte
}

// Bytes serializes the header: [len LE(4)][salt(16)][nonce(12)].
func (h Header) Bytes() []byte {
	out := make([]byte, HEADER_SIZE)
	binary.LittleEndian.PutUint32(out[:LENGTH_SIZE], h.CiphertextLength)
	copy(out[LENGTH_SIZE:], h.Salt[:])
	copy(out[LENGTH_SIZE+SALT_SIZE:], h.Nonce[:])
	return out
}

// ParseHeader reads a header from the first HEADER_SIZE bytes of data.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HEADER_SIZE {
		return h, fmt.Errorf("header too short: %d bytes", len(data))
	}
	h.CiphertextLength = binary.LittleEndian.Uint32(data[:LENGTH_SIZE])
	copy(h.Salt[:], data[LENGTH_SIZE:LENGTH_SIZE+SALT_SIZE])
	copy(h.Nonce[:], data[LENGTH_SIZE+SALT_SIZE:HEADER_SIZE])
	return h, nil
}

// Payload is Header followed by the HMAC tag over Header||Ciphertext.
type Payload struct {
	Header Header
	Tag    [TAG_SIZE]byte
}

// Bytes serializes the 64-byte payload.
func (p Payload) Bytes() [PAYLOAD_SIZE]byte {
	var out [PAYLOAD_SIZE]byte
	copy(out[:HEADER_SIZE], p.Header.Bytes())
	copy(out[HEADER_SIZE:], p.Tag[:])
	return out
}

// ParsePayload splits a 64-byte payload into header and tag.
func ParsePayload(raw [PAYLOAD_SIZE]byte) Payload {
	// ParseHeader cannot fail on a full-size array.
	h, _ := ParseHeader(raw[:HEADER_SIZE])
	p := Payload{Header: h}
	copy(p.Tag[:], raw[HEADER_SIZE:])
	return p
}
