package format

import "fmt"

// EmbedBit modifies the LSB of a channel value to store a bit. All other
// bits are preserved.
func EmbedBit(value uint8, bit uint8) uint8 {
	return (value &^ 1) | (bit & 1)
}

// HeaderSlot returns the carrier index of payload bit i.
func HeaderSlot(i int) int {
	return i*HEADER_SLOT_STRIDE + HEADER_SLOT_OFFSET
}

// WritePayload stores the 512 payload bits, MSB-first per byte, into the
// fixed header slots of the reserved region.
func WritePayload(pixels []byte, payload [PAYLOAD_SIZE]byte) error {
	if len(pixels) < RESERVED_ELEMENTS {
		return &MalformedCarrierError{Elements: len(pixels), Reason: "too small to hold the reserved header region"}
	}
	for i, b := range payload {
		for j := 0; j < BITS_PER_BYTE; j++ {
			idx := HeaderSlot(i*BITS_PER_BYTE + j)
			pixels[idx] = EmbedBit(pixels[idx], (b>>(7-j))&1)
		}
	}
	return nil
}

// ReadPayload reassembles the 64 payload bytes from the header slots.
func ReadPayload(pixels []byte) ([PAYLOAD_SIZE]byte, error) {
	var out [PAYLOAD_SIZE]byte
	if len(pixels) < RESERVED_ELEMENTS {
		return out, &MalformedCarrierError{Elements: len(pixels), Reason: "too small to hold the reserved header region"}
	}
	for i := range out {
		var b byte
		for j := 0; j < BITS_PER_BYTE; j++ {
			b |= (pixels[HeaderSlot(i*BITS_PER_BYTE+j)] & 1) << (7 - j)
		}
		out[i] = b
	}
	return out, nil
}

// WriteBitsAt writes data MSB-first into the LSBs of pixels at the given
// slots; slot k receives bit k. len(slots) must equal 8*len(data).
func WriteBitsAt(pixels []byte, slots []int, data []byte) error {
	if len(slots) != len(data)*BITS_PER_BYTE {
		return fmt.Errorf("slot count %d does not match %d data bits", len(slots), len(data)*BITS_PER_BYTE)
	}
	for k, idx := range slots {
		if idx < 0 || idx >= len(pixels) {
			return fmt.Errorf("slot %d out of range [0, %d)", idx, len(pixels))
		}
		bit := (data[k/BITS_PER_BYTE] >> (7 - k%BITS_PER_BYTE)) & 1
		pixels[idx] = EmbedBit(pixels[idx], bit)
	}
	return nil
}

// ReadBitsAt is the inverse of WriteBitsAt. Trailing slots that do not
// complete a byte are ignored.
func ReadBitsAt(pixels []byte, slots []int) ([]byte, error) {
	out := make([]byte, len(slots)/BITS_PER_BYTE)
	for k := 0; k < len(out)*BITS_PER_BYTE; k++ {
		idx := slots[k]
		if idx < 0 || idx >= len(pixels) {
			return nil, fmt.Errorf("slot %d out of range [0, %d)", idx, len(pixels))
		}
		out[k/BITS_PER_BYTE] |= (pixels[idx] & 1) << (7 - k%BITS_PER_BYTE)
	}
	return out, nil
}
