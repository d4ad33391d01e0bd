package format

// ValidateCarrier checks that a flat buffer can be a carrier at all: whole
// RGB pixels and room for the reserved header region.
func ValidateCarrier(totalElements int) error {
	if totalElements%CHANNELS != 0 {
		return &MalformedCarrierError{
			Elements: totalElements,
			Reason:   "length is not a multiple of 3 (RGB channels expected)",
		}
	}
	if totalElements < RESERVED_ELEMENTS {
		return &MalformedCarrierError{
			Elements: totalElements,
			Reason:   "too small to hold the reserved header region",
		}
	}
	return nil
}

// AvailableBits is the number of ciphertext bits a carrier of the given size
// can hold. Negative sizes and undersized carriers yield 0.
func AvailableBits(totalElements int) int {
	if totalElements <= RESERVED_ELEMENTS {
		return 0
	}
	return totalElements - RESERVED_ELEMENTS
}

// MaxMessageSize is the largest plaintext (in bytes) the carrier accepts.
func MaxMessageSize(totalElements int) int {
	return AvailableBits(totalElements) / BITS_PER_BYTE
}

// CheckCapacity fails with a CapacityError when plaintextLength bytes of
// ciphertext cannot be placed outside the reserved region.
func CheckCapacity(totalElements, plaintextLength int) error {
	required := plaintextLength * BITS_PER_BYTE
	available := totalElements - RESERVED_ELEMENTS
	if required > available {
		return &CapacityError{RequiredBits: required, AvailableBits: max(available, 0)}
	}
	return nil
}
