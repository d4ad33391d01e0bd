package slots

import (
	"encoding/binary"
	"fmt"
)

// DeriveSeed takes the first four bytes of a derived key as a little-endian
// uint32.
func DeriveSeed(key []byte) (uint32, error) {
	if len(key) < 4 {
		return 0, fmt.Errorf("key too short for seed: %d bytes", len(key))
	}
	return binary.LittleEndian.Uint32(key[:4]), nil
}
