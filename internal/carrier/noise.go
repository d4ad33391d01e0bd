package carrier

import (
	"fmt"
	"io"

	"github.com/faanross/simulacra_png/internal/format"
)

// DefaultWidth is the width of generated noise covers.
const DefaultWidth = 512

// Noise generates a cover of the given width filled from r, tall enough to
// carry a message of messageLen bytes.
func Noise(width, messageLen int, r io.Reader) (*Carrier, error) {
	if width <= 0 {
		return nil, fmt.Errorf("invalid width %d", width)
	}
	need := format.RESERVED_ELEMENTS + messageLen*format.BITS_PER_BYTE
	rowElements := width * format.CHANNELS
	height := max((need+rowElements-1)/rowElements, 1)

	c := New(width, height)
	if _, err := io.ReadFull(r, c.Pixels); err != nil {
		return nil, fmt.Errorf("noise source: %w", err)
	}
	return c, nil
}
