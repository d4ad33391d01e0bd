package carrier

import (
	"math"

	"github.com/faanross/simulacra_png/internal/format"
)

// Stats summarises the least-significant-bit plane of a carrier.
type Stats struct {
	Elements   int
	OnesRatio  float64 // share of LSBs set
	LSBEntropy float64 // Shannon entropy of LSB bytes, 0..8 bits
	MeanRed    float64
	MeanGreen  float64
	MeanBlue   float64
	Capacity   int // largest message in bytes
}

// LooksRandom reports whether the LSB plane is close to uniform noise,
// which is what an embedded ciphertext looks like.
func (s Stats) LooksRandom() bool {
	return s.OnesRatio > 0.45 && s.OnesRatio < 0.55 && s.LSBEntropy > 7.5
}

// Analyze packs the LSB plane into bytes and measures its entropy and bias.
func Analyze(c *Carrier) Stats {
	st := Stats{Elements: len(c.Pixels), Capacity: format.MaxMessageSize(len(c.Pixels))}
	if len(c.Pixels) == 0 {
		return st
	}

	var (
		freq     [256]int
		ones     int
		cur      byte
		bitCount int
		packed   int
		sums     [3]int64
	)
	for i, v := range c.Pixels {
		bit := v & 1
		ones += int(bit)
		sums[i%3] += int64(v)

		cur = cur<<1 | bit
		bitCount++
		if bitCount == 8 {
			freq[cur]++
			packed++
			cur, bitCount = 0, 0
		}
	}

	st.OnesRatio = float64(ones) / float64(len(c.Pixels))
	for _, n := range freq {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(packed)
		st.LSBEntropy -= p * math.Log2(p)
	}

	pixels := float64(len(c.Pixels) / 3)
	if pixels > 0 {
		st.MeanRed = float64(sums[0]) / pixels
		st.MeanGreen = float64(sums[1]) / pixels
		st.MeanBlue = float64(sums[2]) / pixels
	}
	return st
}
