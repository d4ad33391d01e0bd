// Package slots places ciphertext bits in the carrier. The order of the
// returned positions is part of the stored format: changing anything in
// this file makes previously embedded images unreadable.
package slots

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// Version tags the generator key so a future algorithm never collides with
// this one.
const Version = "simulacra.slots.v1"

// keystream draws uint64 words from ChaCha20 under a seed-derived key.
type keystream struct {
	cipher *chacha20.Cipher
	buf    [8]byte
}

func newKeystream(seed uint32) (*keystream, error) {
	var seedLE [4]byte
	binary.LittleEndian.PutUint32(seedLE[:], seed)

	h := sha256.New()
	h.Write([]byte(Version))
	h.Write(seedLE[:])
	key := h.Sum(nil)

	nonce := make([]byte, chacha20.NonceSize)
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, fmt.Errorf("slot generator: %w", err)
	}
	return &keystream{cipher: c}, nil
}

func (k *keystream) next() uint64 {
	clear(k.buf[:])
	k.cipher.XORKeyStream(k.buf[:], k.buf[:])
	return binary.LittleEndian.Uint64(k.buf[:])
}

// uniform returns an unbiased value in [0, bound) by rejection sampling.
func (k *keystream) uniform(bound uint64) uint64 {
	threshold := -bound % bound
	for {
		if x := k.next(); x >= threshold {
			return x % bound
		}
	}
}

// SelectSlots returns count distinct positions from [start, end) in a
// fixed order derived from seed. Position i of the result receives
// ciphertext bit i.
func SelectSlots(seed uint32, start, end, count int) ([]int, error) {
	if end < start {
		return nil, fmt.Errorf("invalid slot range [%d, %d)", start, end)
	}
	if count < 0 {
		return nil, fmt.Errorf("negative slot count %d", count)
	}
	n := end - start
	if count > n {
		return nil, fmt.Errorf("cannot select %d slots from %d positions", count, n)
	}

	out := make([]int, count)
	if count == 0 {
		return out, nil
	}

	ks, err := newKeystream(seed)
	if err != nil {
		return nil, err
	}

	// Sparse partial Fisher-Yates: only displaced entries are stored.
	swapped := make(map[int]int, count)
	at := func(x int) int {
		if v, ok := swapped[x]; ok {
			return v
		}
		return x
	}

	for i := 0; i < count; i++ {
		j := i + int(ks.uniform(uint64(n-i)))
		out[i] = start + at(j)
		swapped[j] = at(i)
	}
	return out, nil
}
