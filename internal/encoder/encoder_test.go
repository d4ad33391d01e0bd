package encoder

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/faanross/simulacra_png/internal/format"
)

// fixedRandom yields salt 00..0f followed by nonce 10..1b.
func fixedRandom() *bytes.Reader {
	b := make([]byte, format.SALT_SIZE+format.NONCE_SIZE)
	for i := range b {
		b[i] = byte(i)
	}
	return bytes.NewReader(b)
}

func TestEmbedGolden(t *testing.T) {
	pixels := make([]byte, 64*64*3)

	enc := NewSecureStegoEncoder([]byte("hi"), []byte("test"), WithRandom(fixedRandom()))
	out, err := enc.Embed(pixels)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if &out[0] != &pixels[0] {
		t.Error("Embed() should mutate and return the caller's buffer")
	}

	sum := sha256.Sum256(out)
	if got := hex.EncodeToString(sum[:]); got != "43fa1c5f17752de782447b3f59b88fb0ed63060c280332c67e85dd75e5a818c9" {
		t.Errorf("stego buffer sha256 = %s", got)
	}

	payload, err := format.ReadPayload(out)
	if err != nil {
		t.Fatalf("ReadPayload() error = %v", err)
	}
	want := "02000000000102030405060708090a0b0c0d0e0f101112131415161718191a1b" +
		"f81c06ebf23a89c6198c2873445b6f7f42dd28571152cfa4b762f40a4acd237a"
	if got := hex.EncodeToString(payload[:]); got != want {
		t.Errorf("payload = %s, want %s", got, want)
	}

	// Ciphertext 0f c7 lands MSB-first on the key's slot sequence.
	slotsForKey := []int{7002, 4411, 10454, 2470, 6657, 11909, 9917, 8270, 8970, 8023, 12262, 6555, 4672, 4103, 6986, 12173}
	ct, err := format.ReadBitsAt(out, slotsForKey)
	if err != nil {
		t.Fatalf("ReadBitsAt() error = %v", err)
	}
	if hex.EncodeToString(ct) != "0fc7" {
		t.Errorf("ciphertext at slots = %x, want 0fc7", ct)
	}
}

func TestEmbedDeterministic(t *testing.T) {
	a := make([]byte, 64*64*3)
	b := make([]byte, 64*64*3)
	msg := []byte("same inputs, same output")

	if _, err := NewSecureStegoEncoder(msg, []byte("pw"), WithRandom(fixedRandom())).Embed(a); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSecureStegoEncoder(msg, []byte("pw"), WithRandom(fixedRandom())).Embed(b); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical inputs produced different carriers")
	}
}

func TestEmbedPreservesUpperBits(t *testing.T) {
	pixels := make([]byte, 48*48*3)
	for i := range pixels {
		pixels[i] = byte(i*7 + 3)
	}
	original := append([]byte(nil), pixels...)

	if _, err := EmbedMessage(pixels, bytes.Repeat([]byte{0x5A}, 100), []byte("Str0ng!Pass")); err != nil {
		t.Fatalf("EmbedMessage() error = %v", err)
	}

	changed := 0
	for i := range pixels {
		if pixels[i]&^1 != original[i]&^1 {
			t.Fatalf("element %d: upper bits changed %08b -> %08b", i, original[i], pixels[i])
		}
		if pixels[i] != original[i] {
			changed++
		}
	}
	maxTouched := format.PAYLOAD_BITS + 100*format.BITS_PER_BYTE
	if changed > maxTouched {
		t.Errorf("%d elements changed, at most %d are touched", changed, maxTouched)
	}
}

func TestEmbedCapacityBoundary(t *testing.T) {
	t.Run("exact fit", func(t *testing.T) {
		pixels := make([]byte, format.RESERVED_ELEMENTS+24)
		if _, err := EmbedMessage(pixels, []byte("abc"), []byte("pw")); err != nil {
			t.Fatalf("EmbedMessage() error = %v", err)
		}
	})

	t.Run("one byte over", func(t *testing.T) {
		pixels := make([]byte, format.RESERVED_ELEMENTS+24)
		_, err := EmbedMessage(pixels, []byte("abcd"), []byte("pw"))
		capErr, ok := format.IsCapacityError(err)
		if !ok {
			t.Fatalf("EmbedMessage() error = %v, want CapacityError", err)
		}
		if capErr.RequiredBits != 32 || capErr.AvailableBits != 24 {
			t.Errorf("CapacityError = %+v", capErr)
		}
		if !bytes.Equal(pixels, make([]byte, len(pixels))) {
			t.Error("carrier was modified before the capacity failure")
		}
	})

	t.Run("empty message", func(t *testing.T) {
		pixels := make([]byte, format.RESERVED_ELEMENTS)
		if _, err := EmbedMessage(pixels, nil, []byte("pw")); err != nil {
			t.Fatalf("EmbedMessage() with empty message error = %v", err)
		}
	})
}

func TestEmbedMalformedCarrier(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"not RGB", format.RESERVED_ELEMENTS + 1},
		{"smaller than reserve", format.RESERVED_ELEMENTS - 3},
		{"empty", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pixels := make([]byte, tt.size)
			_, err := EmbedMessage(pixels, nil, []byte("pw"))
			if _, ok := format.IsMalformedCarrierError(err); !ok {
				t.Fatalf("EmbedMessage() error = %v, want MalformedCarrierError", err)
			}
		})
	}
}

func TestEmbedRandomFailure(t *testing.T) {
	pixels := make([]byte, 64*64*3)
	enc := NewSecureStegoEncoder([]byte("x"), []byte("pw"), WithRandom(bytes.NewReader(make([]byte, 5))))
	if _, err := enc.Embed(pixels); err == nil {
		t.Fatal("Embed() with exhausted random source should fail")
	}
	if !bytes.Equal(pixels, make([]byte, len(pixels))) {
		t.Error("carrier was modified after a random source failure")
	}
}
