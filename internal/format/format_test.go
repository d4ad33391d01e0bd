package format

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
)

func TestLayoutSizes(t *testing.T) {
	if HEADER_SIZE != 32 {
		t.Errorf("HEADER_SIZE = %d, want 32", HEADER_SIZE)
	}
	if PAYLOAD_SIZE != 64 {
		t.Errorf("PAYLOAD_SIZE = %d, want 64", PAYLOAD_SIZE)
	}
	// Every payload bit must land inside the reserved region.
	if last := HeaderSlot(PAYLOAD_BITS - 1); last != RESERVED_ELEMENTS-1 {
		t.Errorf("last header slot = %d, want %d", last, RESERVED_ELEMENTS-1)
	}
}

func TestHeaderBytes(t *testing.T) {
	h := Header{CiphertextLength: 2}
	for i := range h.Salt {
		h.Salt[i] = byte(i)
	}
	for i := range h.Nonce {
		h.Nonce[i] = byte(16 + i)
	}

	got := hex.EncodeToString(h.Bytes())
	want := "02000000" + "000102030405060708090a0b0c0d0e0f" + "101112131415161718191a1b"
	if got != want {
		t.Fatalf("Header.Bytes() = %s, want %s", got, want)
	}

	parsed, err := ParseHeader(h.Bytes())
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if parsed != h {
		t.Errorf("ParseHeader() = %+v, want %+v", parsed, h)
	}

	if _, err := ParseHeader(make([]byte, HEADER_SIZE-1)); err == nil {
		t.Error("ParseHeader() on short input should fail")
	}
}

func TestPayloadLayout(t *testing.T) {
	p := Payload{Header: Header{CiphertextLength: 0x01020304}}
	p.Tag[0] = 0xAA
	p.Tag[TAG_SIZE-1] = 0xBB

	raw := p.Bytes()
	if raw[0] != 0x04 || raw[3] != 0x01 {
		t.Errorf("length is not little-endian: % x", raw[:4])
	}
	if raw[HEADER_SIZE] != 0xAA || raw[PAYLOAD_SIZE-1] != 0xBB {
		t.Errorf("tag not placed after header")
	}
	if back := ParsePayload(raw); back != p {
		t.Errorf("ParsePayload() = %+v, want %+v", back, p)
	}
}

func TestCheckCapacity(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		msgLen    int
		wantError bool
	}{
		{"empty message in bare reserve", RESERVED_ELEMENTS, 0, false},
		{"exact fit", RESERVED_ELEMENTS + 24, 3, false},
		{"one element short", RESERVED_ELEMENTS + 23, 3, true},
		{"64x64 carrier with short message", 64 * 64 * 3, 2, false},
		{"64x64 carrier at limit", 64 * 64 * 3, (64*64*3 - RESERVED_ELEMENTS) / 8, false},
		{"64x64 carrier over limit", 64 * 64 * 3, (64*64*3-RESERVED_ELEMENTS)/8 + 1, true},
		{"undersized carrier", 300, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCapacity(tt.total, tt.msgLen)
			if (err != nil) != tt.wantError {
				t.Fatalf("CheckCapacity(%d, %d) error = %v, wantError %v", tt.total, tt.msgLen, err, tt.wantError)
			}
			if err != nil {
				capErr, ok := IsCapacityError(err)
				if !ok {
					t.Fatalf("error %T is not a CapacityError", err)
				}
				if capErr.RequiredBits != tt.msgLen*8 {
					t.Errorf("RequiredBits = %d, want %d", capErr.RequiredBits, tt.msgLen*8)
				}
			}
		})
	}
}

func TestValidateCarrier(t *testing.T) {
	tests := []struct {
		total int
		ok    bool
	}{
		{RESERVED_ELEMENTS, true},
		{64 * 64 * 3, true},
		{RESERVED_ELEMENTS - 3, false},
		{RESERVED_ELEMENTS + 1, false},
		{0, false},
	}
	for _, tt := range tests {
		err := ValidateCarrier(tt.total)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateCarrier(%d) error = %v, want ok=%v", tt.total, err, tt.ok)
		}
		if err != nil {
			if _, ok := IsMalformedCarrierError(err); !ok {
				t.Errorf("ValidateCarrier(%d) returned %T, want *MalformedCarrierError", tt.total, err)
			}
		}
	}
}

func TestMaxMessageSize(t *testing.T) {
	if got := MaxMessageSize(64 * 64 * 3); got != 1344 {
		t.Errorf("MaxMessageSize(12288) = %d, want 1344", got)
	}
	if got := MaxMessageSize(100); got != 0 {
		t.Errorf("MaxMessageSize(100) = %d, want 0", got)
	}
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{&CapacityError{}, ErrCodeCapacity},
		{&IntegrityError{}, ErrCodeIntegrity},
		{&MalformedCarrierError{}, ErrCodeMalformedCarrier},
		{fmt.Errorf("wrapped: %w", &IntegrityError{}), ErrCodeIntegrity},
		{errors.New("plain"), ""},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.code {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}

	if _, ok := IsIntegrityError(fmt.Errorf("ctx: %w", &IntegrityError{})); !ok {
		t.Error("IsIntegrityError should see through wrapping")
	}
}

func TestEmbedBit(t *testing.T) {
	for v := 0; v < 256; v++ {
		for bit := uint8(0); bit < 2; bit++ {
			got := EmbedBit(uint8(v), bit)
			if got&1 != bit {
				t.Fatalf("EmbedBit(%d, %d) LSB = %d", v, bit, got&1)
			}
			if got&^1 != uint8(v)&^1 {
				t.Fatalf("EmbedBit(%d, %d) changed upper bits: %08b", v, bit, got)
			}
		}
	}
}

func TestPayloadSlots(t *testing.T) {
	pixels := make([]byte, RESERVED_ELEMENTS)
	for i := range pixels {
		pixels[i] = 0xF0
	}
	original := append([]byte(nil), pixels...)

	var payload [PAYLOAD_SIZE]byte
	for i := range payload {
		payload[i] = byte(i*37 + 11)
	}

	if err := WritePayload(pixels, payload); err != nil {
		t.Fatalf("WritePayload() error = %v", err)
	}

	// First payload byte 0x0B = 00001011, MSB first into elements 2, 5, 8, ...
	wantFirst := []byte{0, 0, 0, 0, 1, 0, 1, 1}
	for j, bit := range wantFirst {
		if pixels[HeaderSlot(j)]&1 != bit {
			t.Errorf("bit %d at element %d = %d, want %d", j, HeaderSlot(j), pixels[HeaderSlot(j)]&1, bit)
		}
	}

	for i := range pixels {
		if i%3 != 2 && pixels[i] != original[i] {
			t.Fatalf("element %d outside header slots changed", i)
		}
	}

	got, err := ReadPayload(pixels)
	if err != nil {
		t.Fatalf("ReadPayload() error = %v", err)
	}
	if got != payload {
		t.Errorf("ReadPayload() mismatch")
	}

	if err := WritePayload(make([]byte, 10), payload); err == nil {
		t.Error("WritePayload() on tiny buffer should fail")
	}
}

func TestBitsAtSlots(t *testing.T) {
	pixels := make([]byte, 64)
	slots := []int{63, 0, 17, 5, 40, 41, 2, 9, 10, 11, 12, 13, 14, 15, 16, 30}
	data := []byte{0xA5, 0x3C}

	if err := WriteBitsAt(pixels, slots, data); err != nil {
		t.Fatalf("WriteBitsAt() error = %v", err)
	}
	// 0xA5 = 10100101: first slot gets the MSB.
	if pixels[63] != 1 || pixels[0] != 0 || pixels[17] != 1 {
		t.Errorf("unexpected MSB-first placement: %d %d %d", pixels[63], pixels[0], pixels[17])
	}

	got, err := ReadBitsAt(pixels, slots)
	if err != nil {
		t.Fatalf("ReadBitsAt() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadBitsAt() = % x, want % x", got, data)
	}

	if err := WriteBitsAt(pixels, slots[:3], data); err == nil {
		t.Error("WriteBitsAt() with mismatched slot count should fail")
	}
	if err := WriteBitsAt(pixels, []int{0, 1, 2, 3, 4, 5, 6, 64}, data[:1]); err == nil {
		t.Error("WriteBitsAt() with out-of-range slot should fail")
	}
}
