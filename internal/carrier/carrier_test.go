package carrier

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"testing"

	"github.com/faanross/simulacra_png/internal/format"
)

func patterned(w, h int) *Carrier {
	c := New(w, h)
	for i := range c.Pixels {
		c.Pixels[i] = byte(i*13 + i/7)
	}
	return c
}

func TestImageRoundTrip(t *testing.T) {
	c := patterned(17, 9)
	back := FromImage(c.Image())
	if back.Width != 17 || back.Height != 9 {
		t.Fatalf("dimensions = %dx%d", back.Width, back.Height)
	}
	if !bytes.Equal(back.Pixels, c.Pixels) {
		t.Error("FromImage(Image()) changed pixel data")
	}
}

func TestFromImageDropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 201, G: 7, B: 99, A: 10})
	img.SetNRGBA(1, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	c := FromImage(img)
	want := []byte{201, 7, 99, 1, 2, 3}
	if !bytes.Equal(c.Pixels, want) {
		t.Errorf("Pixels = %v, want %v", c.Pixels, want)
	}
}

func TestFromImageConvertsOtherModels(t *testing.T) {
	gray := image.NewGray(image.Rect(5, 5, 7, 6))
	gray.SetGray(5, 5, color.Gray{Y: 77})
	gray.SetGray(6, 5, color.Gray{Y: 200})

	c := FromImage(gray)
	want := []byte{77, 77, 77, 200, 200, 200}
	if !bytes.Equal(c.Pixels, want) {
		t.Errorf("Pixels = %v, want %v", c.Pixels, want)
	}
}

func TestLosslessFormats(t *testing.T) {
	c := patterned(32, 24)
	dir := t.TempDir()

	for _, name := range []string{"out.png", "out.bmp", "out.tiff", "out.tif"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := Save(path, c); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			back, _, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !bytes.Equal(back.Pixels, c.Pixels) {
				t.Errorf("%s did not round-trip losslessly", name)
			}
		})
	}
}

func TestEncodeRejectsLossy(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, patterned(4, 4), "jpeg"); !errors.Is(err, ErrLossyFormat) {
		t.Errorf("Encode(jpeg) error = %v, want ErrLossyFormat", err)
	}
	if err := Encode(&buf, patterned(4, 4), "gif"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Encode(gif) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeJPEGCover(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, patterned(16, 16).Image(), nil); err != nil {
		t.Fatal(err)
	}
	c, kind, err := DecodeBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeBytes() error = %v", err)
	}
	if kind != "jpeg" || len(c.Pixels) != 16*16*3 {
		t.Errorf("DecodeBytes() = %s, %d elements", kind, len(c.Pixels))
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, _, err := DecodeBytes(nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("DecodeBytes(nil) error = %v", err)
	}
	if _, _, err := DecodeBytes([]byte("not an image")); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("DecodeBytes(garbage) error = %v", err)
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h RGB
// pixels, with no image data behind it.
func pngHeader(w, h uint32) []byte {
	chunk := []byte("IHDR")
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 2, 0, 0, 0)

	out := []byte("\x89PNG\r\n\x1a\n")
	out = binary.BigEndian.AppendUint32(out, 13)
	out = append(out, chunk...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(chunk))
}

func TestDecodeSizeLimit(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		maxPixels int
		wantSize  bool
	}{
		{"declared 6000x6000 under default limit", pngHeader(6000, 6000), DefaultMaxPixels, true},
		{"declared 65535x65535", pngHeader(65535, 65535), DefaultMaxPixels, true},
		{"real image over a small limit", pngBytes(t, 64, 64), 64*64 - 1, true},
		{"real image at the limit", pngBytes(t, 64, 64), 64 * 64, false},
		{"limit disabled", pngBytes(t, 64, 64), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, err := DecodeBytesLimit(tt.data, tt.maxPixels)
			var sizeErr *SizeError
			if got := errors.As(err, &sizeErr); got != tt.wantSize {
				t.Fatalf("DecodeBytesLimit() error = %v, want SizeError %v", err, tt.wantSize)
			}
			if tt.wantSize {
				if c != nil {
					t.Error("DecodeBytesLimit() returned a carrier with a SizeError")
				}
				if format.ErrorCode(err) != ErrCodeImageTooLarge {
					t.Errorf("ErrorCode() = %q", format.ErrorCode(err))
				}
				return
			}
			if err != nil || len(c.Pixels) != 64*64*3 {
				t.Errorf("DecodeBytesLimit() = %v", err)
			}
		})
	}

	if _, _, err := DecodeBytes(pngHeader(6000, 6000)); !errors.As(err, new(*SizeError)) {
		t.Errorf("DecodeBytes() error = %v, want SizeError", err)
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, patterned(w, h), FormatPNG); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestAnalyze(t *testing.T) {
	flat := New(64, 64)
	st := Analyze(flat)
	if st.OnesRatio != 0 || st.LSBEntropy != 0 || st.LooksRandom() {
		t.Errorf("zero carrier stats = %+v", st)
	}
	if st.Capacity != format.MaxMessageSize(64*64*3) {
		t.Errorf("Capacity = %d", st.Capacity)
	}

	noisy := New(128, 128)
	if _, err := rand.Read(noisy.Pixels); err != nil {
		t.Fatal(err)
	}
	st = Analyze(noisy)
	if !st.LooksRandom() {
		t.Errorf("random carrier not flagged as random: %+v", st)
	}
}

func TestNoise(t *testing.T) {
	tests := []struct {
		width, msgLen, wantHeight int
	}{
		{512, 0, 1},
		{512, 100, 2},
		{64, 1344, 64},
		{64, 1345, 65},
	}
	for _, tt := range tests {
		c, err := Noise(tt.width, tt.msgLen, rand.Reader)
		if err != nil {
			t.Fatalf("Noise(%d, %d) error = %v", tt.width, tt.msgLen, err)
		}
		if c.Height != tt.wantHeight {
			t.Errorf("Noise(%d, %d) height = %d, want %d", tt.width, tt.msgLen, c.Height, tt.wantHeight)
		}
		if err := format.CheckCapacity(len(c.Pixels), tt.msgLen); err != nil {
			t.Errorf("Noise(%d, %d) cover too small: %v", tt.width, tt.msgLen, err)
		}
	}

	if _, err := Noise(0, 1, rand.Reader); err == nil {
		t.Error("Noise() with zero width should fail")
	}
	if _, err := Noise(8, 1, bytes.NewReader(nil)); err == nil {
		t.Error("Noise() with exhausted source should fail")
	}
}
