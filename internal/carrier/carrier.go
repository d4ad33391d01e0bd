// Package carrier converts between raster images and the flat RGB buffers
// the embedding engine works on.
package carrier

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/faanross/simulacra_png/internal/format"
)

// Carrier errors
var (
	ErrEmptyImage        = errors.New("carrier: empty image data")
	ErrInvalidImage      = errors.New("carrier: invalid image data")
	ErrUnsupportedFormat = errors.New("carrier: unsupported output format")
	ErrLossyFormat       = errors.New("carrier: lossy formats destroy hidden data")
)

// DefaultMaxPixels caps the area of a decoded image. Decoding allocates
// roughly 8 bytes per pixel.
const DefaultMaxPixels = 16 << 20

// ErrCodeImageTooLarge is the stable code of SizeError.
const ErrCodeImageTooLarge = "IMAGE_TOO_LARGE"

// SizeError reports an image whose declared dimensions exceed the decode
// limit. It is returned before any pixel data is decoded.
type SizeError struct {
	Width     int
	Height    int
	MaxPixels int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("carrier: image %dx%d exceeds the %d pixel limit", e.Width, e.Height, e.MaxPixels)
}

// Code returns the stable error code.
func (e *SizeError) Code() string { return ErrCodeImageTooLarge }

// Output formats. All are lossless.
const (
	FormatPNG  = "png"
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
)

// Carrier is a decoded image as width*height*3 bytes, row-major RGB.
type Carrier struct {
	Width  int
	Height int
	Pixels []byte
}

// New allocates a zeroed carrier.
func New(width, height int) *Carrier {
	return &Carrier{Width: width, Height: height, Pixels: make([]byte, width*height*format.CHANNELS)}
}

// FromImage flattens img into RGB. Alpha is dropped, straight (not
// premultiplied) colour values are kept.
func FromImage(img image.Image) *Carrier {
	bounds := img.Bounds()

	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)
		bounds = nrgba.Bounds()
	}

	c := New(bounds.Dx(), bounds.Dy())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := nrgba.Pix[nrgba.PixOffset(bounds.Min.X, y):]
		for x := 0; x < c.Width; x++ {
			copy(c.Pixels[i:i+3], row[x*4:x*4+3])
			i += 3
		}
	}
	return c
}

// Image returns an opaque NRGBA image of the carrier.
func (c *Carrier) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, c.Width, c.Height))
	for p := 0; p < c.Width*c.Height; p++ {
		copy(img.Pix[p*4:p*4+3], c.Pixels[p*3:p*3+3])
		img.Pix[p*4+3] = 0xFF
	}
	return img
}

// Decode reads any registered image format (PNG, BMP, TIFF, WebP, JPEG).
// JPEG input is accepted as a cover image only: a JPEG never carries a
// message that survives its compression.
func Decode(r io.Reader) (*Carrier, string, error) {
	img, kind, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return FromImage(img), kind, nil
}

// DecodeBytes is DecodeBytesLimit with DefaultMaxPixels.
func DecodeBytes(data []byte) (*Carrier, string, error) {
	return DecodeBytesLimit(data, DefaultMaxPixels)
}

// DecodeBytesLimit reads the image header first and returns a *SizeError
// when width*height exceeds maxPixels. maxPixels <= 0 disables the check.
func DecodeBytesLimit(data []byte, maxPixels int) (*Carrier, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	if maxPixels > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
			return nil, "", &SizeError{Width: cfg.Width, Height: cfg.Height, MaxPixels: maxPixels}
		}
	}
	return Decode(bytes.NewReader(data))
}

// Encode writes c in a lossless format.
func Encode(w io.Writer, c *Carrier, kind string) error {
	img := c.Image()
	switch strings.ToLower(kind) {
	case FormatPNG, "":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, img)
	case FormatBMP:
		return bmp.Encode(w, img)
	case FormatTIFF, "tif":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case "jpeg", "jpg", "webp":
		return fmt.Errorf("%w: %s", ErrLossyFormat, kind)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, kind)
	}
}

// FormatFromPath picks an output format from a file extension.
func FormatFromPath(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "tif" {
		return FormatTIFF
	}
	return ext
}

// Load decodes an image file under DefaultMaxPixels.
func Load(path string) (*Carrier, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return DecodeBytes(data)
}

// Save encodes c to path, choosing the format from the extension. The file
// is written to a temporary name and renamed into place.
func Save(path string, c *Carrier) error {
	kind := FormatFromPath(path)
	var buf bytes.Buffer
	if err := Encode(&buf, c, kind); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
