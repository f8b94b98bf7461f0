package imaging

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedFormat is returned for uploads that are not JPEG, PNG or WebP.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooLarge is returned when an upload exceeds the configured byte or
	// pixel limit.
	ErrTooLarge = errors.New("image exceeds upload limit")
)

const (
	// DefaultMaxWidth matches the width photos were reduced to before storage.
	DefaultMaxWidth = 600
	// DefaultQuality is the JPEG quality used when Options leaves it unset.
	DefaultQuality = 85
	// DefaultMaxPixels caps the decoded area when Options leaves it unset.
	DefaultMaxPixels = 50_000_000
)

var acceptedFormats = map[string]struct{}{
	"jpeg": {},
	"png":  {},
	"webp": {},
}

// Options controls Prepare.
type Options struct {
	MaxBytes  int64
	MaxPixels int64
	MaxWidth  int
	Quality   int
}

// Photo is a decoded, reduced and re-encoded upload.
type Photo struct {
	Format string
	Width  int
	Height int
	JPEG   []byte
	Base64 string
}

// DataURL returns the photo as an inline data URL for the vision request.
func (p Photo) DataURL() string {
	return DataURL(p.Base64)
}

// Decode reads an image from r. When maxBytes is positive, payloads larger
// than maxBytes are rejected with ErrTooLarge. Images whose header declares
// more than maxPixels pixels (DefaultMaxPixels when zero) are rejected with
// ErrTooLarge before any pixel data is allocated.
func Decode(r io.Reader, maxBytes, maxPixels int64) (image.Image, string, error) {
	if r == nil {
		return nil, "", fmt.Errorf("decode image: %w", ErrUnsupportedFormat)
	}
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", ErrTooLarge
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("decode image: empty upload: %w", ErrUnsupportedFormat)
	}

	header, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", fmt.Errorf("decode image header: %w", err)
	}
	if _, ok := acceptedFormats[format]; !ok {
		return nil, format, ErrUnsupportedFormat
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if int64(header.Width)*int64(header.Height) > maxPixels {
		return nil, format, fmt.Errorf("%s image is %dx%d: %w", format, header.Width, header.Height, ErrTooLarge)
	}

	img, _, err := image.Decode(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, format, fmt.Errorf("decode %s image: %w", format, err)
	}
	return img, format, nil
}

// Downscale resizes img proportionally so it is at most maxWidth pixels wide.
// Images already within the limit are returned unchanged.
func Downscale(img image.Image, maxWidth int) image.Image {
	if img == nil || maxWidth <= 0 {
		return img
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxWidth {
		return img
	}
	ratio := float64(maxWidth) / float64(width)
	newWidth := int(float64(width) * ratio)
	newHeight := int(float64(height) * ratio)
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// EncodeJPEG encodes img as JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Base64 encodes data with standard padding.
func Base64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DataURL wraps a base64 JPEG payload in a data URL.
func DataURL(b64 string) string {
	return "data:image/jpeg;base64," + b64
}

// Prepare decodes, downsizes and re-encodes an upload.
func Prepare(r io.Reader, opts Options) (Photo, error) {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = DefaultMaxWidth
	}
	img, format, err := Decode(r, opts.MaxBytes, opts.MaxPixels)
	if err != nil {
		return Photo{}, err
	}
	img = Downscale(img, opts.MaxWidth)
	data, err := EncodeJPEG(img, opts.Quality)
	if err != nil {
		return Photo{}, err
	}
	bounds := img.Bounds()
	return Photo{
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		JPEG:   data,
		Base64: Base64(data),
	}, nil
}
