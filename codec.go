package imagerate

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/m-mizutani/goerr/v2"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultJPEGQuality matches the default quality browsers use for canvas JPEG export.
	DefaultJPEGQuality = 92

	// DefaultMaxPixels caps the decoded raster. A small compressed file can
	// declare dimensions far larger than its byte size suggests.
	DefaultMaxPixels = 50_000_000
)

// ImageCodec decodes raw uploads into rasters and encodes thumbnails back to bytes.
// Decode is the single suspension point of thumbnail derivation.
type ImageCodec interface {
	Decode(ctx context.Context, data []byte) (image.Image, error)
	Encode(img image.Image) (data []byte, mimeType string, err error)
}

// StdCodec is the pure-Go ImageCodec: GIF, JPEG, PNG, BMP, TIFF and WebP in,
// JPEG out. EXIF orientation is applied on decode.
type StdCodec struct {
	Quality   int   // JPEG quality (default: DefaultJPEGQuality)
	MaxPixels int64 // decode limit in width*height (default: DefaultMaxPixels)
}

// Decode parses data and returns the upright raster.
func (c StdCodec) Decode(ctx context.Context, data []byte) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := c.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, goerr.Wrap(ErrDecode, err.Error(), goerr.V("size", len(data)))
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > limit {
		return nil, goerr.Wrap(ErrDecode, "image dimensions exceed pixel limit",
			goerr.V("width", cfg.Width), goerr.V("height", cfg.Height), goerr.V("max_pixels", limit))
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, goerr.Wrap(ErrDecode, err.Error(), goerr.V("size", len(data)))
	}

	return applyOrientation(img, readOrientation(data, format)), nil
}

// Encode writes img as JPEG.
func (c StdCodec) Encode(img image.Image) ([]byte, string, error) {
	q := c.Quality
	if q <= 0 || q > 100 {
		q = DefaultJPEGQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, "", goerr.Wrap(err, "failed to encode jpeg")
	}
	return buf.Bytes(), "image/jpeg", nil
}
