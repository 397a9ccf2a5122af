package imagerate

import (
	"context"
	"image"
	"math"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/image/draw"
)

// Thumbnail is a downscaled, self-contained image used for display and dedup.
type Thumbnail struct {
	DataURL     string // data:image/jpeg;base64,...
	Width       int    // logical width, independent of PixelRatio
	Height      int    // logical height, independent of PixelRatio
	Fingerprint string // dHash of the rendered raster, "" if unavailable
}

// ThumbnailSize returns the logical thumbnail size for a w×h source:
// scale = min(target/w, target/h, 1), each side rounded. Never upscales.
func ThumbnailSize(w, h, target int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	s := math.Min(math.Min(float64(target)/float64(w), float64(target)/float64(h)), 1)

	tw := int(math.Round(float64(w) * s))
	th := int(math.Round(float64(h) * s))
	return max(tw, 1), max(th, 1)
}

// EncodeThumbnail decodes raw, scales it into the configured pixel budget and
// re-encodes it as a data URL. The same input, ThumbnailDim and PixelRatio
// always produce the same DataURL.
func (cfg *Config) EncodeThumbnail(ctx context.Context, raw []byte) (Thumbnail, error) {
	cfg.defaults()

	img, err := cfg.Codec.Decode(ctx, raw)
	if err != nil {
		return Thumbnail{}, err
	}

	b := img.Bounds()
	if b.Empty() {
		return Thumbnail{}, goerr.Wrap(ErrDecode, "image has no pixels")
	}

	tw, th := ThumbnailSize(b.Dx(), b.Dy(), cfg.ThumbnailDim)

	// The raster is allocated at device resolution; the logical size above
	// stays density independent.
	rw := max(int(float64(tw)*cfg.PixelRatio), 1)
	rh := max(int(float64(th)*cfg.PixelRatio), 1)

	dst := image.NewRGBA(image.Rect(0, 0, rw, rh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	data, mimeType, err := cfg.Codec.Encode(dst)
	if err != nil {
		return Thumbnail{}, err
	}

	return Thumbnail{
		DataURL:     EncodeDataURL(data, mimeType),
		Width:       tw,
		Height:      th,
		Fingerprint: fingerprint(dst),
	}, nil
}
