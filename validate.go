package imagerate

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ValidateUpload checks the declared content type and size of u:
//   - content type must be image/*
//   - size must be strictly below maxBytes
//
// It never touches the network and never decodes the image.
func ValidateUpload(u Upload, maxBytes int64) error {
	ct := mediaType(u.ContentType)
	if !strings.HasPrefix(ct, "image/") {
		return goerr.Wrap(ErrInvalidType, "rejected upload",
			goerr.V("name", u.Name), goerr.V("content_type", u.ContentType))
	}

	if maxBytes > 0 && u.Size() >= maxBytes {
		return goerr.Wrap(ErrTooLarge, "rejected upload",
			goerr.V("name", u.Name), goerr.V("size", u.Size()), goerr.V("max", maxBytes))
	}

	return nil
}

// mediaType strips MIME parameters and normalizes case:
// "Image/JPEG; charset=utf-8" → "image/jpeg".
func mediaType(ct string) string {
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
