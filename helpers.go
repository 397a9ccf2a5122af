package imagerate

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// EncodeDataURL creates a data: URI from bytes and MIME type.
func EncodeDataURL(data []byte, mimeType string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// DecodeDataURL is the inverse of EncodeDataURL. Only base64 payloads are supported.
func DecodeDataURL(dataURL string) (data []byte, mimeType string, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, "", goerr.New("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", goerr.New("data URL has no payload")
	}
	mimeType, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, "", goerr.New("data URL is not base64 encoded", goerr.V("meta", meta))
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to decode data URL payload")
	}
	return data, mimeType, nil
}
