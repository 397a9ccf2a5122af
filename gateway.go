package imagerate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	defaultGatewayTimeout  = 60 * time.Second
	defaultGatewayMaxBytes = 32 * 1024 * 1024 // 32MB
	errorSnippetBytes      = 512

	// Suggested download names for exported blobs.
	ScoredImageFilename = "image_with_score.png"
	SaliencyMapFilename = "saliency_map.png"
)

// Rating is the remote scorer's verdict for one image.
type Rating struct {
	Score       float64
	Suggestions []string // nil when the deployment does not produce suggestions
}

// Blob is an opaque downloadable payload returned by an export call.
type Blob struct {
	Data     []byte
	MIMEType string
	Filename string // suggested download name
}

// Scorer abstracts the remote rate call.
type Scorer interface {
	Rate(ctx context.Context, u Upload) (Rating, error)
}

// Exporter abstracts the remote rendering calls.
type Exporter interface {
	ExportScoredImage(ctx context.Context, u Upload, score float64) (*Blob, error)
	ExportSaliencyMap(ctx context.Context, u Upload) (*Blob, error)
}

// Gateway issues HTTP requests to the remote scoring service.
// Each call is one request/response exchange; nothing is retried.
type Gateway struct {
	cfg  GatewayConfig
	base *url.URL
}

// NewGateway validates cfg and fills defaults.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, goerr.New("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, goerr.New("invalid base URL", goerr.V("base_url", cfg.BaseURL))
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGatewayTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultGatewayMaxBytes
	}

	return &Gateway{cfg: cfg, base: base}, nil
}

// Rate posts the upload to /rate and parses {score, suggestions?}.
func (g *Gateway) Rate(ctx context.Context, u Upload) (Rating, error) {
	body, _, err := g.post(ctx, "/rate", nil, u)
	if err != nil {
		return Rating{}, err
	}

	var resp struct {
		Score       *float64 `json:"score"`
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return Rating{}, goerr.Wrap(errors.Join(ErrRemote, err), "malformed rate response")
	}
	if resp.Score == nil {
		return Rating{}, goerr.Wrap(ErrRemote, "rate response has no score")
	}

	slog.Debug("imagerate: rated", "name", u.Name, "score", *resp.Score, "suggestions", len(resp.Suggestions))
	return Rating{Score: *resp.Score, Suggestions: resp.Suggestions}, nil
}

// ExportScoredImage asks the service to render score onto the image.
func (g *Gateway) ExportScoredImage(ctx context.Context, u Upload, score float64) (*Blob, error) {
	q := url.Values{"score": {strconv.FormatFloat(score, 'f', -1, 64)}}
	body, ct, err := g.post(ctx, "/download", q, u)
	if err != nil {
		return nil, err
	}
	return &Blob{Data: body, MIMEType: ct, Filename: ScoredImageFilename}, nil
}

// ExportSaliencyMap asks the service for an attention-map rendering of the image.
func (g *Gateway) ExportSaliencyMap(ctx context.Context, u Upload) (*Blob, error) {
	body, ct, err := g.post(ctx, "/saliency-map", nil, u)
	if err != nil {
		return nil, err
	}
	return &Blob{Data: body, MIMEType: ct, Filename: SaliencyMapFilename}, nil
}

// post sends u as multipart field "file" and returns the response body and its media type.
func (g *Gateway) post(ctx context.Context, path string, query url.Values, u Upload) ([]byte, string, error) {
	endpoint := g.base.JoinPath(path)
	endpoint.RawQuery = query.Encode()

	form, contentType, err := multipartFile(u)
	if err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), form)
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to build request", goerr.V("url", endpoint.String()))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", g.cfg.UserAgent)

	resp, err := g.cfg.HTTPClient.Do(req) //nolint:gosec // G704: base URL is operator-configured
	if err != nil {
		return nil, "", goerr.Wrap(errors.Join(ErrRemote, err), "request failed", goerr.V("url", endpoint.String()))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorSnippetBytes))
		return nil, "", goerr.Wrap(ErrRemote, "unexpected status",
			goerr.V("url", endpoint.String()),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", strings.TrimSpace(string(snippet))))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, g.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", goerr.Wrap(errors.Join(ErrRemote, err), "failed to read response", goerr.V("url", endpoint.String()))
	}
	if int64(len(data)) > g.cfg.MaxBytes {
		return nil, "", goerr.Wrap(ErrRemote, "response too large",
			goerr.V("url", endpoint.String()), goerr.V("max", g.cfg.MaxBytes))
	}

	return data, mediaType(resp.Header.Get("Content-Type")), nil
}

func multipartFile(u Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	name := u.Name
	if name == "" {
		name = "upload"
	}
	ct := u.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", goerr.Wrap(err, "failed to create multipart part")
	}
	if _, err := part.Write(u.Data); err != nil {
		return nil, "", goerr.Wrap(err, "failed to write multipart body")
	}
	if err := mw.Close(); err != nil {
		return nil, "", goerr.Wrap(err, "failed to close multipart writer")
	}

	return &buf, mw.FormDataContentType(), nil
}
