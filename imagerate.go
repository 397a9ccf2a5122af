package imagerate

import (
	"net/http"
	"time"
)

const (
	// DefaultThumbnailDim is the logical pixel budget for the longest thumbnail side.
	DefaultThumbnailDim = 300

	// DefaultMaxUploadBytes is the upload ceiling. Deployments have used 3-5MB.
	DefaultMaxUploadBytes = 5 * 1024 * 1024

	// DefaultHistoryCapacity is the number of ratings kept in history.
	DefaultHistoryCapacity = 10

	// HistoryKey is the logical name of the persisted history slot.
	HistoryKey = "ratingHistory"

	defaultUserAgent = "go-imagerate/1.0"
)

// Upload is a user-selected file: its declared name, declared content type and bytes.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the upload size in bytes.
func (u Upload) Size() int64 { return int64(len(u.Data)) }

// Config holds all dependencies injected by the consumer.
type Config struct {
	Scorer  Scorer       // required: remote scorer (usually a *Gateway)
	History HistoryStore // optional: nil = ratings are not persisted
	Codec   ImageCodec   // default: StdCodec

	MaxUploadBytes int64   // default: DefaultMaxUploadBytes; uploads at or over it are rejected
	MaxPixels      int64   // decode limit for the default codec (default: DefaultMaxPixels)
	ThumbnailDim   int     // default: DefaultThumbnailDim (300)
	PixelRatio     float64 // device pixel ratio for the thumbnail raster (default: 1)

	// Now overrides the clock used for record timestamps.
	Now func() time.Time

	// Optional callbacks for observers and metrics.
	OnStateChange  func(Snapshot)
	OnSessionDone  func(SessionEvent)
	OnScoreLatency func(time.Duration)
	OnExport       func(ExportEvent)
}

// SessionEvent summarizes a finished session for metrics/logging.
type SessionEvent struct {
	State       State
	Err         error
	Inserted    bool
	HistorySize int
}

// ExportEvent describes one export call.
type ExportEvent struct {
	Kind string // "scored_image" or "saliency_map"
	Err  error
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.ThumbnailDim <= 0 {
		c.ThumbnailDim = DefaultThumbnailDim
	}
	if c.PixelRatio <= 0 {
		c.PixelRatio = 1
	}
	if c.Codec == nil {
		c.Codec = StdCodec{MaxPixels: c.MaxPixels}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// GatewayConfig configures the HTTP gateway to the remote scorer.
type GatewayConfig struct {
	BaseURL    string        // required, e.g. "http://localhost:8000"
	HTTPClient *http.Client  // default: http.DefaultClient
	UserAgent  string        // default: "go-imagerate/1.0"
	Timeout    time.Duration // per-request timeout (default: 60s)
	MaxBytes   int64         // max response body size (default: 32MB)
}
