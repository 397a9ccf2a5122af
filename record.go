package imagerate

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// ScoreEpsilon is the score difference below which two ratings count as the same.
const ScoreEpsilon = 0.01

// RatingRecord is one completed rating. Immutable once created.
type RatingRecord struct {
	ID          string
	Thumbnail   string // data URL
	Score       float64
	CreatedAt   time.Time
	Fingerprint string
}

// NewRecordID returns a fresh, time-ordered record identifier.
func NewRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// NewRatingRecord builds a record for a freshly scored thumbnail.
func NewRatingRecord(thumb Thumbnail, score float64, now time.Time) RatingRecord {
	return RatingRecord{
		ID:          NewRecordID(),
		Thumbnail:   thumb.DataURL,
		Score:       score,
		CreatedAt:   now,
		Fingerprint: thumb.Fingerprint,
	}
}

// SameRating is the dedup predicate: identical thumbnail bytes and scores
// closer than ScoreEpsilon. CreatedAt and ID never take part.
func (r RatingRecord) SameRating(thumbnail string, score float64) bool {
	return r.Thumbnail == thumbnail && math.Abs(r.Score-score) < ScoreEpsilon
}

// recordJSON is the persisted layout, shared with the web front end's
// "ratingHistory" slot: timestamp is Unix milliseconds.
type recordJSON struct {
	ID          string  `json:"id"`
	ImageURL    string  `json:"imageUrl"`
	Score       float64 `json:"score"`
	Timestamp   int64   `json:"timestamp"`
	Fingerprint string  `json:"fingerprint,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r RatingRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ID:          r.ID,
		ImageURL:    r.Thumbnail,
		Score:       r.Score,
		Timestamp:   r.CreatedAt.UnixMilli(),
		Fingerprint: r.Fingerprint,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RatingRecord) UnmarshalJSON(data []byte) error {
	var v recordJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = RatingRecord{
		ID:          v.ID,
		Thumbnail:   v.ImageURL,
		Score:       v.Score,
		CreatedAt:   time.UnixMilli(v.Timestamp),
		Fingerprint: v.Fingerprint,
	}
	return nil
}
