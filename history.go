package imagerate

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// HistoryStore is the persisted rating history as seen by the Rater.
type HistoryStore interface {
	// Load returns the stored records, newest first. A missing or unreadable
	// slot yields an empty sequence.
	Load(ctx context.Context) ([]RatingRecord, error)
	// Append prepends rec, evicts beyond capacity and returns the resulting sequence.
	Append(ctx context.Context, rec RatingRecord) ([]RatingRecord, error)
}

// History is a capped, newest-first, deduplicated list of ratings kept in a
// single BlobStore slot as a JSON array.
//
// Writers sharing one *History are serialized. Across processes the write is
// atomic only when the store implements Updater; otherwise the last writer wins.
type History struct {
	store    BlobStore
	key      string
	capacity int

	mu sync.Mutex
}

// HistoryOption configures a History.
type HistoryOption func(*History)

// WithHistoryKey overrides the slot name (default: HistoryKey).
func WithHistoryKey(key string) HistoryOption {
	return func(h *History) { h.key = key }
}

// WithCapacity overrides the number of records kept (default: DefaultHistoryCapacity).
func WithCapacity(n int) HistoryOption {
	return func(h *History) {
		if n > 0 {
			h.capacity = n
		}
	}
}

// NewHistory returns a History persisted in store.
func NewHistory(store BlobStore, opts ...HistoryOption) *History {
	h := &History{
		store:    store,
		key:      HistoryKey,
		capacity: DefaultHistoryCapacity,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Capacity returns the maximum number of records kept.
func (h *History) Capacity() int { return h.capacity }

// Load reads the slot. Corrupt data is logged and treated as empty; only
// backend read failures are returned.
func (h *History) Load(ctx context.Context) ([]RatingRecord, error) {
	data, found, err := h.store.Get(ctx, h.key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read history", goerr.V("key", h.key))
	}
	return h.decode(data, found), nil
}

// Append prepends rec and truncates to capacity. If an equivalent rating
// (see RatingRecord.SameRating) is already stored, nothing is written and the
// current sequence is returned.
func (h *History) Append(ctx context.Context, rec RatingRecord) ([]RatingRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var result []RatingRecord
	apply := func(old []byte, found bool) ([]byte, error) {
		recs := h.decode(old, found)
		if containsRating(recs, rec.Thumbnail, rec.Score) {
			slog.Debug("imagerate: duplicate rating, history unchanged", "score", rec.Score)
			result = recs
			return nil, nil
		}

		next := make([]RatingRecord, 0, min(len(recs)+1, h.capacity))
		next = append(next, rec)
		next = append(next, recs...)
		if len(next) > h.capacity {
			next = next[:h.capacity]
		}

		data, err := json.Marshal(next)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to encode history")
		}
		result = next
		return data, nil
	}

	if u, ok := h.store.(Updater); ok {
		if err := u.Update(ctx, h.key, apply); err != nil {
			return nil, goerr.Wrap(err, "failed to update history", goerr.V("key", h.key))
		}
		return result, nil
	}

	old, found, err := h.store.Get(ctx, h.key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read history", goerr.V("key", h.key))
	}
	data, err := apply(old, found)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := h.store.Set(ctx, h.key, data); err != nil {
			return nil, goerr.Wrap(err, "failed to write history", goerr.V("key", h.key))
		}
	}
	return result, nil
}

// Contains reports whether an equivalent rating is already stored.
func (h *History) Contains(ctx context.Context, thumbnail string, score float64) (bool, error) {
	recs, err := h.Load(ctx)
	if err != nil {
		return false, err
	}
	return containsRating(recs, thumbnail, score), nil
}

// Similar returns stored records whose fingerprint is within maxDistance of fp,
// newest first. Records without a fingerprint are skipped.
func (h *History) Similar(ctx context.Context, fp string, maxDistance int) ([]RatingRecord, error) {
	recs, err := h.Load(ctx)
	if err != nil {
		return nil, err
	}

	var out []RatingRecord
	for _, r := range recs {
		if d, ok := FingerprintDistance(fp, r.Fingerprint); ok && d <= maxDistance {
			out = append(out, r)
		}
	}
	return out, nil
}

func (h *History) decode(data []byte, found bool) []RatingRecord {
	if !found || len(data) == 0 {
		return []RatingRecord{}
	}

	var recs []RatingRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		slog.Warn("imagerate: history slot unreadable, treating as empty",
			"key", h.key, "error", goerr.Wrap(ErrStorageCorrupt, err.Error()))
		return []RatingRecord{}
	}
	if recs == nil {
		return []RatingRecord{}
	}
	if len(recs) > h.capacity {
		recs = recs[:h.capacity]
	}
	return recs
}

func containsRating(recs []RatingRecord, thumbnail string, score float64) bool {
	for _, r := range recs {
		if r.SameRating(thumbnail, score) {
			return true
		}
	}
	return false
}
