package imagerate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// State is the lifecycle state of a rating session.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateScoring
	StateDerivingThumbnail
	StateDeduping
	StatePersisted // success terminal: the score was delivered
	StateFailed    // error terminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateScoring:
		return "scoring"
	case StateDerivingThumbnail:
		return "deriving_thumbnail"
	case StateDeduping:
		return "deduping"
	case StatePersisted:
		return "persisted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is an observer's view of the current session.
type Snapshot struct {
	Session     uint64 // session identity; grows with every Submit
	Name        string // upload name
	State       State
	Score       *float64 // nil until scoring succeeds
	Suggestions []string
	Err         error
}

// Result is what a successful Submit delivers.
type Result struct {
	Score       float64
	Suggestions []string
	Thumbnail   *Thumbnail // nil if derivation failed or history is disabled

	Inserted  bool           // a new record was written
	Duplicate bool           // an equivalent record was already stored
	History   []RatingRecord // history after this session, newest first

	// HistoryErr is a thumbnail or storage failure. It never hides the score,
	// it only means the rating was not recorded.
	HistoryErr error
}

// Rater runs rating sessions: validate → score → thumbnail → dedup → persist.
// It is safe for concurrent use; a newer Submit supersedes any pending one.
type Rater struct {
	cfg      Config
	exporter Exporter

	mu      sync.Mutex
	gen     uint64
	current Snapshot

	// writeMu orders history writes: a session whose write started before it
	// was superseded lands before its successor's.
	writeMu sync.Mutex
}

// NewRater returns a Rater. cfg.Scorer is required; if it also implements
// Exporter the export operations use it.
func NewRater(cfg Config) (*Rater, error) {
	if cfg.Scorer == nil {
		return nil, goerr.New("scorer is required")
	}
	cfg.defaults()

	r := &Rater{cfg: cfg}
	if ex, ok := cfg.Scorer.(Exporter); ok {
		r.exporter = ex
	}
	return r, nil
}

// Current returns the state of the latest session.
func (r *Rater) Current() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// History returns the stored ratings, newest first.
func (r *Rater) History(ctx context.Context) ([]RatingRecord, error) {
	if r.cfg.History == nil {
		return []RatingRecord{}, nil
	}
	return r.cfg.History.Load(ctx)
}

// Submit starts a new session for u and runs it to a terminal state.
//
// Validation errors (ErrInvalidType, ErrTooLarge) return the session to
// StateIdle. Scoring failures end in StateFailed with an error matching both
// ErrScoringUnavailable and ErrRemote. Thumbnail and storage failures are
// reported in Result.HistoryErr. If another Submit starts meanwhile, this one
// returns ErrSuperseded and its results are discarded.
func (r *Rater) Submit(ctx context.Context, u Upload) (*Result, error) {
	gen := r.begin(u)

	// Validating
	if !r.advance(gen, func(s *Snapshot) { s.State = StateValidating }) {
		return r.superseded(StateIdle)
	}
	if err := ValidateUpload(u, r.cfg.MaxUploadBytes); err != nil {
		slog.Debug("imagerate: upload rejected", "name", u.Name, "error", err)
		r.advance(gen, func(s *Snapshot) { s.State = StateIdle; s.Err = err })
		r.done(StateIdle, err, nil)
		return nil, err
	}

	// Scoring
	if !r.advance(gen, func(s *Snapshot) { s.State = StateScoring }) {
		return r.superseded(StateValidating)
	}
	start := time.Now()
	rating, err := r.cfg.Scorer.Rate(ctx, u)
	if r.cfg.OnScoreLatency != nil {
		r.cfg.OnScoreLatency(time.Since(start))
	}
	if r.stale(gen) {
		return r.superseded(StateScoring)
	}
	if err != nil {
		err = goerr.Wrap(errors.Join(ErrScoringUnavailable, err), "scoring failed", goerr.V("name", u.Name))
		slog.Warn("imagerate: scoring failed", "name", u.Name, "error", err)
		r.advance(gen, func(s *Snapshot) { s.State = StateFailed; s.Err = err })
		r.done(StateFailed, err, nil)
		return nil, err
	}

	res := &Result{Score: rating.Score, Suggestions: rating.Suggestions}
	score := rating.Score
	if !r.advance(gen, func(s *Snapshot) {
		s.Score = &score
		s.Suggestions = rating.Suggestions
		s.State = StateDerivingThumbnail
	}) {
		return r.superseded(StateScoring)
	}

	if r.cfg.History == nil {
		return r.finish(gen, res)
	}

	// DerivingThumbnail
	thumb, err := r.cfg.EncodeThumbnail(ctx, u.Data)
	if r.stale(gen) {
		return r.superseded(StateDerivingThumbnail)
	}
	if err != nil {
		slog.Warn("imagerate: thumbnail failed, rating not recorded", "name", u.Name, "error", err)
		res.HistoryErr = err
		return r.finish(gen, res)
	}
	res.Thumbnail = &thumb

	// Deduping
	if !r.advance(gen, func(s *Snapshot) { s.State = StateDeduping }) {
		return r.superseded(StateDerivingThumbnail)
	}
	recs, err := r.cfg.History.Load(ctx)
	if r.stale(gen) {
		return r.superseded(StateDeduping)
	}
	if err != nil {
		slog.Warn("imagerate: history unavailable, rating not recorded", "name", u.Name, "error", err)
		res.HistoryErr = err
		return r.finish(gen, res)
	}
	if containsRating(recs, thumb.DataURL, rating.Score) {
		res.Duplicate = true
		res.History = recs
		return r.finish(gen, res)
	}

	// Persisted
	rec := NewRatingRecord(thumb, rating.Score, r.cfg.Now())
	if err := r.persist(ctx, gen, rec, res); err != nil {
		return r.superseded(StateDeduping)
	}
	return r.finish(gen, res)
}

// ExportScoredImage asks the remote service to render score onto the image.
// It does not depend on any session having completed.
func (r *Rater) ExportScoredImage(ctx context.Context, u Upload, score float64) (*Blob, error) {
	if r.exporter == nil {
		return nil, goerr.New("scorer does not support exports")
	}
	blob, err := r.exporter.ExportScoredImage(ctx, u, score)
	r.exported("scored_image", err)
	return blob, err
}

// ExportSaliencyMap asks the remote service for an attention map of the image.
func (r *Rater) ExportSaliencyMap(ctx context.Context, u Upload) (*Blob, error) {
	if r.exporter == nil {
		return nil, goerr.New("scorer does not support exports")
	}
	blob, err := r.exporter.ExportSaliencyMap(ctx, u)
	r.exported("saliency_map", err)
	return blob, err
}

// persist appends rec unless the session is already superseded. Storage I/O
// runs outside r.mu so observers and new sessions never wait on it.
func (r *Rater) persist(ctx context.Context, gen uint64, rec RatingRecord, res *Result) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.stale(gen) {
		return ErrSuperseded
	}
	updated, err := r.cfg.History.Append(ctx, rec)

	if err != nil {
		slog.Warn("imagerate: failed to record rating", "id", rec.ID, "error", err)
		res.HistoryErr = err
		return nil
	}

	res.History = updated
	res.Inserted = len(updated) > 0 && updated[0].ID == rec.ID
	res.Duplicate = !res.Inserted
	return nil
}

func (r *Rater) finish(gen uint64, res *Result) (*Result, error) {
	if !r.advance(gen, func(s *Snapshot) { s.State = StatePersisted }) {
		return r.superseded(StateDeduping)
	}
	r.done(StatePersisted, nil, res)
	return res, nil
}

// superseded ends a session that lost to a newer Submit while in state.
func (r *Rater) superseded(state State) (*Result, error) {
	slog.Debug("imagerate: session superseded", "state", state.String())
	r.done(state, ErrSuperseded, nil)
	return nil, ErrSuperseded
}

// begin starts a new session: bumps the identity and resets to StateIdle.
func (r *Rater) begin(u Upload) uint64 {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.current = Snapshot{Session: gen, Name: u.Name, State: StateIdle}
	snap := r.current
	r.mu.Unlock()

	r.notify(snap)
	return gen
}

// advance applies fn to the snapshot if gen is still current and reports whether it was.
func (r *Rater) advance(gen uint64, fn func(*Snapshot)) bool {
	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		return false
	}
	fn(&r.current)
	snap := r.current
	r.mu.Unlock()

	r.notify(snap)
	return true
}

func (r *Rater) stale(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen != gen
}

func (r *Rater) notify(s Snapshot) {
	slog.Debug("imagerate: session state", "session", s.Session, "state", s.State.String())
	if r.cfg.OnStateChange != nil {
		r.cfg.OnStateChange(s)
	}
}

func (r *Rater) done(state State, err error, res *Result) {
	if r.cfg.OnSessionDone == nil {
		return
	}
	ev := SessionEvent{State: state, Err: err}
	if res != nil {
		ev.Inserted = res.Inserted
		ev.HistorySize = len(res.History)
	}
	r.cfg.OnSessionDone(ev)
}

func (r *Rater) exported(kind string, err error) {
	if err != nil {
		slog.Warn("imagerate: export failed", "kind", kind, "error", err)
	}
	if r.cfg.OnExport != nil {
		r.cfg.OnExport(ExportEvent{Kind: kind, Err: err})
	}
}
