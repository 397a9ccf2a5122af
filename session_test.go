package imagerate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeScorer struct {
	calls atomic.Int32
	rate  func(ctx context.Context, u Upload) (Rating, error)
}

func (f *fakeScorer) Rate(ctx context.Context, u Upload) (Rating, error) {
	f.calls.Add(1)
	if f.rate == nil {
		return Rating{Score: 6.5, Suggestions: []string{"Try a lower angle"}}, nil
	}
	return f.rate(ctx, u)
}

// stateRecorder collects every state a Rater publishes.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (s *stateRecorder) observe(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, snap.State)
}

func (s *stateRecorder) get() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

func newTestRater(t *testing.T, scorer Scorer, h HistoryStore) (*Rater, *stateRecorder) {
	t.Helper()
	rec := &stateRecorder{}
	r, err := NewRater(Config{
		Scorer:        scorer,
		History:       h,
		OnStateChange: rec.observe,
	})
	if err != nil {
		t.Fatalf("NewRater: %v", err)
	}
	return r, rec
}

func imageUpload(name string) Upload {
	return Upload{Name: name, ContentType: "image/jpeg", Data: makeJPEG(640, 480)}
}

func TestRater_Success(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(NewMemoryStore())
	r, states := newTestRater(t, &fakeScorer{}, h)

	res, err := r.Submit(ctx, imageUpload("a.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Score != 6.5 || len(res.Suggestions) != 1 {
		t.Errorf("result = %+v", res)
	}
	if !res.Inserted || res.Duplicate || res.HistoryErr != nil {
		t.Errorf("inserted=%v duplicate=%v historyErr=%v", res.Inserted, res.Duplicate, res.HistoryErr)
	}
	if res.Thumbnail == nil || res.Thumbnail.Width != 300 || res.Thumbnail.Height != 225 {
		t.Errorf("thumbnail = %+v", res.Thumbnail)
	}
	if len(res.History) != 1 || res.History[0].Thumbnail != res.Thumbnail.DataURL {
		t.Errorf("history = %+v", res.History)
	}

	want := []State{StateIdle, StateValidating, StateScoring, StateDerivingThumbnail, StateDeduping, StatePersisted}
	got := states.get()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	cur := r.Current()
	if cur.State != StatePersisted || cur.Score == nil || *cur.Score != 6.5 || cur.Name != "a.jpg" {
		t.Errorf("current = %+v", cur)
	}

	recs, err := r.History(ctx)
	if err != nil || len(recs) != 1 {
		t.Errorf("History() = %d records, err %v", len(recs), err)
	}
}

func TestRater_ScoringUnavailable(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	gw, err := NewGateway(GatewayConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	store := NewMemoryStore()
	h := NewHistory(store)
	_, err = h.Append(ctx, testRecord(1, 5))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	before, _, _ := store.Get(ctx, HistoryKey)

	r, _ := newTestRater(t, gw, h)
	res, err := r.Submit(ctx, imageUpload("a.jpg"))
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if !errors.Is(err, ErrScoringUnavailable) || !errors.Is(err, ErrRemote) {
		t.Errorf("error = %v, want ErrScoringUnavailable and ErrRemote", err)
	}

	cur := r.Current()
	if cur.State != StateFailed || cur.Score != nil || cur.Err == nil {
		t.Errorf("current = %+v", cur)
	}

	after, _, _ := store.Get(ctx, HistoryKey)
	if string(before) != string(after) {
		t.Error("history changed after a failed session")
	}
}

func TestRater_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		upload  Upload
		wantErr error
	}{
		{
			name:    "6MB over 5MB ceiling",
			upload:  Upload{Name: "big.jpg", ContentType: "image/jpeg", Data: make([]byte, 6*1024*1024)},
			wantErr: ErrTooLarge,
		},
		{
			name:    "not an image",
			upload:  Upload{Name: "doc.pdf", ContentType: "application/pdf", Data: []byte("%PDF")},
			wantErr: ErrInvalidType,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scorer := &fakeScorer{}
			r, states := newTestRater(t, scorer, NewHistory(NewMemoryStore()))

			_, err := r.Submit(context.Background(), tc.upload)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
			if n := scorer.calls.Load(); n != 0 {
				t.Errorf("scorer called %d times, want 0", n)
			}
			if cur := r.Current(); cur.State != StateIdle || !errors.Is(cur.Err, tc.wantErr) {
				t.Errorf("current = %+v", cur)
			}
			for _, s := range states.get() {
				if s == StateScoring {
					t.Error("session reached scoring")
				}
			}
		})
	}
}

func TestRater_Duplicate(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(NewMemoryStore())
	r, _ := newTestRater(t, &fakeScorer{}, h)

	u := imageUpload("a.jpg")
	if _, err := r.Submit(ctx, u); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	res, err := r.Submit(ctx, u)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !res.Duplicate || res.Inserted {
		t.Errorf("duplicate=%v inserted=%v", res.Duplicate, res.Inserted)
	}
	if len(res.History) != 1 {
		t.Errorf("history len = %d, want 1", len(res.History))
	}
	if r.Current().State != StatePersisted {
		t.Errorf("state = %v", r.Current().State)
	}
}

func TestRater_ThumbnailFailureKeepsScore(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(NewMemoryStore())
	r, _ := newTestRater(t, &fakeScorer{}, h)

	u := Upload{Name: "odd.heic", ContentType: "image/heic", Data: []byte("not decodable here")}
	res, err := r.Submit(ctx, u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Score != 6.5 {
		t.Errorf("score = %v", res.Score)
	}
	if !errors.Is(res.HistoryErr, ErrDecode) || res.Inserted || res.Thumbnail != nil {
		t.Errorf("result = %+v", res)
	}
	if r.Current().State != StatePersisted {
		t.Errorf("state = %v", r.Current().State)
	}

	recs, err := h.Load(ctx)
	if err != nil || len(recs) != 0 {
		t.Errorf("history = %d records, err %v", len(recs), err)
	}
}

func TestRater_StorageFailureKeepsScore(t *testing.T) {
	r, _ := newTestRater(t, &fakeScorer{}, NewHistory(failingStore{err: errors.New("quota exceeded")}))

	res, err := r.Submit(context.Background(), imageUpload("a.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Score != 6.5 || res.HistoryErr == nil || res.Inserted {
		t.Errorf("result = %+v", res)
	}
}

func TestRater_Superseded(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(NewMemoryStore())

	started := make(chan struct{})
	release := make(chan struct{})
	scorer := &fakeScorer{rate: func(_ context.Context, u Upload) (Rating, error) {
		if u.Name == "slow.jpg" {
			close(started)
			<-release
			return Rating{Score: 3}, nil
		}
		return Rating{Score: 8}, nil
	}}
	r, _ := newTestRater(t, scorer, h)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Submit(ctx, imageUpload("slow.jpg"))
		errc <- err
	}()
	<-started

	fast := Upload{Name: "fast.png", ContentType: "image/png", Data: makePNG(500, 500)}
	res, err := r.Submit(ctx, fast)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if res.Score != 8 {
		t.Errorf("score = %v, want 8", res.Score)
	}

	close(release)
	select {
	case err := <-errc:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("stale session error = %v, want ErrSuperseded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stale session did not finish")
	}

	recs, err := h.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 1 || recs[0].Score != 8 {
		t.Errorf("history = %+v, want only the newer rating", recs)
	}
	if cur := r.Current(); cur.Name != "fast.png" || cur.State != StatePersisted {
		t.Errorf("current = %+v", cur)
	}
}

// slowStore holds every Set until release is closed.
type slowStore struct {
	m       *MemoryStore
	once    sync.Once
	writing chan struct{}
	release chan struct{}
}

func (s *slowStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.m.Get(ctx, key)
}

func (s *slowStore) Set(ctx context.Context, key string, v []byte) error {
	s.once.Do(func() { close(s.writing) })
	<-s.release
	return s.m.Set(ctx, key, v)
}

func TestRater_SlowWriteDoesNotBlockObservers(t *testing.T) {
	ctx := context.Background()
	store := &slowStore{m: NewMemoryStore(), writing: make(chan struct{}), release: make(chan struct{})}
	h := NewHistory(store)

	var (
		mu     sync.Mutex
		events []SessionEvent
	)
	scorer := &fakeScorer{rate: func(_ context.Context, u Upload) (Rating, error) {
		if u.Name == "first.jpg" {
			return Rating{Score: 4}, nil
		}
		return Rating{Score: 8}, nil
	}}
	r, err := NewRater(Config{
		Scorer:  scorer,
		History: h,
		OnSessionDone: func(ev SessionEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
		},
	})
	if err != nil {
		t.Fatalf("NewRater: %v", err)
	}

	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Submit(ctx, imageUpload("first.jpg"))
		firstErr <- err
	}()
	<-store.writing

	snap := make(chan Snapshot, 1)
	go func() { snap <- r.Current() }()
	select {
	case cur := <-snap:
		if cur.Name != "first.jpg" || cur.State != StateDeduping {
			t.Errorf("current during write = %+v", cur)
		}
	case <-time.After(time.Second):
		t.Fatal("Current blocked on a history write")
	}

	secondErr := make(chan error, 1)
	go func() {
		_, err := r.Submit(ctx, Upload{Name: "second.png", ContentType: "image/png", Data: makePNG(500, 500)})
		secondErr <- err
	}()
	deadline := time.Now().Add(5 * time.Second)
	for r.Current().Name != "second.png" {
		if time.Now().After(deadline) {
			t.Fatal("new session did not start during a history write")
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(store.release)
	if err := <-firstErr; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first session error = %v, want ErrSuperseded", err)
	}
	if err := <-secondErr; err != nil {
		t.Errorf("second session error = %v", err)
	}

	recs, err := h.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) == 0 || recs[0].Score != 8 {
		t.Errorf("history = %+v, want the newer rating first", recs)
	}

	mu.Lock()
	defer mu.Unlock()
	var superseded int
	for _, ev := range events {
		if errors.Is(ev.Err, ErrSuperseded) {
			superseded++
		}
	}
	if superseded != 1 || len(events) != 2 {
		t.Errorf("events = %+v, want one superseded and one finished", events)
	}
}

func TestRater_WithoutHistory(t *testing.T) {
	r, _ := newTestRater(t, &fakeScorer{}, nil)

	res, err := r.Submit(context.Background(), imageUpload("a.jpg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Thumbnail != nil || res.Inserted {
		t.Errorf("result = %+v", res)
	}
	recs, err := r.History(context.Background())
	if err != nil || len(recs) != 0 {
		t.Errorf("History() = %v, %v", recs, err)
	}
}

func TestRater_SessionCallbacks(t *testing.T) {
	var (
		events  []SessionEvent
		latency []time.Duration
	)
	r, err := NewRater(Config{
		Scorer:         &fakeScorer{},
		History:        NewHistory(NewMemoryStore()),
		OnSessionDone:  func(ev SessionEvent) { events = append(events, ev) },
		OnScoreLatency: func(d time.Duration) { latency = append(latency, d) },
	})
	if err != nil {
		t.Fatalf("NewRater: %v", err)
	}

	_, _ = r.Submit(context.Background(), imageUpload("a.jpg"))
	_, _ = r.Submit(context.Background(), Upload{Name: "x", ContentType: "text/plain"})

	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].State != StatePersisted || !events[0].Inserted || events[0].HistorySize != 1 {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].State != StateIdle || !errors.Is(events[1].Err, ErrInvalidType) {
		t.Errorf("events[1] = %+v", events[1])
	}
	if len(latency) != 1 {
		t.Errorf("latency observations = %d, want 1", len(latency))
	}
}

func TestRater_Exports(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	t.Cleanup(srv.Close)

	gw, err := NewGateway(GatewayConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	var kinds []string
	r, err := NewRater(Config{Scorer: gw, OnExport: func(ev ExportEvent) { kinds = append(kinds, ev.Kind) }})
	if err != nil {
		t.Fatalf("NewRater: %v", err)
	}

	blob, err := r.ExportScoredImage(context.Background(), imageUpload("a.jpg"), 6.1)
	if err != nil || string(blob.Data) != "/download" {
		t.Errorf("ExportScoredImage = %v, %v", blob, err)
	}
	blob, err = r.ExportSaliencyMap(context.Background(), imageUpload("a.jpg"))
	if err != nil || string(blob.Data) != "/saliency-map" {
		t.Errorf("ExportSaliencyMap = %v, %v", blob, err)
	}
	if len(kinds) != 2 || kinds[0] != "scored_image" || kinds[1] != "saliency_map" {
		t.Errorf("export events = %v", kinds)
	}

	plain, _ := newTestRater(t, &fakeScorer{}, nil)
	if _, err := plain.ExportSaliencyMap(context.Background(), imageUpload("a.jpg")); err == nil {
		t.Error("expected error from scorer without export support")
	}
}

func TestNewRater_RequiresScorer(t *testing.T) {
	t.Parallel()

	if _, err := NewRater(Config{}); err == nil {
		t.Error("expected error without scorer")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	if StateDerivingThumbnail.String() != "deriving_thumbnail" || State(99).String() != "unknown" {
		t.Error("unexpected state names")
	}
}
