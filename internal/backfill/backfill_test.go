package backfill

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"fknsrs.biz/p/catalogfill/internal/catalog"
	"fknsrs.biz/p/catalogfill/internal/ctxclock"
	"fknsrs.biz/p/catalogfill/internal/metaextract"
	"fknsrs.biz/p/catalogfill/internal/metasource"
	"fknsrs.biz/p/catalogfill/internal/ptr"
	"fknsrs.biz/p/catalogfill/models"
)

type fakeUpdate struct {
	id     int
	fields catalog.Fields
}

type fakeStore struct {
	records   []models.VideoCandidate
	selectErr error
	updateErr map[int]error
	updates   []fakeUpdate
}

func (s *fakeStore) limited(limit int) ([]models.VideoCandidate, error) {
	if s.selectErr != nil {
		return nil, s.selectErr
	}

	l := append([]models.VideoCandidate(nil), s.records...)
	if len(l) > limit {
		l = l[:limit]
	}

	return l, nil
}

func (s *fakeStore) SelectMissingMetadata(ctx context.Context, limit int) ([]models.VideoCandidate, error) {
	return s.limited(limit)
}

func (s *fakeStore) SelectAll(ctx context.Context, limit int) ([]models.VideoCandidate, error) {
	return s.limited(limit)
}

func (s *fakeStore) SelectByExternalID(ctx context.Context, externalID string) (*models.VideoCandidate, error) {
	if s.selectErr != nil {
		return nil, s.selectErr
	}

	for _, e := range s.records {
		if e.ExternalID == externalID {
			c := e
			return &c, nil
		}
	}

	return nil, fmt.Errorf("fakeStore.SelectByExternalID: %w", catalog.ErrNotFound)
}

func (s *fakeStore) Update(ctx context.Context, id int, f catalog.Fields) error {
	if err := s.updateErr[id]; err != nil {
		return err
	}

	s.updates = append(s.updates, fakeUpdate{id, f})

	for i, e := range s.records {
		if e.ID == id {
			if f.Title != nil {
				s.records[i].Title = ptr.String(*f.Title)
			}
			if f.PosterURL != nil {
				s.records[i].PosterURL = ptr.String(*f.PosterURL)
			}
		}
	}

	return nil
}

type fakeResult struct {
	metadata *metaextract.Metadata
	err      error
	panic    bool
}

type fakeFetcher struct {
	results map[string]fakeResult
	calls   []string
}

func (f *fakeFetcher) Lookup(ctx context.Context, externalID string) (*metaextract.Metadata, error) {
	f.calls = append(f.calls, externalID)

	r, ok := f.results[externalID]
	if !ok {
		return nil, fmt.Errorf("fakeFetcher: %w: 404", metaextract.ErrUnavailable)
	}

	if r.panic {
		panic("fetcher exploded")
	}

	return r.metadata, r.err
}

func found(title, poster string) fakeResult {
	var m metaextract.Metadata
	if title != "" {
		m.Title = ptr.String(title)
	}
	if poster != "" {
		m.PosterURL = ptr.String(poster)
	}
	return fakeResult{metadata: &m}
}

type sleepRecorder struct {
	calls []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return ctx.Err()
}

func newTestPipeline(store Store, fetcher Fetcher) (*Pipeline, *sleepRecorder) {
	r := &sleepRecorder{}

	opts := DefaultOptions()
	opts.Sleep = r.Sleep

	return New(store, fetcher, opts), r
}

var testNow = time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

func testContext() context.Context {
	return ctxclock.WithClock(context.Background(), ctxclock.NewStaticClock(testNow))
}

func TestRunFillsMissingFields(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{records: []models.VideoCandidate{
		{ID: 1, ExternalID: "abc"},
		{ID: 2, ExternalID: "xyz", Title: ptr.String("Existing"), PosterURL: ptr.String("https://host/existing.jpg")},
	}}
	fetcher := &fakeFetcher{results: map[string]fakeResult{
		"abc": found("Fetched Title", "https://host/img.jpg"),
	}}

	p, sleeps := newTestPipeline(store, fetcher)

	s, err := p.Run(testContext(), ModeNeedsUpdate, "")
	a.NoError(err)
	a.Equal(1, s.Updated)
	a.Equal(1, s.Skipped)
	a.Equal(0, s.Failed)
	a.Equal(1, s.Reasons[ReasonAlreadyComplete])

	a.Equal([]string{"abc"}, fetcher.calls)
	if a.Len(store.updates, 1) {
		u := store.updates[0]
		a.Equal(1, u.id)
		a.Equal("Fetched Title", ptr.StringValue(u.fields.Title))
		a.Equal("https://host/img.jpg", ptr.StringValue(u.fields.PosterURL))
		a.Equal(testNow, u.fields.UpdatedAt)
	}

	a.Equal("Existing", ptr.StringValue(store.records[1].Title))
	a.Equal([]time.Duration{time.Second}, sleeps.calls)
}

func TestRunIsIdempotent(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{records: []models.VideoCandidate{
		{ID: 1, ExternalID: "abc"},
		{ID: 2, ExternalID: "def", Title: ptr.String("Has Title")},
	}}
	fetcher := &fakeFetcher{results: map[string]fakeResult{
		"abc": found("First", "https://host/1.jpg"),
		"def": found("Second", "https://host/2.jpg"),
	}}

	p, _ := newTestPipeline(store, fetcher)

	s, err := p.Run(testContext(), ModeNeedsUpdate, "")
	a.NoError(err)
	a.Equal(2, s.Updated)

	fetcher.calls = nil

	s, err = p.Run(testContext(), ModeNeedsUpdate, "")
	a.NoError(err)
	a.Equal(0, s.Updated)
	a.Equal(2, s.Skipped)
	a.Empty(fetcher.calls)
}

func TestRunIsIdempotentWithPosterHosts(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{records: []models.VideoCandidate{
		{ID: 1, ExternalID: "abc", Title: ptr.String("T")},
		{ID: 2, ExternalID: "def"},
	}}
	fetcher := &fakeFetcher{results: map[string]fakeResult{
		"abc": found("T", "https://other.example/x.jpg"),
		"def": found("Second", "https://img.cdn.host/2.jpg"),
	}}

	opts := DefaultOptions()
	opts.Sleep = (&sleepRecorder{}).Sleep
	opts.PosterHosts = []string{"cdn.host"}

	p := New(store, fetcher, opts)

	s, err := p.Run(testContext(), ModeNeedsUpdate, "")
	a.NoError(err)
	a.Equal(1, s.Updated)
	a.Equal(1, s.Failed)
	a.Equal(1, s.Reasons[ReasonNoMetadata])
	a.Nil(store.records[0].PosterURL)
	a.Equal("https://img.cdn.host/2.jpg", ptr.StringValue(store.records[1].PosterURL))

	s, err = p.Run(testContext(), ModeNeedsUpdate, "")
	a.NoError(err)
	a.Equal(0, s.Updated)
	a.Len(store.updates, 1)
}

func TestRunNeverOverwritesInDefaultMode(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{records: []models.VideoCandidate{
		{ID: 1, ExternalID: "abc", Title: ptr.String("Mine")},
	}}
	fetcher := &fakeFetcher{results: map[string]fakeResult{
		"abc": found("Theirs", "https://host/1.jpg"),
	}}

	p, _ := newTestPipeline(store, fetcher)

	s, err := p.Run(testContext(), ModeNeedsUpdate, "")
	a.NoError(err)
	a.Equal(1, s.Updated)

	if a.Len(store.updates, 1) {
		a.Nil(store.updates[0].fields.Title)
		a.Equal("https://host/1.jpg", ptr.StringValue(store.updates[0].fields.PosterURL))
	}
	a.Equal("Mine", ptr.StringValue(store.records[0].Title))
}

func TestRunForceOverwrites(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{records: []models.VideoCandidate{
		{ID: 1, ExternalID: "abc", Title: ptr.String("Mine"), PosterURL: ptr.String("https://host/old.jpg")},
	}}
	fetcher := &fakeFetcher{results: map[string]fakeResult{
		"abc": found("Theirs", ""),
	}}

	p, _ := newTestPipeline(store, fetcher)

	s, err := p.Run(testContext(), ModeForceAll, "")
	a.NoError(err)
	a.Equal(1, s.Updated)
	a.Equal([]string{"abc"}, fetcher.calls)
	a.Equal("Theirs", ptr.StringValue(store.records[0].Title))
	a.Equal("https://host/old.jpg", ptr.StringValue(store.records[0].PosterURL))
}

func TestRunIsolatesFailures(t *testing.T) {
	for _, tc := range []struct {
		name   string
		result fakeResult
		reason Reason
	}{
		{"error", fakeResult{err: fmt.Errorf("wrapped: %w", metaextract.ErrUnavailable)}, ReasonUnavailable},
		{"panic", fakeResult{panic: true}, ReasonUnavailable},
		{"no title", found("", "https://host/2.jpg"), ReasonNoMetadata},
		{"nil metadata", fakeResult{}, ReasonNoMetadata},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			store := &fakeStore{records: []models.VideoCandidate{
				{ID: 1, ExternalID: "one"},
				{ID: 2, ExternalID: "two"},
				{ID: 3, ExternalID: "three"},
			}}
			fetcher := &fakeFetcher{results: map[string]fakeResult{
				"one":   found("One", "https://host/1.jpg"),
				"two":   tc.result,
				"three": found("Three", "https://host/3.jpg"),
			}}

			p, sleeps := newTestPipeline(store, fetcher)

			s, err := p.Run(testContext(), ModeNeedsUpdate, "")
			a.NoError(err)
			a.Equal(2, s.Updated)
			a.Equal(1, s.Failed)
			a.Equal(1, s.Reasons[tc.reason])
			a.Equal([]string{"one", "two", "three"}, fetcher.calls)
			a.Len(sleeps.calls, 2)

			if a.Len(s.Outcomes, 3) {
				a.Equal(OutcomeFailed, s.Outcomes[1].Kind)
				a.Equal(2, s.Outcomes[1].VideoID)
				a.Error(s.Outcomes[1].Err)
			}
		})
	}
}

func TestRunStoreErrorDoesNotAbort(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{
		records: []models.VideoCandidate{
			{ID: 1, ExternalID: "one"},
			{ID: 2, ExternalID: "two"},
		},
		updateErr: map[int]error{1: errors.New("disk full")},
	}
	fetcher := &fakeFetcher{results: map[string]fakeResult{
		"one": found("One", ""),
		"two": found("Two", ""),
	}}

	p, _ := newTestPipeline(store, fetcher)

	s, err := p.Run(testContext(), ModeNeedsUpdate, "")
	a.NoError(err)
	a.Equal(1, s.Updated)
	a.Equal(1, s.Failed)
	a.Equal(1, s.Reasons[ReasonStoreError])
	a.Contains(s.String(), "record 1 (one): failed (store_error): disk full")
}

func TestRunSkipsMissingExternalID(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{records: []models.VideoCandidate{
		{ID: 1, ExternalID: ""},
		{ID: 2, ExternalID: "  "},
	}}
	fetcher := &fakeFetcher{}

	p, sleeps := newTestPipeline(store, fetcher)

	s, err := p.Run(testContext(), ModeForceAll, "")
	a.NoError(err)
	a.Equal(2, s.Skipped)
	a.Equal(2, s.Reasons[ReasonNoExternalID])
	a.Empty(fetcher.calls)
	a.Empty(sleeps.calls)
	a.Empty(store.updates)
}

func TestRunSingle(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{records: []models.VideoCandidate{
		{ID: 1, ExternalID: "one"},
		{ID: 2, ExternalID: "two"},
	}}
	fetcher := &fakeFetcher{results: map[string]fakeResult{
		"two": found("Two", "https://host/2.jpg"),
	}}

	p, sleeps := newTestPipeline(store, fetcher)

	s, err := p.Run(testContext(), ModeSingle, "two")
	a.NoError(err)
	a.Equal(1, s.Candidates)
	a.Equal(1, s.Updated)
	a.Equal([]string{"two"}, fetcher.calls)
	a.Empty(sleeps.calls)
	a.Contains(s.String(), "record 2 (two): updated")

	s, err = p.Run(testContext(), ModeSingle, "doesnotexist")
	a.ErrorIs(err, ErrNotFound)
	a.Nil(s)
	a.Len(store.updates, 1)
}

func TestRunSingleForce(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{records: []models.VideoCandidate{
		{ID: 1, ExternalID: "one", Title: ptr.String("Old"), PosterURL: ptr.String("https://host/old.jpg")},
	}}
	fetcher := &fakeFetcher{results: map[string]fakeResult{
		"one": found("New", "https://host/new.jpg"),
	}}

	p, _ := newTestPipeline(store, fetcher)

	s, err := p.RunSingle(testContext(), "one", false)
	a.NoError(err)
	a.Equal(1, s.Reasons[ReasonAlreadyComplete])
	a.Empty(fetcher.calls)

	s, err = p.RunSingle(testContext(), "one", true)
	a.NoError(err)
	a.Equal(ModeSingle, s.Mode)
	a.Equal(1, s.Updated)
	a.Equal("New", ptr.StringValue(store.records[0].Title))
	a.Equal("https://host/new.jpg", ptr.StringValue(store.records[0].PosterURL))

	_, err = p.RunSingle(testContext(), "two", true)
	a.ErrorIs(err, ErrNotFound)
}

func TestRunSelectionError(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{selectErr: errors.New("connection refused")}

	p, _ := newTestPipeline(store, &fakeFetcher{})

	for _, mode := range []Mode{ModeNeedsUpdate, ModeForceAll, ModeSingle} {
		_, err := p.Run(testContext(), mode, "abc")

		var selErr *SelectionError
		if a.ErrorAs(err, &selErr) {
			a.Equal(mode, selErr.Mode)
		}
	}
}

func TestRunDelay(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{records: []models.VideoCandidate{
		{ID: 1, ExternalID: "one"},
		{ID: 2, ExternalID: "two", Title: ptr.String("Done"), PosterURL: ptr.String("https://host/2.jpg")},
		{ID: 3, ExternalID: "three"},
		{ID: 4, ExternalID: "four"},
	}}
	fetcher := &fakeFetcher{results: map[string]fakeResult{
		"one":   found("One", "https://host/1.jpg"),
		"three": found("Three", "https://host/3.jpg"),
		"four":  found("Four", "https://host/4.jpg"),
	}}

	r := &sleepRecorder{}
	p := New(store, fetcher, Options{Delay: time.Millisecond * 250, Sleep: r.Sleep})

	_, err := p.Run(testContext(), ModeNeedsUpdate, "")
	a.NoError(err)
	a.Equal([]time.Duration{time.Millisecond * 250, time.Millisecond * 250}, r.calls)
}

func TestRunCancelled(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{records: []models.VideoCandidate{
		{ID: 1, ExternalID: "one"},
		{ID: 2, ExternalID: "two"},
	}}
	fetcher := &fakeFetcher{results: map[string]fakeResult{
		"one": found("One", ""),
		"two": found("Two", ""),
	}}

	ctx, cancel := context.WithCancel(testContext())

	p := New(store, fetcher, Options{Delay: time.Second, Sleep: func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}})

	s, err := p.Run(ctx, ModeNeedsUpdate, "")
	a.ErrorIs(err, context.Canceled)
	if a.NotNil(s) {
		a.True(s.Interrupted)
		a.Equal(1, s.Updated)
		a.Equal(1, s.Processed())
	}
	a.Equal([]string{"one"}, fetcher.calls)
}

func TestVerify(t *testing.T) {
	a := assert.New(t)

	store := &fakeStore{records: []models.VideoCandidate{
		{ID: 1, ExternalID: "ok", Title: ptr.String("Fine"), PosterURL: ptr.String("https://cdn.host/1.jpg")},
		{ID: 2, ExternalID: "short", Title: ptr.String("ab"), PosterURL: ptr.String("https://cdn.host/2.jpg")},
		{ID: 3, ExternalID: "bare"},
		{ID: 4, ExternalID: "placeholder", Title: ptr.String("Placeholder"), PosterURL: ptr.String("/placeholder-video.jpg")},
	}}
	fetcher := &fakeFetcher{results: map[string]fakeResult{
		"short":       found("Longer Title", "https://cdn.host/other.jpg"),
		"bare":        found("Bare", "https://cdn.host/3.jpg"),
		"placeholder": found("Other", "https://cdn.host/4.jpg"),
	}}

	p, sleeps := newTestPipeline(store, fetcher)

	r, err := p.Verify(testContext(), false)
	a.NoError(err)
	a.Equal(4, r.Checked)
	a.Len(r.Issues, 3)
	a.Equal(map[IssueKind]int{
		IssueTitleShort:    1,
		IssueTitleMissing:  1,
		IssuePosterMissing: 1,
		IssuePosterInvalid: 1,
	}, r.Counts)
	a.Nil(r.Repair)
	a.Empty(fetcher.calls)
	a.Empty(store.updates)
	a.Contains(r.String(), "record 3 (bare): title_missing, poster_missing")

	r, err = p.Verify(testContext(), true)
	a.NoError(err)
	if a.NotNil(r.Repair) {
		a.Equal(ModeRepair, r.Repair.Mode)
		a.Equal(3, r.Repair.Updated)
	}
	a.Equal([]string{"short", "bare", "placeholder"}, fetcher.calls)
	a.Len(sleeps.calls, 2)

	a.Equal("Longer Title", ptr.StringValue(store.records[1].Title))
	a.Equal("https://cdn.host/2.jpg", ptr.StringValue(store.records[1].PosterURL))
	a.Equal("Placeholder", ptr.StringValue(store.records[3].Title))
	a.Equal("https://cdn.host/4.jpg", ptr.StringValue(store.records[3].PosterURL))
}

func TestRunAgainstCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Query().Get("url"), "/abc"):
			rw.Header().Set("content-type", "application/json")
			fmt.Fprint(rw, `{"title":"Fetched Title - TeraBox","image":"https://host/img.jpg"}`)
		default:
			http.NotFound(rw, r)
		}
	}))
	defer srv.Close()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	db.SetMaxOpenConns(1)

	ctx := testContext()

	a := assert.New(t)

	a.NoError(catalog.Migrate(ctx, db))

	_, err = db.Exec("insert into videos (id, tera_id, title) values (1, 'abc', null), (2, 'xyz', 'Existing'), (3, 'gone', null)")
	a.NoError(err)

	store := catalog.NewStore(db, nil)
	fetcher := metasource.New(metasource.Options{ServiceURL: srv.URL})

	p := New(store, fetcher, Options{Sleep: func(ctx context.Context, d time.Duration) error { return nil }})

	s, err := p.Run(ctx, ModeNeedsUpdate, "")
	a.NoError(err)
	a.Equal(3, s.Candidates)
	a.Equal(1, s.Updated)
	a.Equal(2, s.Failed)
	a.Equal(2, s.Reasons[ReasonUnavailable])

	v, err := store.FindVideo(ctx, "abc")
	a.NoError(err)
	a.Equal("Fetched Title", ptr.StringValue(v.Title))
	a.Equal("https://host/img.jpg", ptr.StringValue(v.PosterURL))
	if a.NotNil(v.UpdatedAt) {
		a.True(testNow.Equal(*v.UpdatedAt))
	}

	v, err = store.FindVideo(ctx, "xyz")
	a.NoError(err)
	a.Equal("Existing", ptr.StringValue(v.Title))
	a.Nil(v.PosterURL)
}
