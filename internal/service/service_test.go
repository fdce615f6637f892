package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halfbloodedyash/Letterboxd/internal/cache"
	"github.com/halfbloodedyash/Letterboxd/internal/history"
	"github.com/halfbloodedyash/Letterboxd/internal/review"
	"github.com/halfbloodedyash/Letterboxd/internal/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type seqIDs struct {
	mu   sync.Mutex
	next int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("session-%d", g.next), nil
}

func (g *seqIDs) NewV7ID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("record-%d", g.next), nil
}

type fakeNormalizer struct {
	calls int
	err   error
}

func (n *fakeNormalizer) Normalize(_ context.Context, raw string) (string, error) {
	n.calls++
	if n.err != nil {
		return "", n.err
	}
	return "https://letterboxd.com/dave/film/parasite/", nil
}

type fakeExtractor struct {
	calls int
	meta  review.Metadata
	err   error
}

func (e *fakeExtractor) Extract(_ context.Context, canonicalURL string) (review.Metadata, error) {
	e.calls++
	if e.err != nil {
		return review.Metadata{}, e.err
	}
	meta := e.meta
	meta.SourceURL = canonicalURL
	return meta, nil
}

type fakeLayout struct {
	err error
}

func (l *fakeLayout) Build(_ review.Metadata, _ review.StyleOptions) (review.Document, error) {
	if l.err != nil {
		return review.Document{}, l.err
	}
	return review.Document{HTML: "<html></html>", Selector: "#card"}, nil
}

type fakeRenderer struct {
	calls  int
	err    error
	health review.HealthStatus
}

func (r *fakeRenderer) Render(_ context.Context, _ review.Document, _, _ int) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []byte("png-bytes"), nil
}

func (r *fakeRenderer) Health(_ context.Context) review.HealthStatus {
	return r.health
}

type recordingHistory struct {
	mu      sync.Mutex
	records []history.RenderRecord
}

func (h *recordingHistory) RecordRender(_ context.Context, rec history.RenderRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *recordingHistory) RecentRenders(_ context.Context, limit int) ([]history.RenderRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit > len(h.records) {
		limit = len(h.records)
	}
	return h.records[:limit], nil
}

func (h *recordingHistory) Close() {}

func (h *recordingHistory) all() []history.RenderRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]history.RenderRecord(nil), h.records...)
}

type testHarness struct {
	svc        *Service
	normalizer *fakeNormalizer
	extractor  *fakeExtractor
	renderer   *fakeRenderer
	history    *recordingHistory
	sessions   *cache.SessionStore
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
	ids := &seqIDs{}
	sessions := cache.NewSessionStore(10, 30*time.Minute, time.Minute, clock, ids)
	t.Cleanup(sessions.Close)
	images := cache.NewImageStore(10, time.Hour, time.Minute, clock)
	t.Cleanup(images.Close)

	h := &testHarness{
		normalizer: &fakeNormalizer{},
		extractor: &fakeExtractor{meta: review.Metadata{
			FilmTitle:      "Parasite",
			FilmYear:       2019,
			AuthorUsername: "dave",
			PosterURL:      "data:image/jpeg;base64,AAAA",
			HasRating:      true,
			Rating:         3.5,
		}},
		renderer: &fakeRenderer{health: review.HealthHealthy},
		history:  &recordingHistory{},
		sessions: sessions,
	}
	h.svc = New(Deps{
		Normalizer:      h.normalizer,
		Extractor:       h.extractor,
		Sessions:        sessions,
		Images:          images,
		Layout:          &fakeLayout{},
		Renderer:        h.renderer,
		History:         h.history,
		RecordIDs:       ids,
		Clock:           clock,
		Logger:          zap.NewNop(),
		TemplateVersion: "v2",
	})
	return h
}

func TestFetchMetadataCreatesSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	summary, err := h.svc.FetchMetadata(context.Background(), "letterboxd.com/dave/film/parasite")
	require.NoError(t, err)
	require.NotEmpty(t, summary.SessionID)
	require.Equal(t, "Parasite", summary.FilmTitle)
	require.Equal(t, 2019, summary.FilmYear)
	require.Equal(t, "dave", summary.AuthorUsername)
	require.True(t, summary.HasPoster)

	meta, err := h.svc.Session(context.Background(), summary.SessionID)
	require.NoError(t, err)
	require.Equal(t, "https://letterboxd.com/dave/film/parasite/", meta.SourceURL)
	require.Equal(t, "Parasite", meta.FilmTitle)
}

func TestFetchMetadataNormalizeFailurePropagates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.normalizer.err = review.NewError(review.CodeInvalidDomain, "host is not letterboxd")

	_, err := h.svc.FetchMetadata(context.Background(), "https://example.com/review")
	require.Equal(t, review.CodeInvalidDomain, review.CodeOf(err))
	require.Zero(t, h.extractor.calls)
}

func TestRenderByURLThenCacheHit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	req := review.RenderRequest{URL: "https://letterboxd.com/dave/film/parasite/"}

	first, err := h.svc.Render(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.CacheHit)
	require.Equal(t, []byte("png-bytes"), first.PNG)
	require.Equal(t, 1, h.extractor.calls)
	require.Equal(t, 1, h.renderer.calls)

	second, err := h.svc.Render(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, first.PNG, second.PNG)
	// Cache hits never touch the network or the engine again.
	require.Equal(t, 1, h.extractor.calls)
	require.Equal(t, 1, h.renderer.calls)
}

func TestRenderBySessionSkipsExtraction(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	summary, err := h.svc.FetchMetadata(context.Background(), "letterboxd.com/dave/film/parasite")
	require.NoError(t, err)
	require.Equal(t, 1, h.extractor.calls)

	result, err := h.svc.Render(context.Background(), review.RenderRequest{SessionID: summary.SessionID})
	require.NoError(t, err)
	require.False(t, result.CacheHit)
	require.Equal(t, 1, h.extractor.calls)
}

func TestRenderSessionAndURLShareCacheEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	summary, err := h.svc.FetchMetadata(context.Background(), "letterboxd.com/dave/film/parasite")
	require.NoError(t, err)

	_, err = h.svc.Render(context.Background(), review.RenderRequest{SessionID: summary.SessionID})
	require.NoError(t, err)

	result, err := h.svc.Render(context.Background(), review.RenderRequest{URL: "letterboxd.com/dave/film/parasite"})
	require.NoError(t, err)
	require.True(t, result.CacheHit)
}

func TestRenderDifferentOptionsMiss(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	url := "https://letterboxd.com/dave/film/parasite/"

	_, err := h.svc.Render(context.Background(), review.RenderRequest{URL: url})
	require.NoError(t, err)

	result, err := h.svc.Render(context.Background(), review.RenderRequest{
		URL:     url,
		Options: review.StyleOptions{Style: review.StyleLight},
	})
	require.NoError(t, err)
	require.False(t, result.CacheHit)
	require.Equal(t, 2, h.renderer.calls)
}

func TestRenderWithoutSourceFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.svc.Render(context.Background(), review.RenderRequest{})
	require.Equal(t, review.CodeMissingURL, review.CodeOf(err))
}

func TestRenderValidatesOptions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.svc.Render(context.Background(), review.RenderRequest{
		URL:     "https://letterboxd.com/dave/film/parasite/",
		Options: review.StyleOptions{Preset: "billboard"},
	})
	require.Equal(t, review.CodeInvalidPreset, review.CodeOf(err))
	require.Zero(t, h.normalizer.calls)
}

func TestRenderUnknownSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.svc.Render(context.Background(), review.RenderRequest{SessionID: "nope"})
	require.Equal(t, review.CodeMissingSession, review.CodeOf(err))
}

func TestRenderRecordsHistory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	url := "https://letterboxd.com/dave/film/parasite/"

	_, err := h.svc.Render(context.Background(), review.RenderRequest{URL: url})
	require.NoError(t, err)
	_, err = h.svc.Render(context.Background(), review.RenderRequest{URL: url})
	require.NoError(t, err)

	records := h.history.all()
	require.Len(t, records, 2)
	require.False(t, records[0].CacheHit)
	require.True(t, records[1].CacheHit)
	require.Equal(t, url, records[0].URL)
	require.Equal(t, "square", records[0].Preset)
	require.Equal(t, 100, records[0].FontScale)
	require.Empty(t, records[0].ErrorCode)
	require.NotEmpty(t, records[0].ID)
	require.NotEqual(t, records[0].ID, records[1].ID)
}

func TestRenderFailureRecordsErrorCode(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.renderer.err = review.NewError(review.CodeRenderTimeout, "render exceeded deadline")

	_, err := h.svc.Render(context.Background(), review.RenderRequest{URL: "https://letterboxd.com/dave/film/parasite/"})
	require.Equal(t, review.CodeRenderTimeout, review.CodeOf(err))

	records := h.history.all()
	require.Len(t, records, 1)
	require.Equal(t, string(review.CodeRenderTimeout), records[0].ErrorCode)
	require.Zero(t, records[0].ImageBytes)
}

func TestHealthProxiesEngine(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.Equal(t, review.HealthHealthy, h.svc.Health(context.Background()))

	h.renderer.health = review.HealthDegraded
	require.Equal(t, review.HealthDegraded, h.svc.Health(context.Background()))
}
