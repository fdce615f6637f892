// Package service orchestrates the card pipeline: normalize, extract,
// cache, lay out, render. API handlers stay thin and call in here.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/halfbloodedyash/Letterboxd/internal/cache"
	"github.com/halfbloodedyash/Letterboxd/internal/history"
	"github.com/halfbloodedyash/Letterboxd/internal/review"
)

// RecordIDGenerator issues time-ordered IDs for history rows.
type RecordIDGenerator interface {
	NewV7ID() (string, error)
}

// Deps are the collaborators a Service needs. All fields are required
// except History, which defaults to a no-op store.
type Deps struct {
	Normalizer      review.Normalizer
	Extractor       review.Extractor
	Sessions        *cache.SessionStore
	Images          *cache.ImageStore
	Layout          review.LayoutBuilder
	Renderer        review.Renderer
	History         history.Store
	RecordIDs       RecordIDGenerator
	Clock           review.Clock
	Logger          *zap.Logger
	TemplateVersion string
}

// Service is the pipeline facade used by the HTTP layer.
type Service struct {
	deps Deps
}

// New builds a Service.
func New(deps Deps) *Service {
	if deps.History == nil {
		deps.History = history.NewNoop()
	}
	return &Service{deps: deps}
}

// FetchMetadata normalizes rawURL, extracts the review and stores the
// metadata under a fresh session. The returned summary never carries
// embedded image payloads.
func (s *Service) FetchMetadata(ctx context.Context, rawURL string) (review.Summary, error) {
	canonical, err := s.deps.Normalizer.Normalize(ctx, rawURL)
	if err != nil {
		return review.Summary{}, err
	}

	meta, err := s.deps.Extractor.Extract(ctx, canonical)
	if err != nil {
		return review.Summary{}, err
	}
	meta.SourceURL = canonical

	sessionID, err := s.deps.Sessions.Put(meta)
	if err != nil {
		return review.Summary{}, review.WrapError(review.CodeRenderFailed, "store session", err)
	}

	s.deps.Logger.Info("metadata extracted",
		zap.String("url", canonical),
		zap.String("film", meta.FilmTitle),
		zap.String("session_id", sessionID),
	)

	return review.Summary{
		SessionID:      sessionID,
		FilmTitle:      meta.FilmTitle,
		FilmYear:       meta.FilmYear,
		AuthorUsername: meta.AuthorUsername,
		HasPoster:      meta.HasPoster(),
	}, nil
}

// Session returns the full metadata behind a session token.
func (s *Service) Session(_ context.Context, sessionID string) (review.Metadata, error) {
	return s.deps.Sessions.Get(sessionID)
}

// Render produces the card PNG for a request carrying either a review
// URL or a previously issued session ID.
func (s *Service) Render(ctx context.Context, req review.RenderRequest) (review.RenderResult, error) {
	start := s.deps.Clock.Now()

	opts := req.Options.Normalized(s.deps.TemplateVersion)
	if err := opts.Validate(); err != nil {
		return review.RenderResult{}, err
	}

	meta, sourceURL, haveMeta, err := s.resolveSource(ctx, req)
	if err != nil {
		return review.RenderResult{}, err
	}

	// Cached images are served before any extraction work.
	fingerprint := cache.Fingerprint(sourceURL, opts)
	if png, ok := s.deps.Images.Get(fingerprint); ok {
		result := review.RenderResult{PNG: png, CacheHit: true}
		s.record(ctx, meta, sourceURL, opts, result, start, nil)
		return result, nil
	}

	if !haveMeta {
		meta, err = s.deps.Extractor.Extract(ctx, sourceURL)
		if err != nil {
			return review.RenderResult{}, err
		}
		meta.SourceURL = sourceURL
	}

	doc, err := s.deps.Layout.Build(meta, opts)
	if err != nil {
		s.record(ctx, meta, sourceURL, opts, review.RenderResult{}, start, err)
		return review.RenderResult{}, err
	}

	width, height := opts.Preset.Dimensions()
	png, err := s.deps.Renderer.Render(ctx, doc, width, height)
	if err != nil {
		s.record(ctx, meta, sourceURL, opts, review.RenderResult{}, start, err)
		return review.RenderResult{}, err
	}

	s.deps.Images.Put(fingerprint, png)

	result := review.RenderResult{PNG: png, CacheHit: false}
	s.record(ctx, meta, sourceURL, opts, result, start, nil)
	return result, nil
}

// resolveSource identifies the review behind the request. Session
// requests carry their metadata already; URL requests only normalize
// here so a cache hit skips extraction entirely.
func (s *Service) resolveSource(ctx context.Context, req review.RenderRequest) (meta review.Metadata, sourceURL string, haveMeta bool, err error) {
	switch {
	case req.SessionID != "":
		meta, err = s.deps.Sessions.Get(req.SessionID)
		if err != nil {
			return review.Metadata{}, "", false, err
		}
		return meta, meta.SourceURL, true, nil
	case req.URL != "":
		canonical, err := s.deps.Normalizer.Normalize(ctx, req.URL)
		if err != nil {
			return review.Metadata{}, "", false, err
		}
		return review.Metadata{}, canonical, false, nil
	default:
		return review.Metadata{}, "", false, review.NewError(review.CodeMissingURL, "request needs a url or a session_id")
	}
}

// record writes one best-effort history row. Failures are logged and
// never surfaced.
func (s *Service) record(ctx context.Context, meta review.Metadata, sourceURL string, opts review.StyleOptions, result review.RenderResult, start time.Time, renderErr error) {
	id, err := s.deps.RecordIDs.NewV7ID()
	if err != nil {
		s.deps.Logger.Warn("issue history id", zap.Error(err))
		return
	}

	rec := history.RenderRecord{
		ID:         id,
		URL:        sourceURL,
		FilmTitle:  meta.FilmTitle,
		Preset:     string(opts.Preset),
		Style:      opts.Style,
		FontScale:  opts.FontScale,
		CacheHit:   result.CacheHit,
		DurationMS: s.deps.Clock.Now().Sub(start).Milliseconds(),
		ImageBytes: len(result.PNG),
		ErrorCode:  string(review.CodeOf(renderErr)),
		CreatedAt:  s.deps.Clock.Now(),
	}
	if err := s.deps.History.RecordRender(ctx, rec); err != nil {
		s.deps.Logger.Warn("record render history", zap.Error(err))
	}
}

// RecentRenders lists the latest history rows.
func (s *Service) RecentRenders(ctx context.Context, limit int) ([]history.RenderRecord, error) {
	return s.deps.History.RecentRenders(ctx, limit)
}

// Health reports render engine connectivity.
func (s *Service) Health(ctx context.Context) review.HealthStatus {
	return s.deps.Renderer.Health(ctx)
}
