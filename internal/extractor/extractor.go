package extractor

import (
	"bytes"
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/halfbloodedyash/Letterboxd/internal/review"
	"github.com/halfbloodedyash/Letterboxd/internal/telemetry"
	"github.com/halfbloodedyash/Letterboxd/internal/tmdb"
)

// PosterSearcher looks up a higher-quality poster by title and year.
// A nil searcher disables the upgrade path.
type PosterSearcher interface {
	SearchMovie(ctx context.Context, title string, year int) (*tmdb.Movie, error)
}

// Extractor derives review metadata from a canonical review URL.
// Primary-page failures are fatal; poster upgrade and avatar embedding
// degrade to the next-best value instead.
type Extractor struct {
	fetcher  *PageFetcher
	posters  PosterSearcher
	embedder *ImageEmbedder
	logger   *zap.Logger
}

// New builds an Extractor. posters may be nil when no TMDB key is
// configured.
func New(fetcher *PageFetcher, posters PosterSearcher, embedder *ImageEmbedder, logger *zap.Logger) *Extractor {
	return &Extractor{
		fetcher:  fetcher,
		posters:  posters,
		embedder: embedder,
		logger:   logger,
	}
}

// Extract fetches the page and runs every field cascade.
func (e *Extractor) Extract(ctx context.Context, canonicalURL string) (review.Metadata, error) {
	body, err := e.fetcher.FetchPage(ctx, canonicalURL)
	if err != nil {
		telemetry.ObserveExtraction("fetch_error")
		return review.Metadata{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		telemetry.ObserveExtraction("parse_error")
		return review.Metadata{}, review.WrapError(review.CodeFetchFailed, "parse review page", err)
	}

	meta := e.extractFields(doc, canonicalURL)
	e.resolveImages(ctx, &meta)
	telemetry.ObserveExtraction("ok")
	return meta, nil
}

func (e *Extractor) extractFields(doc *goquery.Document, canonicalURL string) review.Metadata {
	var meta review.Metadata
	meta.SourceURL = canonicalURL

	username, slug := pathParts(canonicalURL)
	meta.AuthorUsername = username

	if title, source, ok := runCascade(doc, titleStrategies()); ok {
		meta.FilmTitle = title
		e.logger.Debug("title extracted", zap.String("strategy", source))
	} else {
		meta.FilmTitle = slugToTitle(slug)
		e.logger.Debug("title extracted", zap.String("strategy", "url-slug"))
	}

	if year, _, ok := runCascade(doc, yearStrategies()); ok {
		if parsed, err := strconv.Atoi(year); err == nil {
			meta.FilmYear = parsed
		}
	}

	if name, _, ok := runCascade(doc, authorNameStrategies()); ok {
		meta.AuthorName = name
	} else {
		meta.AuthorName = username
	}

	meta.Rating, meta.HasRating = extractRating(doc)
	meta.Liked = extractLiked(doc)
	meta.Spoiler = extractSpoiler(doc)
	meta.ReviewText, _ = extractReviewText(doc)
	meta.WatchedDate, _ = extractWatchedDate(doc)

	if poster, _, ok := runCascade(doc, posterStrategies()); ok {
		meta.PosterURL = upgradePosterURL(poster)
	}
	if avatar, _, ok := runCascade(doc, avatarStrategies()); ok {
		meta.AvatarURL = avatar
	}
	return meta
}

// resolveImages upgrades the poster via TMDB when possible and embeds
// poster and avatar bytes. Every step tolerates failure by keeping the
// previous value.
func (e *Extractor) resolveImages(ctx context.Context, meta *review.Metadata) {
	if e.posters != nil && meta.FilmTitle != "" {
		if movie, err := e.posters.SearchMovie(ctx, meta.FilmTitle, meta.FilmYear); err == nil {
			if embedded, ok := e.embedder.Embed(ctx, movie.PosterURL("original")); ok {
				meta.PosterURL = embedded
			}
		} else {
			e.logger.Debug("poster lookup failed",
				zap.String("title", meta.FilmTitle), zap.Int("year", meta.FilmYear), zap.Error(err))
		}
	}

	if meta.PosterURL != "" && !strings.HasPrefix(meta.PosterURL, "data:") {
		if embedded, ok := e.embedder.Embed(ctx, meta.PosterURL); ok {
			meta.PosterURL = embedded
		}
	}
	if meta.AvatarURL != "" {
		if embedded, ok := e.embedder.Embed(ctx, meta.AvatarURL); ok {
			meta.AvatarURL = embedded
		}
	}
}

// pathParts splits /{member}/film/{slug}/... into member and slug.
func pathParts(canonicalURL string) (username, slug string) {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return "", ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) >= 1 {
		username = segments[0]
	}
	if len(segments) >= 3 {
		slug = segments[2]
	}
	return username, slug
}

// slugToTitle turns a hyphenated URL slug into title case.
func slugToTitle(slug string) string {
	if slug == "" {
		return "Unknown Film"
	}
	words := strings.Split(slug, "-")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
