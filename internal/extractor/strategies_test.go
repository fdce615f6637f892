package extractor

import (
	"strconv"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestTitleCascadePriority(t *testing.T) {
	t.Parallel()

	// Both the dedicated attribute and a conflicting page title are
	// present; the attribute must win.
	doc := parseDoc(t, `<html><head>
		<title>&lsquo;Wrong Film&rsquo; review by dave &bull; Letterboxd</title>
		<meta property="og:title" content="Review of Wrong Film by dave">
	</head><body>
		<div class="film-poster" data-film-name="Parasite"></div>
	</body></html>`)

	title, source, ok := runCascade(doc, titleStrategies())
	require.True(t, ok)
	require.Equal(t, "Parasite", title)
	require.Equal(t, "poster-data-attribute", source)
}

func TestTitleCascadeFallbackOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		html       string
		wantTitle  string
		wantSource string
	}{
		{
			"headline link",
			`<h1 class="headline-2"><a href="/film/parasite/">Parasite</a></h1>`,
			"Parasite", "headline-link",
		},
		{
			"og title quoted",
			`<head><meta property="og:title" content="‘Parasite’ review by dave"></head>`,
			"Parasite", "og-title",
		},
		{
			"og title review-of form",
			`<head><meta property="og:title" content="Review of Parasite (2019) by dave"></head>`,
			"Parasite", "og-title",
		},
		{
			"page title quoted",
			`<head><title>‘Parasite’ review by dave • Letterboxd</title></head>`,
			"Parasite", "page-title",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			title, source, ok := runCascade(parseDoc(t, tc.html), titleStrategies())
			require.True(t, ok)
			require.Equal(t, tc.wantTitle, title)
			require.Equal(t, tc.wantSource, source)
		})
	}
}

func TestYearCascade(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<div data-film-release-year="2019"></div>
		<head><meta property="og:title" content="‘Parasite’ (2003) review"></head>`)
	year, source, ok := runCascade(doc, yearStrategies())
	require.True(t, ok)
	require.Equal(t, "2019", year)
	require.Equal(t, "release-year-attribute", source)

	doc = parseDoc(t, `<head><title>‘Parasite’ (2019) review by dave</title></head>`)
	year, source, ok = runCascade(doc, yearStrategies())
	require.True(t, ok)
	require.Equal(t, "2019", year)
	require.Equal(t, "page-title-year", source)
}

func TestExtractRatingScaling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  int
		want float64
	}{
		{7, 3.5},
		{10, 5.0},
		{0, 0.0},
		{1, 0.5},
	}
	for _, tc := range tests {
		doc := parseDoc(t, `<span class="rating rated-`+strconv.Itoa(tc.raw)+`">stars</span>`)
		rating, ok := extractRating(doc)
		require.True(t, ok, "rated-%d should parse", tc.raw)
		require.Equal(t, tc.want, rating, "rated-%d", tc.raw)
	}

	_, ok := extractRating(parseDoc(t, `<span class="rating">no class suffix</span>`))
	require.False(t, ok, "absent indicator means no rating, not zero")
}

func TestExtractLikedIndicators(t *testing.T) {
	t.Parallel()

	require.True(t, extractLiked(parseDoc(t, `<span class="icon-liked"></span>`)))
	require.True(t, extractLiked(parseDoc(t, `<div data-liked="true"></div>`)))
	require.True(t, extractLiked(parseDoc(t, `<span class="like liked"></span>`)))
	require.False(t, extractLiked(parseDoc(t, `<span class="like"></span>`)))
}

func TestExtractSpoilerIndicators(t *testing.T) {
	t.Parallel()

	require.True(t, extractSpoiler(parseDoc(t, `<div class="contains-spoilers"></div>`)))
	require.True(t, extractSpoiler(parseDoc(t, `<div data-contains-spoilers="true"></div>`)))
	require.True(t, extractSpoiler(parseDoc(t, `<div class="spoiler-warning"></div>`)))
	require.True(t, extractSpoiler(parseDoc(t, `<p>This review may contain spoilers.</p>`)))
	require.False(t, extractSpoiler(parseDoc(t, `<p>A spotless review.</p>`)))
}

func TestExtractReviewTextJoinsParagraphs(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<div class="review"><div class="body-text">
		<p>First paragraph.</p>
		<p>Second paragraph.</p>
	</div></div>`)
	text, ok := extractReviewText(doc)
	require.True(t, ok)
	require.Equal(t, "First paragraph.\n\nSecond paragraph.", text)
}

func TestExtractReviewTextFallsBackToContainer(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<div class="review"><div class="body-text">bare text, no paragraphs</div></div>`)
	text, ok := extractReviewText(doc)
	require.True(t, ok)
	require.Equal(t, "bare text, no paragraphs", text)
}

func TestExtractWatchedDate(t *testing.T) {
	t.Parallel()

	doc := parseDoc(t, `<p class="view-date">Watched <time datetime="2019-10-12T00:00:00Z">12 Oct 2019</time></p>`)
	date, ok := extractWatchedDate(doc)
	require.True(t, ok)
	require.Equal(t, "2019-10-12", date)

	doc = parseDoc(t, `<p class="view-date">Watched 12 Oct 2019</p>`)
	date, ok = extractWatchedDate(doc)
	require.True(t, ok)
	require.Equal(t, "2019-10-12", date)

	_, ok = extractWatchedDate(parseDoc(t, `<p>no date here</p>`))
	require.False(t, ok)
}

func TestUpgradePosterURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"cdn crop upsized and https forced",
			"http://a.ltrbxd.com/resized/film-poster/4/2/6/4/0/6/426406-parasite-0-230-0-345-crop.jpg",
			"https://a.ltrbxd.com/resized/film-poster/4/2/6/4/0/6/426406-parasite-0-1000-0-1500-crop.jpg",
		},
		{
			"non-cdn host untouched",
			"http://example.com/poster-0-230-0-345-crop.jpg",
			"http://example.com/poster-0-230-0-345-crop.jpg",
		},
		{
			"cdn url without crop still forced https",
			"http://a.ltrbxd.com/film-poster/plain.jpg",
			"https://a.ltrbxd.com/film-poster/plain.jpg",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, upgradePosterURL(tc.in))
		})
	}
}
