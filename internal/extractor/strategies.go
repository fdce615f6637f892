package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// strategy is one step of an ordered fallback cascade: a named pure
// function over the parsed document. The first strategy to produce a
// value wins; later ones are never consulted.
type strategy struct {
	name string
	fn   func(doc *goquery.Document) (string, bool)
}

// runCascade evaluates strategies in order and returns the first hit.
func runCascade(doc *goquery.Document, strategies []strategy) (value, source string, ok bool) {
	for _, s := range strategies {
		if v, found := s.fn(doc); found && v != "" {
			return v, s.name, true
		}
	}
	return "", "", false
}

var (
	// Letterboxd titles quote the film name with typographic quotes;
	// plain quotes appear in some social-preview variants.
	quotedTitleRe   = regexp.MustCompile("[‘']([^’']+)[’']")
	reviewOfTitleRe = regexp.MustCompile(`Review of (.+?) by `)
	parenYearRe     = regexp.MustCompile(`\((\d{4})\)`)
	ratedClassRe    = regexp.MustCompile(`\brated-(\d+)\b`)
)

func titleStrategies() []strategy {
	return []strategy{
		{"poster-data-attribute", func(doc *goquery.Document) (string, bool) {
			return attrValue(doc, "[data-film-name]", "data-film-name")
		}},
		{"headline-link", func(doc *goquery.Document) (string, bool) {
			return textValue(doc, "h1.headline-2 a, .film-title-wrapper > a")
		}},
		{"og-title", func(doc *goquery.Document) (string, bool) {
			og, ok := attrValue(doc, `meta[property="og:title"]`, "content")
			if !ok {
				return "", false
			}
			return titleFromPreview(og)
		}},
		{"page-title", func(doc *goquery.Document) (string, bool) {
			title := strings.TrimSpace(doc.Find("title").First().Text())
			if title == "" {
				return "", false
			}
			if m := quotedTitleRe.FindStringSubmatch(title); m != nil {
				return strings.TrimSpace(m[1]), true
			}
			return "", false
		}},
	}
}

// titleFromPreview pulls a film title out of a social-preview string,
// which is either quoted or phrased as "Review of X by Y".
func titleFromPreview(preview string) (string, bool) {
	if m := quotedTitleRe.FindStringSubmatch(preview); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	if m := reviewOfTitleRe.FindStringSubmatch(preview); m != nil {
		return strings.TrimSpace(stripParenYear(m[1])), true
	}
	return "", false
}

func stripParenYear(s string) string {
	return strings.TrimSpace(parenYearRe.ReplaceAllString(s, ""))
}

func yearStrategies() []strategy {
	return []strategy{
		{"release-year-attribute", func(doc *goquery.Document) (string, bool) {
			return attrValue(doc, "[data-film-release-year]", "data-film-release-year")
		}},
		{"og-title-year", func(doc *goquery.Document) (string, bool) {
			og, ok := attrValue(doc, `meta[property="og:title"]`, "content")
			if !ok {
				return "", false
			}
			return parenYear(og)
		}},
		{"page-title-year", func(doc *goquery.Document) (string, bool) {
			return parenYear(doc.Find("title").First().Text())
		}},
	}
}

func parenYear(s string) (string, bool) {
	if m := parenYearRe.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	return "", false
}

// extractRating reads the rated-N class suffix off the rating element and
// scales the 0-10 integer onto the 0-5 half-star range. A present rated-0
// is a real zero rating, not "no rating".
func extractRating(doc *goquery.Document) (float64, bool) {
	var (
		rating float64
		found  bool
	)
	doc.Find(`[class*="rated-"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		class, _ := sel.Attr("class")
		m := ratedClassRe.FindStringSubmatch(class)
		if m == nil {
			return true
		}
		raw, err := strconv.Atoi(m[1])
		if err != nil || raw < 0 || raw > 10 {
			return true
		}
		rating = float64(raw) / 2
		found = true
		return false
	})
	return rating, found
}

// extractLiked ORs the three independent "liked" indicators.
func extractLiked(doc *goquery.Document) bool {
	return doc.Find(".icon-liked").Length() > 0 ||
		doc.Find(`[data-liked="true"]`).Length() > 0 ||
		doc.Find(".like.liked").Length() > 0
}

// extractSpoiler ORs the four spoiler indicators; the page-text substring
// scan is deliberately last, it is the weakest signal.
func extractSpoiler(doc *goquery.Document) bool {
	if doc.Find(".contains-spoilers").Length() > 0 {
		return true
	}
	if doc.Find(`[data-contains-spoilers="true"]`).Length() > 0 {
		return true
	}
	if doc.Find(".spoiler-warning, .js-spoiler-notice").Length() > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(doc.Text()), "this review may contain spoilers")
}

var reviewBodySelectors = []string{
	".review .body-text p",
	".js-review-body p",
	"div.review-body p",
}

// extractReviewText concatenates paragraph text from the first body
// selector that matches, in document order, joined by blank lines.
func extractReviewText(doc *goquery.Document) (string, bool) {
	for _, selector := range reviewBodySelectors {
		var paragraphs []string
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			if text := strings.TrimSpace(sel.Text()); text != "" {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) > 0 {
			return strings.Join(paragraphs, "\n\n"), true
		}
	}
	if text := strings.TrimSpace(doc.Find(".review .body-text").First().Text()); text != "" {
		return text, true
	}
	return "", false
}

// extractWatchedDate reads the review date and normalizes it to ISO-8601.
func extractWatchedDate(doc *goquery.Document) (string, bool) {
	if dt, ok := attrValue(doc, ".view-date time[datetime], .date time[datetime]", "datetime"); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			return t.Format("2006-01-02"), true
		}
		if t, err := time.Parse("2006-01-02", dt[:min(len(dt), 10)]); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	text, ok := textValue(doc, ".view-date, p.date-links")
	if !ok {
		return "", false
	}
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "Watched"))
	if t, err := time.Parse("2 Jan 2006", text); err == nil {
		return t.Format("2006-01-02"), true
	}
	if t, err := time.Parse("Jan 2, 2006", text); err == nil {
		return t.Format("2006-01-02"), true
	}
	return "", false
}

func authorNameStrategies() []strategy {
	return []strategy{
		{"person-summary", func(doc *goquery.Document) (string, bool) {
			return textValue(doc, ".person-summary .name span, .person-summary .displayname")
		}},
		{"meta-author", func(doc *goquery.Document) (string, bool) {
			return attrValue(doc, `meta[name="author"]`, "content")
		}},
		{"og-title-author", func(doc *goquery.Document) (string, bool) {
			og, ok := attrValue(doc, `meta[property="og:title"]`, "content")
			if !ok {
				return "", false
			}
			if idx := strings.LastIndex(og, " by "); idx >= 0 {
				return strings.TrimSpace(og[idx+4:]), true
			}
			return "", false
		}},
	}
}

func posterStrategies() []strategy {
	return []strategy{
		{"film-poster-img", func(doc *goquery.Document) (string, bool) {
			return attrValue(doc, ".film-poster img", "src")
		}},
		{"poster-url-attribute", func(doc *goquery.Document) (string, bool) {
			return attrValue(doc, "[data-poster-url]", "data-poster-url")
		}},
		{"og-image", func(doc *goquery.Document) (string, bool) {
			return attrValue(doc, `meta[property="og:image"]`, "content")
		}},
	}
}

func avatarStrategies() []strategy {
	return []strategy{
		{"person-avatar", func(doc *goquery.Document) (string, bool) {
			return attrValue(doc, ".person-summary .avatar img", "src")
		}},
		{"generic-avatar", func(doc *goquery.Document) (string, bool) {
			return attrValue(doc, "img.avatar", "src")
		}},
	}
}

var posterCropRe = regexp.MustCompile(`-0-\d+-0-\d+-crop`)

// upgradePosterURL rewrites Letterboxd image-CDN poster URLs to a larger
// fixed crop and forces HTTPS. Other hosts pass through untouched.
func upgradePosterURL(posterURL string) string {
	if !strings.Contains(posterURL, "ltrbxd.com") && !strings.Contains(posterURL, "letterboxd.com") {
		return posterURL
	}
	upgraded := posterCropRe.ReplaceAllString(posterURL, "-0-1000-0-1500-crop")
	if strings.HasPrefix(upgraded, "http://") {
		upgraded = "https://" + strings.TrimPrefix(upgraded, "http://")
	}
	return upgraded
}

func attrValue(doc *goquery.Document, selector, attr string) (string, bool) {
	value, exists := doc.Find(selector).First().Attr(attr)
	value = strings.TrimSpace(value)
	return value, exists && value != ""
}

func textValue(doc *goquery.Document, selector string) (string, bool) {
	value := strings.TrimSpace(doc.Find(selector).First().Text())
	return value, value != ""
}
