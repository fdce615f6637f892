// Package layout builds the self-contained HTML document for a review
// card. The render engine screenshots the element named by
// Document.Selector.
package layout

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/halfbloodedyash/Letterboxd/internal/review"
)

// Version identifies the current template generation and participates in
// the image-cache fingerprint: bump it whenever card markup changes in a
// way that should invalidate cached renders.
const Version = "v2"

// cardSelector is the single element the engine captures.
const cardSelector = "#card"

// Builder renders review metadata into a styled HTML card.
type Builder struct {
	tmpl *template.Template
}

// New parses the card template.
func New() (*Builder, error) {
	tmpl, err := template.New("card").Funcs(template.FuncMap{
		"iterate": func(n int) []int {
			out := make([]int, n)
			for i := range out {
				out[i] = i
			}
			return out
		},
	}).Parse(cardTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse card template: %w", err)
	}
	return &Builder{tmpl: tmpl}, nil
}

type palette struct {
	Background string
	Surface    string
	Text       string
	Muted      string
	Accent     string
}

var palettes = map[string]palette{
	review.StyleDark: {
		Background: "#14181c",
		Surface:    "#1b2228",
		Text:       "#ffffff",
		Muted:      "#99aabb",
		Accent:     "#00e054",
	},
	review.StyleLight: {
		Background: "#f4f4f4",
		Surface:    "#ffffff",
		Text:       "#14181c",
		Muted:      "#667788",
		Accent:     "#00a03e",
	},
}

type cardData struct {
	Meta       review.Metadata
	Palette    palette
	FontScale  int
	FullStars  int
	HalfStar   bool
	Paragraphs []string
	YearText   string

	// Image sources are pre-marked as safe URLs: html/template would
	// otherwise reject the data: scheme used by embedded payloads.
	AvatarSrc template.URL
	PosterSrc template.URL
}

// Build produces the card document for the given metadata and options.
// Options must be normalized and validated by the caller.
func (b *Builder) Build(meta review.Metadata, opts review.StyleOptions) (review.Document, error) {
	p, ok := palettes[opts.Style]
	if !ok {
		return review.Document{}, &review.Error{Code: review.CodeInvalidPreset, Message: "unknown layout style", Detail: opts.Style}
	}

	data := cardData{
		Meta:      meta,
		Palette:   p,
		FontScale: opts.FontScale,
		AvatarSrc: safeImageSrc(meta.AvatarURL),
		PosterSrc: safeImageSrc(meta.PosterURL),
	}
	if meta.HasRating {
		data.FullStars = int(meta.Rating)
		data.HalfStar = meta.Rating-float64(data.FullStars) >= 0.5
	}
	if meta.ReviewText != "" {
		data.Paragraphs = strings.Split(meta.ReviewText, "\n\n")
	}
	if meta.FilmYear > 0 {
		data.YearText = fmt.Sprintf("%d", meta.FilmYear)
	}

	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, data); err != nil {
		return review.Document{}, fmt.Errorf("execute card template: %w", err)
	}
	return review.Document{HTML: sb.String(), Selector: cardSelector}, nil
}

// safeImageSrc admits only the schemes the extractor produces; anything
// else is dropped rather than rendered.
func safeImageSrc(src string) template.URL {
	if strings.HasPrefix(src, "https://") || strings.HasPrefix(src, "http://") ||
		strings.HasPrefix(src, "data:image/") {
		return template.URL(src) //nolint:gosec // scheme-checked above
	}
	return ""
}

const cardTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  html, body {
    width: 100%; height: 100%;
    background: {{.Palette.Background}};
    font-family: "Helvetica Neue", Arial, sans-serif;
    font-size: calc(16px * {{.FontScale}} / 100);
  }
  #card {
    width: 100vw; height: 100vh;
    display: flex; flex-direction: column; justify-content: center;
    background: {{.Palette.Background}};
    color: {{.Palette.Text}};
    padding: 3em;
  }
  .header { display: flex; align-items: center; gap: 1em; margin-bottom: 1.5em; }
  .avatar { width: 3em; height: 3em; border-radius: 50%; object-fit: cover; }
  .byline { color: {{.Palette.Muted}}; font-size: 0.9em; }
  .byline strong { color: {{.Palette.Text}}; }
  .film-row { display: flex; gap: 1.5em; }
  .poster { width: 9em; border-radius: 4px; box-shadow: 0 4px 16px rgba(0,0,0,0.4); }
  .film-title { font-size: 1.8em; font-weight: 700; }
  .film-year { color: {{.Palette.Muted}}; font-weight: 400; }
  .stars { color: {{.Palette.Accent}}; font-size: 1.2em; letter-spacing: 0.1em; margin: 0.4em 0; }
  .liked { color: #ff9010; }
  .watched { color: {{.Palette.Muted}}; font-size: 0.85em; }
  .spoiler-badge {
    display: inline-block; background: #cc3333; color: #fff;
    font-size: 0.7em; font-weight: 700; text-transform: uppercase;
    border-radius: 3px; padding: 0.2em 0.6em; margin: 0.6em 0;
  }
  .review-text {
    background: {{.Palette.Surface}};
    border-radius: 6px; padding: 1.2em; margin-top: 1.2em;
    line-height: 1.5; overflow: hidden;
  }
  .review-text p + p { margin-top: 0.8em; }
</style>
</head>
<body>
<div id="card">
  <div class="header">
    {{if .AvatarSrc}}<img class="avatar" src="{{.AvatarSrc}}">{{end}}
    <div class="byline">Review by <strong>{{.Meta.AuthorName}}</strong> (@{{.Meta.AuthorUsername}})</div>
  </div>
  <div class="film-row">
    {{if .PosterSrc}}<img class="poster" src="{{.PosterSrc}}">{{end}}
    <div>
      <div class="film-title">{{.Meta.FilmTitle}}{{if .YearText}} <span class="film-year">{{.YearText}}</span>{{end}}</div>
      {{if .Meta.HasRating}}<div class="stars">{{range $i := iterate .FullStars}}&#9733;{{end}}{{if .HalfStar}}&frac12;{{end}}{{if .Meta.Liked}} <span class="liked">&#9829;</span>{{end}}</div>{{else if .Meta.Liked}}<div class="stars"><span class="liked">&#9829;</span></div>{{end}}
      {{if .Meta.WatchedDate}}<div class="watched">Watched {{.Meta.WatchedDate}}</div>{{end}}
      {{if .Meta.Spoiler}}<div><span class="spoiler-badge">Contains spoilers</span></div>{{end}}
    </div>
  </div>
  {{if .Paragraphs}}<div class="review-text">{{range .Paragraphs}}<p>{{.}}</p>{{end}}</div>{{end}}
</div>
</body>
</html>`
