// Package review defines core types shared across subsystems.
package review

import "time"

// Metadata captures everything extracted from a single review page.
// SourceURL is the canonical review URL the fields came from; it anchors
// the image-cache fingerprint for session-based re-renders.
type Metadata struct {
	SourceURL      string  `json:"source_url"`
	FilmTitle      string  `json:"film_title"`
	FilmYear       int     `json:"film_year,omitempty"`
	AuthorName     string  `json:"author_name"`
	AuthorUsername string  `json:"author_username"`
	AvatarURL      string  `json:"avatar_url,omitempty"`
	Rating         float64 `json:"rating,omitempty"`
	HasRating      bool    `json:"has_rating"`
	Liked          bool    `json:"liked"`
	WatchedDate    string  `json:"watched_date,omitempty"`
	ReviewText     string  `json:"review_text,omitempty"`
	Spoiler        bool    `json:"spoiler"`
	PosterURL      string  `json:"poster_url,omitempty"`
}

// HasPoster reports whether a poster image (remote or embedded) is available.
func (m Metadata) HasPoster() bool {
	return m.PosterURL != ""
}

// Summary is the session-creation response shape. It never carries
// embedded image payloads, only the poster presence flag.
type Summary struct {
	SessionID      string `json:"session_id"`
	FilmTitle      string `json:"film_title"`
	FilmYear       int    `json:"film_year,omitempty"`
	AuthorUsername string `json:"author_username"`
	HasPoster      bool   `json:"has_poster"`
}

// Preset names a fixed output pixel geometry.
type Preset string

// Supported size presets.
const (
	PresetSquare    Preset = "square"
	PresetPortrait  Preset = "portrait"
	PresetLandscape Preset = "landscape"
)

// Dimensions returns the pixel width and height for the preset.
// Unknown presets return (0, 0).
func (p Preset) Dimensions() (width, height int) {
	switch p {
	case PresetSquare:
		return 1080, 1080
	case PresetPortrait:
		return 1080, 1920
	case PresetLandscape:
		return 1200, 630
	default:
		return 0, 0
	}
}

// Layout style variants.
const (
	StyleDark  = "dark"
	StyleLight = "light"
)

// Font scale bounds, percent.
const (
	MinFontScale     = 50
	MaxFontScale     = 150
	DefaultFontScale = 100
)

// StyleOptions are the cosmetic knobs of a render request. All fields
// participate in the image-cache fingerprint.
type StyleOptions struct {
	Preset          Preset `json:"preset"`
	FontScale       int    `json:"font_scale"`
	Style           string `json:"style"`
	TemplateVersion string `json:"template_version"`
}

// Normalized fills defaults for zero-valued fields and returns the result.
func (o StyleOptions) Normalized(templateVersion string) StyleOptions {
	if o.Preset == "" {
		o.Preset = PresetSquare
	}
	if o.FontScale == 0 {
		o.FontScale = DefaultFontScale
	}
	if o.Style == "" {
		o.Style = StyleDark
	}
	if o.TemplateVersion == "" {
		o.TemplateVersion = templateVersion
	}
	return o
}

// Validate checks the option domains after normalization.
func (o StyleOptions) Validate() error {
	if w, h := o.Preset.Dimensions(); w == 0 || h == 0 {
		return &Error{Code: CodeInvalidPreset, Message: "unknown size preset", Detail: string(o.Preset)}
	}
	if o.FontScale < MinFontScale || o.FontScale > MaxFontScale {
		return &Error{Code: CodeInvalidPreset, Message: "font scale outside 50-150"}
	}
	if o.Style != StyleDark && o.Style != StyleLight {
		return &Error{Code: CodeInvalidPreset, Message: "unknown layout style", Detail: o.Style}
	}
	return nil
}

// RenderRequest is accepted by the orchestration layer. Exactly one of
// URL or SessionID must be set.
type RenderRequest struct {
	URL       string       `json:"url,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Options   StyleOptions `json:"options"`
}

// RenderResult carries the finished PNG and whether it came from cache.
type RenderResult struct {
	PNG      []byte
	CacheHit bool
}

// Document is a generated visual layout handed to the render engine.
// Selector designates the single element to screenshot.
type Document struct {
	HTML     string
	Selector string
}

// HealthStatus reports render engine connectivity.
type HealthStatus string

// Health states surfaced by the health check.
const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
