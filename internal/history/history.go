// Package history persists a record of each render for later
// inspection. Recording is best effort: storage failures are logged by
// callers and never fail a render.
package history

import (
	"context"
	"time"
)

// RenderRecord is one completed (or failed) render.
type RenderRecord struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	FilmTitle  string    `json:"film_title"`
	Preset     string    `json:"preset"`
	Style      string    `json:"style"`
	FontScale  int       `json:"font_scale"`
	CacheHit   bool      `json:"cache_hit"`
	DurationMS int64     `json:"duration_ms"`
	ImageBytes int       `json:"image_bytes"`
	ErrorCode  string    `json:"error_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store records renders and serves the recent-render listing.
type Store interface {
	RecordRender(ctx context.Context, record RenderRecord) error
	RecentRenders(ctx context.Context, limit int) ([]RenderRecord, error)
	Close()
}

// Noop discards all records. Used when no database is configured.
type Noop struct{}

// NewNoop returns a Store that keeps nothing.
func NewNoop() *Noop { return &Noop{} }

func (*Noop) RecordRender(context.Context, RenderRecord) error { return nil }

func (*Noop) RecentRenders(context.Context, int) ([]RenderRecord, error) { return nil, nil }

func (*Noop) Close() {}
