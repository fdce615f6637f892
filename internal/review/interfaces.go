package review

import "context"

// Normalizer validates a raw link and resolves it to its canonical form.
type Normalizer interface {
	Normalize(ctx context.Context, raw string) (string, error)
}

// Extractor fetches a canonical review URL and derives its metadata.
type Extractor interface {
	Extract(ctx context.Context, canonicalURL string) (Metadata, error)
}

// Renderer turns a generated document into a raster image at the given
// pixel size.
type Renderer interface {
	Render(ctx context.Context, doc Document, width, height int) ([]byte, error)
	Health(ctx context.Context) HealthStatus
}

// LayoutBuilder produces the visual document for a review card.
type LayoutBuilder interface {
	Build(meta Metadata, opts StyleOptions) (Document, error)
}
