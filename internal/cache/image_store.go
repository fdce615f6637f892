package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/halfbloodedyash/Letterboxd/internal/review"
)

// ImageStore holds rendered PNGs keyed by a deterministic fingerprint of
// the request-defining fields, so identical requests always collide.
type ImageStore struct {
	cache *Cache[[]byte]
}

// NewImageStore builds an ImageStore over a bounded TTL cache.
func NewImageStore(capacity int, ttl, sweepInterval time.Duration, clock review.Clock) *ImageStore {
	return &ImageStore{
		cache: New[[]byte]("image", capacity, ttl, sweepInterval, clock),
	}
}

// Fingerprint derives the cache key from the normalized source URL and
// every style field, insertion-order independent by construction.
func Fingerprint(normalizedURL string, opts review.StyleOptions) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s|%s",
		normalizedURL, opts.Preset, opts.FontScale, opts.Style, opts.TemplateVersion))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached PNG for the fingerprint, if still live.
func (s *ImageStore) Get(fingerprint string) ([]byte, bool) {
	png, result := s.cache.Get(fingerprint)
	return png, result == Hit
}

// Put stores a freshly rendered PNG under its fingerprint.
func (s *ImageStore) Put(fingerprint string, png []byte) {
	s.cache.Put(fingerprint, png)
}

// Close stops the underlying sweeper.
func (s *ImageStore) Close() {
	s.cache.Close()
}
