package cache

import (
	"fmt"
	"time"

	"github.com/halfbloodedyash/Letterboxd/internal/review"
)

// SessionStore maps opaque session tokens to extracted metadata so
// cosmetic re-renders skip the network entirely.
type SessionStore struct {
	cache *Cache[review.Metadata]
	idGen review.IDGenerator
}

// NewSessionStore builds a SessionStore over a bounded TTL cache.
func NewSessionStore(capacity int, ttl, sweepInterval time.Duration, clock review.Clock, idGen review.IDGenerator) *SessionStore {
	return &SessionStore{
		cache: New[review.Metadata]("session", capacity, ttl, sweepInterval, clock),
		idGen: idGen,
	}
}

// Put stores metadata under a freshly issued session ID and returns the ID.
// IDs are never reused.
func (s *SessionStore) Put(meta review.Metadata) (string, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("issue session id: %w", err)
	}
	s.cache.Put(id, meta)
	return id, nil
}

// Get returns the metadata for a session token, or a coded error telling
// the caller to re-fetch.
func (s *SessionStore) Get(id string) (review.Metadata, error) {
	meta, result := s.cache.Get(id)
	switch result {
	case Hit:
		return meta, nil
	case Expired:
		return review.Metadata{}, review.NewError(review.CodeSessionExpired, "session expired, fetch metadata again")
	default:
		return review.Metadata{}, review.NewError(review.CodeMissingSession, "unknown session id")
	}
}

// Close stops the underlying sweeper.
func (s *SessionStore) Close() {
	s.cache.Close()
}
