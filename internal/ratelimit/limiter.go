// Package ratelimit provides a fixed-window in-memory rate limiter
// keyed by client IP, applied to the card-producing endpoints.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/halfbloodedyash/Letterboxd/internal/review"
	"github.com/halfbloodedyash/Letterboxd/internal/telemetry"
)

// Limiter tracks per-client request counts inside fixed windows.
type Limiter struct {
	clock    review.Clock
	clients  map[string]*clientWindow
	requests int
	window   time.Duration
	mu       sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
}

type clientWindow struct {
	resetAt time.Time
	count   int
}

// New builds a limiter allowing requests per window for each client and
// starts the background cleanup of expired windows.
func New(requests int, window time.Duration, clock review.Clock) *Limiter {
	l := &Limiter{
		clock:    clock,
		clients:  make(map[string]*clientWindow),
		requests: requests,
		window:   window,
		stop:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow records one request for clientID. When the window is exhausted
// it returns false together with the seconds until the window resets.
func (l *Limiter) Allow(clientID string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	client, exists := l.clients[clientID]
	if !exists || now.After(client.resetAt) {
		l.clients[clientID] = &clientWindow{
			count:   1,
			resetAt: now.Add(l.window),
		}
		return true, 0
	}

	if client.count < l.requests {
		client.count++
		return true, 0
	}

	retryAfter := int(client.resetAt.Sub(now).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.clock.Now()
			for clientID, client := range l.clients {
				if now.After(client.resetAt) {
					delete(l.clients, clientID)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Middleware rejects over-limit clients with the standard error
// envelope and a Retry-After header.
func (l *Limiter) Middleware(logger *zap.Logger, writeError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ClientIP(r)
			allowed, retryAfter := l.Allow(clientID)
			if !allowed {
				telemetry.ObserveRateLimitRejection()
				logger.Warn("rate limit exceeded",
					zap.String("client", clientID),
					zap.Int("retry_after", retryAfter),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, r, review.NewError(review.CodeRateLimited, "too many requests, slow down"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP identifies the caller, preferring proxy headers over the
// socket address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return host
}
