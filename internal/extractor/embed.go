package extractor

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxEmbeddedImageBytes caps supplementary downloads; anything larger is
// left as a remote URL.
const maxEmbeddedImageBytes = 8 << 20

// ImageEmbedder downloads supplementary images (posters, avatars) and
// inlines them as data: URIs. Every failure is reported as (value, false)
// so callers choose the fallback explicitly.
type ImageEmbedder struct {
	client     *http.Client
	limiter    *rate.Limiter
	userAgent  string
	maxRetries uint64
	retryDelay time.Duration
	logger     *zap.Logger
}

// EmbedderConfig controls supplementary image fetching.
type EmbedderConfig struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries uint64
	RetryDelay time.Duration
	QPS        float64
}

// NewImageEmbedder builds an ImageEmbedder. QPS <= 0 disables the
// politeness limiter.
func NewImageEmbedder(cfg EmbedderConfig, logger *zap.Logger) *ImageEmbedder {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = 500 * time.Millisecond
	}
	return &ImageEmbedder{
		client:     &http.Client{Timeout: timeout},
		limiter:    limiter,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Embed fetches imageURL and returns it as a data: URI. Values that are
// already embedded pass through unchanged, preserving the never-refetch
// invariant for metadata instances.
func (e *ImageEmbedder) Embed(ctx context.Context, imageURL string) (string, bool) {
	if imageURL == "" {
		return "", false
	}
	if strings.HasPrefix(imageURL, "data:") {
		return imageURL, true
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", false
		}
	}

	var (
		body        []byte
		contentType string
	)
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		if e.userAgent != "" {
			req.Header.Set("User-Agent", e.userAgent)
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // read fully below

		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("image fetch status %d", resp.StatusCode))
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxEmbeddedImageBytes+1))
		if err != nil {
			return fmt.Errorf("read image body: %w", err)
		}
		if len(body) > maxEmbeddedImageBytes {
			return backoff.Permanent(fmt.Errorf("image exceeds %d bytes", maxEmbeddedImageBytes))
		}
		contentType = resp.Header.Get("Content-Type")
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.retryDelay), e.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		e.logger.Debug("image embed failed", zap.String("url", imageURL), zap.Error(err))
		return "", false
	}

	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(body)
	}
	encoded := base64.StdEncoding.EncodeToString(body)
	return fmt.Sprintf("data:%s;base64,%s", contentType, encoded), true
}
