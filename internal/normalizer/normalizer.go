// Package normalizer validates review links and resolves them to their
// canonical form.
package normalizer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/halfbloodedyash/Letterboxd/internal/review"
)

const (
	canonicalHost = "letterboxd.com"
	shortLinkHost = "boxd.it"

	maxRedirectHops = 4
	resolveTimeout  = 5 * time.Second
)

// reviewMarkerSegment is the fixed path segment identifying a film review
// resource: /{member}/film/{slug}[/...].
const reviewMarkerSegment = "film"

// Normalizer canonicalizes input links. Resolving a short link is the
// only network call it ever makes.
type Normalizer struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithHTTPClient overrides the redirect-following client (for testing).
func WithHTTPClient(client *http.Client) Option {
	return func(n *Normalizer) {
		n.client = client
	}
}

// WithUserAgent sets the User-Agent sent when resolving short links.
func WithUserAgent(ua string) Option {
	return func(n *Normalizer) {
		n.userAgent = ua
	}
}

// New builds a Normalizer.
func New(logger *zap.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		client: &http.Client{
			Timeout: resolveTimeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirectHops {
					return fmt.Errorf("stopped after %d redirects", maxRedirectHops)
				}
				return nil
			},
		},
		userAgent: "review-card-bot/0.1",
		logger:    logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates raw and returns the canonical review URL.
// Canonical output is idempotent: feeding it back in returns it unchanged.
func (n *Normalizer) Normalize(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", review.NewError(review.CodeEmptyURL, "url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", review.WrapError(review.CodeInvalidURLFormat, "malformed url", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", &review.Error{Code: review.CodeInvalidProtocol, Message: "only http and https are supported", Detail: u.Scheme}
	}
	if u.Host == "" {
		return "", review.NewError(review.CodeInvalidURLFormat, "url has no host")
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == shortLinkHost || host == "www."+shortLinkHost:
		resolved, err := n.resolveShortLink(ctx, u)
		if err != nil {
			return "", err
		}
		u = resolved
	case host == canonicalHost || strings.HasSuffix(host, "."+canonicalHost):
	default:
		return "", &review.Error{Code: review.CodeInvalidDomain, Message: "host is not letterboxd.com or boxd.it", Detail: host}
	}

	canonical, err := canonicalize(u)
	if err != nil {
		return "", err
	}
	return canonical, nil
}

// resolveShortLink follows boxd.it redirects and verifies the chain lands
// on the canonical domain.
func (n *Normalizer) resolveShortLink(ctx context.Context, u *url.URL) (*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, review.WrapError(review.CodeRedirectFailed, "build short link request", err)
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, review.WrapError(review.CodeRedirectFailed, "resolve short link", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body is unused

	final := resp.Request.URL
	host := strings.ToLower(final.Hostname())
	if host != canonicalHost && !strings.HasSuffix(host, "."+canonicalHost) {
		n.logger.Debug("short link escaped canonical domain", zap.String("final_url", final.String()))
		return nil, &review.Error{Code: review.CodeInvalidRedirect, Message: "short link did not resolve to letterboxd.com", Detail: final.String()}
	}
	return final, nil
}

// canonicalize lowercases scheme and host, forces https, strips query,
// fragment and default ports, and requires the review path shape.
func canonicalize(u *url.URL) (string, error) {
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	path := strings.Trim(u.EscapedPath(), "/")
	segments := []string{}
	if path != "" {
		segments = strings.Split(path, "/")
	}
	if len(segments) < 3 || segments[1] != reviewMarkerSegment {
		return "", &review.Error{Code: review.CodeNotReviewURL, Message: "url does not point at a film review", Detail: "/" + path}
	}

	return "https://" + host + "/" + path + "/", nil
}
