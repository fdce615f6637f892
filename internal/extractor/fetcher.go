// Package extractor fetches review pages and derives structured metadata
// through ordered cascades of selector strategies.
package extractor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/halfbloodedyash/Letterboxd/internal/review"
)

// FetcherConfig controls collector behavior.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// PageFetcher retrieves review pages using a Colly collector, cloned per
// request so concurrent fetches never share hook state.
type PageFetcher struct {
	cfg           FetcherConfig
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// NewPageFetcher builds a PageFetcher.
func NewPageFetcher(cfg FetcherConfig) *PageFetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
	)
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &PageFetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// FetchPage executes a single HTTP GET and returns the page body.
// Failures carry the upstream error codes: 403 maps to ACCESS_DENIED,
// 404 to NOT_FOUND, other statuses to HTTP_ERROR and transport errors
// to FETCH_FAILED.
func (f *PageFetcher) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	var (
		body       []byte
		statusCode int
		fetchErr   error
	)

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return nil, review.WrapError(review.CodeFetchFailed, "fetch canceled", ctx.Err())
	case err := <-done:
		if err == nil && fetchErr == nil {
			return body, nil
		}
		if fetchErr == nil {
			fetchErr = err
		}
	}

	cause := fetchErr
	switch statusCode {
	case http.StatusForbidden:
		return nil, review.WrapError(review.CodeAccessDenied, "review page refused the request", cause)
	case http.StatusNotFound:
		return nil, review.WrapError(review.CodeNotFound, "review page not found", cause)
	case 0:
		return nil, review.WrapError(review.CodeFetchFailed, "fetch review page", cause)
	default:
		return nil, &review.Error{
			Code:    review.CodeHTTPError,
			Message: "review page returned an error status",
			Detail:  fmt.Sprintf("status %d", statusCode),
			Err:     cause,
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
