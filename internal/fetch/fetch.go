// Package fetch pulls raw comparison pages from the regulator's portal.
// The portal is untrusted input: it can serve malformed markup, errors, or
// nothing at all, and none of that is fatal to a run.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ohio-rate-watch/internal/model"
	"ohio-rate-watch/internal/territory"
)

// PageFetcher retrieves raw page content for one comparison page.
type PageFetcher interface {
	FetchPage(ctx context.Context, key model.PageKey, terr territory.Territory) ([]byte, error)
}

// Options parameterise the HTTP fetcher.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// MinDelay is the minimum spacing between requests; politeness toward
	// a source we have no SLA with.
	MinDelay time.Duration
}

// HTTPFetcher fetches portal pages over HTTP with a per-request timeout and
// request spacing.
type HTTPFetcher struct {
	opts    Options
	client  *http.Client
	logger  zerolog.Logger
	baseURL string

	mu       sync.Mutex
	lastSent time.Time
}

// New constructs an HTTPFetcher.
func New(opts Options, logger zerolog.Logger) *HTTPFetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")

	return &HTTPFetcher{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "page_fetcher").Logger(),
		baseURL: baseURL,
	}
}

// FetchPage retrieves one page. The portal addresses pages by PUCO
// territory code and rate-class code.
func (f *HTTPFetcher) FetchPage(ctx context.Context, key model.PageKey, terr territory.Territory) ([]byte, error) {
	if f.baseURL == "" {
		return nil, fmt.Errorf("fetch.base_url not configured")
	}

	if err := f.waitPoliteness(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s?%s", f.baseURL, string(key.Category), url.Values{
		"territory": {terr.PUCOCode},
		"rateclass": {string(key.RateClass)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xml")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "ratewatch/1.0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: portal returned %d", key, resp.StatusCode)
	}

	f.logger.Debug().Str("page", key.String()).Int("bytes", len(body)).Msg("page fetched")
	return body, nil
}

// waitPoliteness enforces the minimum inter-request delay.
func (f *HTTPFetcher) waitPoliteness(ctx context.Context) error {
	if f.opts.MinDelay <= 0 {
		return nil
	}

	f.mu.Lock()
	wait := f.opts.MinDelay - time.Since(f.lastSent)
	if wait < 0 {
		wait = 0
	}
	f.lastSent = time.Now().Add(wait)
	f.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ PageFetcher = (*HTTPFetcher)(nil)
