package scraper

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// FetchError kinds.
const (
	FetchTimeout    = "timeout"
	FetchHTTPStatus = "http_status"
	FetchNetwork    = "network"
)

// FetchError describes a failed fetch. Scoped to one scrape run; never
// aborts the whole job.
type FetchError struct {
	Kind   string // timeout | http_status | network
	Status int    // set for http_status
	Err    error

	retryAfter time.Duration // parsed Retry-After, consulted between attempts
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPStatus {
		return fmt.Sprintf("fetch: http status %d", e.Status)
	}
	return "fetch " + e.Kind + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

const (
	maxAttempts     = 3
	backoffBase     = 500 * time.Millisecond
	maxResponseSize = 10 << 20 // 10 MiB, enough for any listing page or feed
)

// FetchResult carries the raw response plus the HTTP metadata recorded on
// the scrape run.
type FetchResult struct {
	Body        []byte
	Status      int
	ContentType string
}

// Fetcher retrieves board content over HTTP with bounded retries.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewFetcher constructs a Fetcher with a shared HTTP client and per-request
// timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Fetch issues a GET for url, retrying transient failures (network errors,
// 5xx, 429) up to maxAttempts with exponential backoff plus jitter. 4xx
// other than 429 fails immediately. Retry-After is honored when it exceeds
// the computed backoff.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	var lastErr *FetchError

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt, lastErr)
			log.Printf("[fetcher] Retry %d for %s in %s (%v)", attempt, url, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &FetchError{Kind: FetchTimeout, Err: ctx.Err()}
			}
		}

		result, ferr := f.fetchOnce(ctx, url)
		if ferr == nil {
			return result, nil
		}
		lastErr = ferr
		if !retryable(ferr) {
			break
		}
	}

	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (*FetchResult, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchNetwork, Err: err}
	}
	req.Header.Set("User-Agent", "boardwatch-scraper/1.0")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, text/html, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		kind := FetchNetwork
		if ctx.Err() != nil || isTimeout(err) {
			kind = FetchTimeout
		}
		return nil, &FetchError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &FetchError{Kind: FetchNetwork, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ferr := &FetchError{Kind: FetchHTTPStatus, Status: resp.StatusCode}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, convErr := strconv.Atoi(ra); convErr == nil && secs > 0 {
				ferr.Err = fmt.Errorf("retry-after %ds", secs)
				ferr.retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, ferr
	}

	return &FetchResult{
		Body:        body,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func retryable(e *FetchError) bool {
	switch e.Kind {
	case FetchNetwork, FetchTimeout:
		return true
	case FetchHTTPStatus:
		return e.Status >= 500 || e.Status == http.StatusTooManyRequests
	}
	return false
}

// retryDelay computes base * 2^(attempt-1) with ±50% jitter, bumped up to
// the server's Retry-After when that is larger.
func retryDelay(attempt int, last *FetchError) time.Duration {
	delay := backoffBase * (1 << (attempt - 1))
	jitter := time.Duration(rand.Int63n(int64(delay))) - delay/2
	delay += jitter

	if last != nil && last.retryAfter > delay {
		delay = last.retryAfter
	}
	return delay
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeouter); ok && t.Timeout() {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return false
}
