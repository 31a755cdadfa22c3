// Package scraper implements the per-URL ingestion pipeline: rate limiting,
// fetching, extraction, deduplication and normalization.
package scraper

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimitTimeout is returned when no token becomes available within the
// caller's timeout. It is scoped to one scrape run — the job moves on to the
// next target.
var ErrRateLimitTimeout = errors.New("rate limit: timed out waiting for token")

const defaultRatePerMin = 30

// RateLimiter keeps one token bucket per domain, shared across all jobs
// touching that domain. Refill is perMin/60 tokens per second with burst
// capacity perMin.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	perMin  map[string]int
}

// NewRateLimiter returns an empty limiter. Domains are configured lazily via
// Configure and fall back to defaultRatePerMin otherwise.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*rate.Limiter),
		perMin:  make(map[string]int),
	}
}

// Configure sets the per-minute budget for a domain. An existing bucket is
// updated in place so in-flight waiters see the new rate.
func (rl *RateLimiter) Configure(domain string, perMin int) {
	if perMin < 1 {
		perMin = defaultRatePerMin
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.perMin[domain] = perMin
	if b, ok := rl.buckets[domain]; ok {
		b.SetLimit(rate.Limit(float64(perMin) / 60))
		b.SetBurst(perMin)
	}
}

// Acquire blocks until a token for the domain is available or timeout
// elapses, in which case it returns ErrRateLimitTimeout.
func (rl *RateLimiter) Acquire(ctx context.Context, domain string, timeout time.Duration) error {
	bucket := rl.bucket(domain)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := bucket.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return err // caller canceled or job deadline hit
		}
		return ErrRateLimitTimeout
	}
	return nil
}

func (rl *RateLimiter) bucket(domain string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if b, ok := rl.buckets[domain]; ok {
		return b
	}
	perMin, ok := rl.perMin[domain]
	if !ok {
		perMin = defaultRatePerMin
	}
	b := rate.NewLimiter(rate.Limit(float64(perMin)/60), perMin)
	rl.buckets[domain] = b
	return b
}

// Domain extracts the bucket key from a URL: the lowercased hostname without
// port. Unparseable URLs share the "" bucket rather than failing.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
