package scraper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"boardwatch/scraper-engine/internal/scraper"
)

func TestRateLimiter_BurstThenTimeout(t *testing.T) {
	rl := scraper.NewRateLimiter()
	rl.Configure("jobs.acme.test", 1) // burst of 1, refill 1/min

	ctx := context.Background()
	if err := rl.Acquire(ctx, "jobs.acme.test", 50*time.Millisecond); err != nil {
		t.Fatalf("first token: %v", err)
	}

	start := time.Now()
	err := rl.Acquire(ctx, "jobs.acme.test", 30*time.Millisecond)
	if !errors.Is(err, scraper.ErrRateLimitTimeout) {
		t.Fatalf("second token error = %v, want ErrRateLimitTimeout", err)
	}
	// The limiter must report the timeout promptly, not sit out the refill.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Acquire took %v, want a prompt timeout", elapsed)
	}
}

func TestRateLimiter_DomainsAreIndependent(t *testing.T) {
	rl := scraper.NewRateLimiter()
	rl.Configure("a.test", 1)
	rl.Configure("b.test", 1)

	ctx := context.Background()
	if err := rl.Acquire(ctx, "a.test", 50*time.Millisecond); err != nil {
		t.Fatalf("a.test: %v", err)
	}
	// Draining a.test's bucket must not affect b.test.
	if err := rl.Acquire(ctx, "b.test", 50*time.Millisecond); err != nil {
		t.Errorf("b.test: %v", err)
	}
}

func TestRateLimiter_CanceledContextIsNotATimeout(t *testing.T) {
	rl := scraper.NewRateLimiter()
	rl.Configure("a.test", 1)
	rl.Acquire(context.Background(), "a.test", 50*time.Millisecond) // drain

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rl.Acquire(ctx, "a.test", time.Minute)
	if err == nil || errors.Is(err, scraper.ErrRateLimitTimeout) {
		t.Errorf("error = %v, want the caller's cancellation, not a rate limit timeout", err)
	}
}

func TestRateLimiter_ReconfigureRaisesBudget(t *testing.T) {
	rl := scraper.NewRateLimiter()
	rl.Configure("a.test", 1)

	ctx := context.Background()
	rl.Acquire(ctx, "a.test", 50*time.Millisecond) // bucket now empty

	rl.Configure("a.test", 600) // schedule config raised the budget
	if err := rl.Acquire(ctx, "a.test", 500*time.Millisecond); err != nil {
		t.Errorf("after raising the budget: %v", err)
	}
}

func TestDomain(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://Jobs.Acme.Test/listings?page=2", "jobs.acme.test"},
		{"http://a.test:8080/feed.xml", "a.test"},
		{"not a url at all\x7f", ""},
	}
	for _, c := range cases {
		if got := scraper.Domain(c.url); got != c.want {
			t.Errorf("Domain(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}
