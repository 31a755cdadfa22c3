package scraper_test

import (
	"context"
	"testing"

	"boardwatch/scraper-engine/internal/scraper"
)

// ── Checksum ───────────────────────────────────────────────────────────────

func TestChecksum_IgnoresCaseAndWhitespace(t *testing.T) {
	base := scraper.Checksum("https://a.test/jobs/1", "Backend Engineer", "Acme")
	variants := [][3]string{
		{"https://a.test/jobs/1", "backend engineer", "acme"},
		{"https://a.test/jobs/1", "  Backend Engineer  ", "Acme"},
		{"HTTPS://A.TEST/JOBS/1", "Backend Engineer", " ACME "},
	}
	for _, v := range variants {
		if got := scraper.Checksum(v[0], v[1], v[2]); got != base {
			t.Errorf("Checksum(%q, %q, %q) = %s, want %s (cosmetic differences must collapse)",
				v[0], v[1], v[2], got, base)
		}
	}
}

func TestChecksum_DistinguishesFields(t *testing.T) {
	base := scraper.Checksum("https://a.test/jobs/1", "Backend Engineer", "Acme")
	different := [][3]string{
		{"https://a.test/jobs/2", "Backend Engineer", "Acme"},
		{"https://a.test/jobs/1", "Frontend Engineer", "Acme"},
		{"https://a.test/jobs/1", "Backend Engineer", "Initech"},
	}
	for _, v := range different {
		if got := scraper.Checksum(v[0], v[1], v[2]); got == base {
			t.Errorf("Checksum(%q, %q, %q) must differ from base", v[0], v[1], v[2])
		}
	}
}

// Field boundaries must matter: moving characters between title and company
// must change the hash even when the concatenation is identical.
func TestChecksum_FieldBoundaries(t *testing.T) {
	a := scraper.Checksum("u", "ab", "c")
	b := scraper.Checksum("u", "a", "bc")
	if a == b {
		t.Error("checksums with shifted field boundaries must differ")
	}
}

// ── Deduplicator ───────────────────────────────────────────────────────────

func TestDeduplicator_NilClientNeverSeen(t *testing.T) {
	d := scraper.NewDeduplicator(nil)
	checksum := scraper.Checksum("https://a.test/jobs/1", "Backend Engineer", "Acme")
	// MarkSeen must be a no-op without a cache, and SeenRecently must keep
	// reporting unseen; the DB insert decides.
	d.MarkSeen(context.Background(), checksum)
	for i := 0; i < 2; i++ {
		if d.SeenRecently(context.Background(), checksum) {
			t.Error("with no cache every checksum must report unseen")
		}
	}
}
