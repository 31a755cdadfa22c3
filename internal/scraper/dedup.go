package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// dedupKeyTTL bounds how long a checksum stays in the Redis fast path. The
// raw_jobs unique index remains the authority; the cache only saves round
// trips for recently seen postings.
const dedupKeyTTL = 14 * 24 * time.Hour

// Checksum computes the content-addressing key for a candidate: SHA-256 over
// the normalized (source_url, title, company) tuple. Normalization trims
// whitespace and lower-cases, so cosmetic differences in re-scraped content
// do not produce spurious duplicates.
func Checksum(sourceURL, title, company string) string {
	h := sha256.New()
	h.Write([]byte(normalizeForHash(sourceURL)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeForHash(title)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeForHash(company)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeForHash(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Deduplicator short-circuits checksums seen recently. It is an optimization
// in front of the storage unique constraint, never a correctness layer: when
// Redis is unavailable every checksum reports unseen and the DB insert
// decides.
type Deduplicator struct {
	rdb *redis.Client
}

// NewDeduplicator constructs a Deduplicator. rdb may be nil (fast path off).
func NewDeduplicator(rdb *redis.Client) *Deduplicator {
	return &Deduplicator{rdb: rdb}
}

// SeenRecently reports whether the checksum hit the fast-path cache. Cache
// errors degrade to "not seen". It is a pure read: only MarkSeen writes the
// cache, after storage has accepted the posting, so a failed insert can
// never leave a phantom entry that masks the posting on a retry.
func (d *Deduplicator) SeenRecently(ctx context.Context, checksum string) bool {
	if d.rdb == nil {
		return false
	}
	n, err := d.rdb.Exists(ctx, "dedup:"+checksum).Result()
	if err != nil {
		log.Printf("[dedup] Redis EXISTS failed, falling through to DB: %v", err)
		return false
	}
	return n > 0
}

// MarkSeen records a checksum the storage layer holds. Cache errors are
// logged and dropped; the unique index remains the authority either way.
func (d *Deduplicator) MarkSeen(ctx context.Context, checksum string) {
	if d.rdb == nil {
		return
	}
	if err := d.rdb.Set(ctx, "dedup:"+checksum, 1, dedupKeyTTL).Err(); err != nil {
		log.Printf("[dedup] Redis SET failed: %v", err)
	}
}
