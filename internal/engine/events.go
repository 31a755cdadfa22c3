package engine

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// eventChannel is the Redis pub/sub channel carrying job status transitions
// for the admin application's live views.
const eventChannel = "EVENT_SCRAPE_JOB"

// Events publishes job lifecycle transitions to Redis. Publishing is always
// non-fatal: a down broker costs the live view, never the scrape.
type Events struct {
	rdb *redis.Client
}

// NewEvents constructs an Events publisher. rdb may be nil (publishing off).
func NewEvents(rdb *redis.Client) *Events {
	return &Events{rdb: rdb}
}

// Publish emits a status transition event for a job.
func (e *Events) Publish(ctx context.Context, jobID string, from, to Status) {
	if e == nil || e.rdb == nil {
		return
	}
	event, _ := json.Marshal(map[string]string{
		"jobId": jobID,
		"from":  string(from),
		"to":    string(to),
		"at":    time.Now().UTC().Format(time.RFC3339),
	})
	if err := e.rdb.Publish(ctx, eventChannel, event).Err(); err != nil {
		log.Printf("[engine] publish %s failed: %v", eventChannel, err)
	}
}
