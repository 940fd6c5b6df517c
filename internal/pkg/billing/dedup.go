package billing

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DanielKirsch/Faktura/internal/pkg/cache"
)

// dedupWindow is how long a processed event id stays in the Redis fast path.
// The provider retries failed deliveries for days, but retries of an already
// acknowledged delivery cluster within minutes; anything older falls through
// to the unique index on billing_webhook_events.
const dedupWindow = 24 * time.Hour

const dedupKeyPrefix = "billing:webhook:event:"

// eventSeen reports whether the event id is recorded as fully processed in
// the dedup window. Redis being unreachable degrades to "not seen"; the
// durable unique-index dedup still holds.
func eventSeen(ctx context.Context, eventID string) bool {
	if _, err := cache.Get(dedupKeyPrefix + eventID); err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("billing: event dedup cache unavailable: %v", err)
		}
		return false
	}
	return true
}

// rememberEvent records the event id once processing finished, so provider
// retries can be acknowledged without touching the database. The key must
// never be written earlier: a delivery that failed mid-transaction depends on
// the provider's retry reaching the reducer again.
func rememberEvent(ctx context.Context, eventID string) {
	if _, err := cache.SetNX(ctx, dedupKeyPrefix+eventID, "1", dedupWindow); err != nil {
		log.Printf("billing: event dedup cache unavailable: %v", err)
	}
}
