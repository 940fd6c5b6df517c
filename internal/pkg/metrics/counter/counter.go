package counter

import (
	"context"

	"github.com/DanielKirsch/Faktura/internal/pkg/cache"
)

const webhookOutcomesKey = "billing:counters:webhook_outcomes"

// AddWebhookOutcome increments the counter for a reducer outcome
// (applied, stale, ignored, orphaned, duplicate, rejected) in Redis.
func AddWebhookOutcome(outcome string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// WebhookOutcomeTotals returns the accumulated per-outcome webhook counters.
func WebhookOutcomeTotals() (map[string]string, error) {
	ctx := context.Background()
	return cache.GetClient().HGetAll(ctx, webhookOutcomesKey).Result()
}
