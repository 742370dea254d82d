package counter

import (
	"context"
	"strconv"

	"github.com/mentora-app/mentora/internal/pkg/cache"
)

const (
	webhookProcessedKey = "billing:counters:webhooks:processed"
	webhookIgnoredKey   = "billing:counters:webhooks:ignored"
	webhookFailedKey    = "billing:counters:webhooks:failed"
	webhookRejectedKey  = "billing:counters:webhooks:rejected"
)

// AddWebhookProcessed increments the processed counter for an event type in Redis
func AddWebhookProcessed(eventType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookProcessedKey, eventType, 1).Err()
}

// AddWebhookIgnored increments the ignored counter for an event type in Redis
func AddWebhookIgnored(eventType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookIgnoredKey, eventType, 1).Err()
}

// AddWebhookFailed increments the failed counter for an event type in Redis
func AddWebhookFailed(eventType string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookFailedKey, eventType, 1).Err()
}

// AddWebhookRejected increments the counter for deliveries that failed
// signature verification. No event type is known at that point.
func AddWebhookRejected() error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookRejectedKey, "rejected", 1).Err()
}

// WebhookStats returns the per-event-type counters for the admin dashboard.
func WebhookStats() (processed, ignored, failed map[string]int64, err error) {
	ctx := context.Background()

	processed, err = readHash(ctx, webhookProcessedKey)
	if err != nil {
		return nil, nil, nil, err
	}
	ignored, err = readHash(ctx, webhookIgnoredKey)
	if err != nil {
		return nil, nil, nil, err
	}
	failed, err = readHash(ctx, webhookFailedKey)
	if err != nil {
		return nil, nil, nil, err
	}
	return processed, ignored, failed, nil
}

func readHash(ctx context.Context, key string) (map[string]int64, error) {
	data, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			out[k] = n
		}
	}
	return out, nil
}
