package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mentora-app/mentora/internal/pkg/billing"
	"github.com/mentora-app/mentora/internal/pkg/metrics/counter"
)

// HandleAdminSubscriptionDetail returns the merged local/provider view of a
// subscription. The local record is authoritative; provider data is best
// effort and its absence is reported, not fatal.
func HandleAdminSubscriptionDetail(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_subscription_id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	detail, err := getBillingService().GetAdminSubscriptionDetail(ctx, id)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "subscription_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_lookup_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(detail)
}

// HandleAdminWebhookStats returns the webhook delivery counters.
func HandleAdminWebhookStats(c *fiber.Ctx) error {
	processed, ignored, failed, err := counter.WebhookStats()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"processed": processed,
		"ignored":   ignored,
		"failed":    failed,
	})
}
