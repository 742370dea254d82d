package controllers

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mentora-app/mentora/internal/pkg/billing"
	"github.com/mentora-app/mentora/internal/pkg/database"
	"github.com/mentora-app/mentora/internal/pkg/mail"
	"github.com/mentora-app/mentora/internal/pkg/metrics/counter"
	"github.com/mentora-app/mentora/internal/pkg/session"
	"github.com/mentora-app/mentora/internal/pkg/usercontext"
)

var (
	billingSvc     *billing.Service
	billingSvcOnce sync.Once
)

// InitializeBillingController wires the billing service once at startup.
// Router setup calls this before registering the billing routes.
func InitializeBillingController() {
	billingSvcOnce.Do(func() {
		cfg, err := billing.LoadConfig()
		if err != nil {
			log.Printf("[Billing] config incomplete: %v", err)
		}
		billingSvc = billing.NewServiceFromDB(database.GetDB(), cfg, &mail.Sender{})
	})
}

func getBillingService() *billing.Service {
	if billingSvc == nil {
		InitializeBillingController()
	}
	return billingSvc
}

// HandleBillingWebhook receives provider webhook deliveries.
// Signature failures return 400 so the provider does not retry forged
// payloads; handler failures return 500 so it retries real ones.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	sigHeader := c.Get("Stripe-Signature")

	svc := getBillingService()
	event, err := billing.VerifyWebhook(rawBody, sigHeader, svc.WebhookSecret())
	if err != nil {
		counter.AddWebhookRejected()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := svc.ProcessEvent(ctx, event)
	if err != nil {
		counter.AddWebhookFailed(string(event.Type))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
	}
	if result.Ignored {
		counter.AddWebhookIgnored(string(event.Type))
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	if result.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	counter.AddWebhookProcessed(string(event.Type))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleSubscriptionFix reconciles the logged-in user's subscription
// against the provider and repairs the local record.
func HandleSubscriptionFix(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := getBillingService().FixSubscription(ctx, userCtx.UserID)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user_not_found"})
		}
		log.Printf("[Billing] fix failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconciliation_failed"})
	}

	// refresh the cached entitlement so the next request sees the repaired state
	_ = session.SetSessionValue(c, "user_subscription_status", result.NewStatus)

	return c.Status(fiber.StatusOK).JSON(result)
}
