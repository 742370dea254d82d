package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mentora-app/mentora/app/controllers"
	"github.com/mentora-app/mentora/internal/pkg/constants"
	"github.com/mentora-app/mentora/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group(constants.AdminGroupRoute, middleware.RequireAdmin)

	// Subscription inspection
	adminGroup.Get("/subscriptions/:id", controllers.HandleAdminSubscriptionDetail)

	// Webhook delivery counters
	adminGroup.Get("/webhooks/stats", controllers.HandleAdminWebhookStats)
}
