package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mentora-app/mentora/app/controllers"
	"github.com/mentora-app/mentora/internal/pkg/constants"
	"github.com/mentora-app/mentora/internal/pkg/middleware"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Auth
	app.Post(constants.RegisterRoute, controllers.HandleAuthRegister)
	app.Post(constants.LoginRoute, controllers.HandleAuthLogin)
	app.Post(constants.LogoutRoute, middleware.RequireAuth, controllers.HandleAuthLogout)

	// Billing provider webhooks (no session, signature-verified in controller)
	app.Post(constants.BillingWebhookRoute, controllers.HandleBillingWebhook)

	// Per-user subscription reconciliation
	app.Get(constants.SubscriptionFixRoute, middleware.RequireAuth, controllers.HandleSubscriptionFix)
}
