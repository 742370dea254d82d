package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mentora-app/mentora/app/controllers"
	"github.com/mentora-app/mentora/internal/pkg/middleware"
	"github.com/mentora-app/mentora/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	// Initialize billing controller with config and service
	controllers.InitializeBillingController()

	h.registerPublicRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
