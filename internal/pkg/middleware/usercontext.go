package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mentora-app/mentora/app/models"
	"github.com/mentora-app/mentora/internal/pkg/database"
	"github.com/mentora-app/mentora/internal/pkg/session"
	"github.com/mentora-app/mentora/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the complete user context for every request
// This centralizes user session handling and eliminates code duplication
func UserContextMiddleware(c *fiber.Ctx) error {
	// Get session with error handling
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		// On error: set as anonymous user
		c.Locals(usercontext.KeyUserContext, usercontext.UserContext{
			IsLoggedIn: false,
			IsAdmin:    false,
		})
		c.Locals(usercontext.KeyFromProtected, false)
		c.Locals(usercontext.KeyIsAdmin, false)
		return c.Next()
	}

	// Get user ID from session
	userID := sess.Get(usercontext.KeyUserID)
	if userID == nil {
		// Anonymous user - no session data
		c.Locals(usercontext.KeyUserContext, usercontext.UserContext{
			IsLoggedIn: false,
			IsAdmin:    false,
		})
		c.Locals(usercontext.KeyFromProtected, false)
		c.Locals(usercontext.KeyIsAdmin, false)
		return c.Next()
	}

	// User is logged in - get additional data
	username := session.GetSessionValue(c, usercontext.KeyUsername)
	isAdmin := sess.Get(usercontext.KeyIsAdmin)

	// Determine entitlement with session-first strategy
	status := session.GetSessionValue(c, "user_subscription_status")
	if status == "" {
		status = models.SubscriptionStatusFree
		if db := database.GetDB(); db != nil {
			var user models.User
			if err := db.Select("subscription_status").First(&user, userID.(uint)).Error; err == nil && user.SubscriptionStatus != "" {
				status = user.SubscriptionStatus
			}
		}
		// cache in session for subsequent requests
		_ = session.SetSessionValue(c, "user_subscription_status", status)
	}

	// Set complete user context
	userCtx := usercontext.UserContext{
		UserID:             userID.(uint),
		Username:           username,
		IsLoggedIn:         true,
		IsAdmin:            isAdmin != nil && isAdmin.(bool),
		SubscriptionStatus: status,
	}
	c.Locals(usercontext.KeyUserContext, userCtx)

	// Keep plain Locals for handlers that read them directly
	c.Locals(usercontext.KeyFromProtected, true)
	c.Locals(usercontext.KeyUsername, username)
	c.Locals(usercontext.KeyUserID, userID.(uint))
	c.Locals(usercontext.KeyIsAdmin, userCtx.IsAdmin)

	return c.Next()
}
