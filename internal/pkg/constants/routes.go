package constants

// Static route constants
const (
	RegisterRoute        = "/register"
	LoginRoute           = "/login"
	LogoutRoute          = "/logout"
	BillingWebhookRoute  = "/webhooks/billing"
	SubscriptionFixRoute = "/subscriptions/fix"
	AdminGroupRoute      = "/admin"
)
