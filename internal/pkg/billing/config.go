package billing

import (
	"github.com/go-playground/validator/v10"

	"github.com/mentora-app/mentora/app/models"
	"github.com/mentora-app/mentora/internal/pkg/env"
)

// SQL dialects supported by the raw fallback write path of the entitlement
// synchronizer. Postgres needs an explicit enum cast, MySQL does not. The
// dialect is injected at startup, never inferred from a connection string.
const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// Config carries the billing environment: the shared webhook secret, the
// Stripe API credentials, the recognized price ids per plan tier and the
// storage dialect used by the synchronizer fallback.
type Config struct {
	WebhookSecret  string `validate:"required"`
	StripeAPIKey   string `validate:"required"`
	PriceIDMonthly string `validate:"required"`
	PriceIDAnnual  string `validate:"required"`
	Dialect        string `validate:"oneof=mysql postgres"`
}

// LoadConfig reads the billing configuration from the environment once at
// startup and validates it.
func LoadConfig() (Config, error) {
	cfg := Config{
		WebhookSecret:  env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeAPIKey:   env.GetEnv("STRIPE_SECRET_KEY", ""),
		PriceIDMonthly: env.GetEnv("STRIPE_PRICE_ID_MONTHLY", ""),
		PriceIDAnnual:  env.GetEnv("STRIPE_PRICE_ID_ANNUAL", ""),
		Dialect:        env.GetEnv("DB_DIALECT", DialectMySQL),
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PlanForPrice maps a Stripe price id to the internal plan tier. The second
// return value is false for unrecognized price ids.
func (c Config) PlanForPrice(priceID string) (string, bool) {
	switch priceID {
	case c.PriceIDMonthly:
		return models.SubscriptionPlanMonthly, true
	case c.PriceIDAnnual:
		return models.SubscriptionPlanAnnual, true
	default:
		return "", false
	}
}
