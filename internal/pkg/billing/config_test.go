package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mentora-app/mentora/app/models"
)

func setBillingEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test")
	t.Setenv("STRIPE_PRICE_ID_MONTHLY", "price_monthly")
	t.Setenv("STRIPE_PRICE_ID_ANNUAL", "price_annual")
}

func TestLoadConfig(t *testing.T) {
	setBillingEnv(t)
	t.Setenv("DB_DIALECT", "postgres")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "whsec_test", cfg.WebhookSecret)
	assert.Equal(t, DialectPostgres, cfg.Dialect)
}

func TestLoadConfigDefaultsToMySQL(t *testing.T) {
	setBillingEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DialectMySQL, cfg.Dialect)
}

func TestLoadConfigRejectsMissingSecret(t *testing.T) {
	setBillingEnv(t)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsUnknownDialect(t *testing.T) {
	setBillingEnv(t)
	t.Setenv("DB_DIALECT", "oracle")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestPlanForPrice(t *testing.T) {
	cfg := testConfig()

	plan, ok := cfg.PlanForPrice("price_monthly")
	require.True(t, ok)
	assert.Equal(t, models.SubscriptionPlanMonthly, plan)

	plan, ok = cfg.PlanForPrice("price_annual")
	require.True(t, ok)
	assert.Equal(t, models.SubscriptionPlanAnnual, plan)

	_, ok = cfg.PlanForPrice("price_other")
	assert.False(t, ok)
}
