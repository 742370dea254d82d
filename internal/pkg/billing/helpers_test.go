package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mentora-app/mentora/app/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Subscription{},
		&models.BillingWebhookEvent{},
	))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func testConfig() Config {
	return Config{
		WebhookSecret:  "whsec_test",
		StripeAPIKey:   "sk_test",
		PriceIDMonthly: "price_monthly",
		PriceIDAnnual:  "price_annual",
		Dialect:        DialectMySQL,
	}
}

type fakeProvider struct {
	customer   *ProviderCustomer
	sub        *ProviderSubscription
	snapshot   *SubscriptionSnapshot
	err        error
	snapshotID string
}

func (f *fakeProvider) FindCustomerByEmail(ctx context.Context, email string) (*ProviderCustomer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.customer, nil
}

func (f *fakeProvider) FindSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func (f *fakeProvider) Snapshot(ctx context.Context, stripeSubscriptionID string) (*SubscriptionSnapshot, error) {
	f.snapshotID = stripeSubscriptionID
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type fakeMailer struct {
	sent []string
}

func (f *fakeMailer) Send(to, subject, body string) error {
	f.sent = append(f.sent, to)
	return nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *fakeProvider, *fakeMailer) {
	t.Helper()

	db := setupTestDB(t)
	provider := &fakeProvider{}
	mailer := &fakeMailer{}
	cfg := testConfig()
	svc := NewService(cfg, NewRepository(db), provider, NewSynchronizer(db, cfg.Dialect), mailer)
	return svc, db, provider, mailer
}

func createTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{
		Name:               "Test Mentor",
		Email:              email,
		Password:           "irrelevant-hash",
		Role:               models.ROLE_USER,
		Status:             models.STATUS_ACTIVE,
		SubscriptionStatus: models.SubscriptionStatusFree,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func userFlag(t *testing.T, db *gorm.DB, userID uint) string {
	t.Helper()

	var u models.User
	require.NoError(t, db.First(&u, userID).Error)
	return u.SubscriptionStatus
}
