package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/mentora-app/mentora/app/models"
)

func testEvent(id, eventType, raw string) *stripelib.Event {
	return &stripelib.Event{
		ID:   id,
		Type: stripelib.EventType(eventType),
		Data: &stripelib.EventData{Raw: json.RawMessage(raw)},
	}
}

func checkoutEvent(id string, userID uint) *stripelib.Event {
	return testEvent(id, "checkout.session.completed", fmt.Sprintf(`{
		"id": "cs_1",
		"mode": "subscription",
		"customer": "cus_1",
		"subscription": "sub_1",
		"client_reference_id": "%d"
	}`, userID))
}

func subscriptionSnapshotJSON(status string) string {
	return fmt.Sprintf(`{
		"id": "sub_1",
		"customer": "cus_1",
		"status": "%s",
		"cancel_at_period_end": false,
		"items": {"data": [{"current_period_end": 1756100000, "price": {"id": "price_monthly", "recurring": {"interval": "month"}}}]}
	}`, status)
}

func TestProcessEventUnrecognizedIsAcknowledged(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	res, err := svc.ProcessEvent(context.Background(), testEvent("evt_x", "charge.refunded", `{}`))
	require.NoError(t, err)
	assert.True(t, res.Ignored)

	// not even recorded: unrecognized events carry no processing obligation
	var count int64
	require.NoError(t, db.Model(&models.BillingWebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestProcessEventWithoutDataObjectFails(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	// a validly-signed envelope can arrive without a data object
	event := &stripelib.Event{ID: "evt_nil", Type: "customer.subscription.updated"}

	_, err := svc.ProcessEvent(context.Background(), event)
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.BillingWebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCheckoutCompletedCreatesRecordAndGrantsPremium(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	user := createTestUser(t, db, "mentor@example.com")

	res, err := svc.ProcessEvent(context.Background(), checkoutEvent("evt_1", user.ID))
	require.NoError(t, err)
	assert.False(t, res.Ignored)
	assert.False(t, res.Duplicate)
	assert.Equal(t, EventCheckoutCompleted, res.Kind)

	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&sub).Error)
	assert.Equal(t, "cus_1", sub.StripeCustomerID)
	require.NotNil(t, sub.StripeSubscriptionID)
	assert.Equal(t, "sub_1", *sub.StripeSubscriptionID)
	assert.Equal(t, models.BillingStatusActive, sub.Status)

	assert.Equal(t, models.SubscriptionStatusPremium, userFlag(t, db, user.ID))
}

func TestCheckoutCompletedResolvesUserByEmail(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	user := createTestUser(t, db, "mentor@example.com")

	event := testEvent("evt_1", "checkout.session.completed", `{
		"id": "cs_1",
		"mode": "subscription",
		"customer": "cus_9",
		"customer_details": {"email": "mentor@example.com"}
	}`)

	_, err := svc.ProcessEvent(context.Background(), event)
	require.NoError(t, err)

	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&sub).Error)
	assert.Equal(t, "cus_9", sub.StripeCustomerID)
	assert.Equal(t, models.SubscriptionStatusPremium, userFlag(t, db, user.ID))
}

func TestCheckoutCompletedUnresolvableUserIsDropped(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	event := testEvent("evt_1", "checkout.session.completed", `{
		"id": "cs_1",
		"mode": "subscription",
		"customer": "cus_unknown"
	}`)

	_, err := svc.ProcessEvent(context.Background(), event)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestProcessEventReplayIsDuplicate(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	user := createTestUser(t, db, "mentor@example.com")

	_, err := svc.ProcessEvent(context.Background(), checkoutEvent("evt_1", user.ID))
	require.NoError(t, err)

	res, err := svc.ProcessEvent(context.Background(), checkoutEvent("evt_1", user.ID))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSubscriptionEventsConvergeRegardlessOfOrder(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	user := createTestUser(t, db, "mentor@example.com")

	_, err := svc.ProcessEvent(context.Background(), checkoutEvent("evt_1", user.ID))
	require.NoError(t, err)

	// updated arrives before created, both carry the full snapshot
	_, err = svc.ProcessEvent(context.Background(), testEvent("evt_2", "customer.subscription.updated", subscriptionSnapshotJSON("active")))
	require.NoError(t, err)
	_, err = svc.ProcessEvent(context.Background(), testEvent("evt_3", "customer.subscription.created", subscriptionSnapshotJSON("active")))
	require.NoError(t, err)

	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&sub).Error)
	assert.Equal(t, "price_monthly", sub.PriceID)
	assert.Equal(t, models.SubscriptionPlanMonthly, sub.Plan)
	assert.Equal(t, models.BillingStatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, models.SubscriptionStatusPremium, userFlag(t, db, user.ID))
}

func TestSubscriptionPastDueRevokesPremium(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	user := createTestUser(t, db, "mentor@example.com")

	_, err := svc.ProcessEvent(context.Background(), checkoutEvent("evt_1", user.ID))
	require.NoError(t, err)

	_, err = svc.ProcessEvent(context.Background(), testEvent("evt_2", "customer.subscription.updated", subscriptionSnapshotJSON("past_due")))
	require.NoError(t, err)

	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&sub).Error)
	assert.Equal(t, models.BillingStatusPastDue, sub.Status)
	assert.Equal(t, models.SubscriptionStatusFree, userFlag(t, db, user.ID))
}

func TestSubscriptionDeletedKeepsRecord(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	user := createTestUser(t, db, "mentor@example.com")

	_, err := svc.ProcessEvent(context.Background(), checkoutEvent("evt_1", user.ID))
	require.NoError(t, err)

	_, err = svc.ProcessEvent(context.Background(), testEvent("evt_2", "customer.subscription.deleted", subscriptionSnapshotJSON("canceled")))
	require.NoError(t, err)

	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&sub).Error)
	assert.Equal(t, models.BillingStatusCanceled, sub.Status)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, models.SubscriptionStatusFree, userFlag(t, db, user.ID))
}

func TestSubscriptionDeletedReplayAfterReactivation(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	user := createTestUser(t, db, "mentor@example.com")

	_, err := svc.ProcessEvent(context.Background(), checkoutEvent("evt_1", user.ID))
	require.NoError(t, err)
	_, err = svc.ProcessEvent(context.Background(), testEvent("evt_2", "customer.subscription.deleted", subscriptionSnapshotJSON("canceled")))
	require.NoError(t, err)

	// the user resubscribes
	_, err = svc.ProcessEvent(context.Background(), testEvent("evt_3", "customer.subscription.updated", subscriptionSnapshotJSON("active")))
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionStatusPremium, userFlag(t, db, user.ID))

	// a redelivery of the old deletion must not downgrade again
	res, err := svc.ProcessEvent(context.Background(), testEvent("evt_2", "customer.subscription.deleted", subscriptionSnapshotJSON("canceled")))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, models.SubscriptionStatusPremium, userFlag(t, db, user.ID))
}

func TestSubscriptionEventWithoutLocalLinkageIsDropped(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	_, err := svc.ProcessEvent(context.Background(), testEvent("evt_1", "customer.subscription.updated", subscriptionSnapshotJSON("active")))
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestInvoicePaidRefreshesPeriod(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	user := createTestUser(t, db, "mentor@example.com")

	_, err := svc.ProcessEvent(context.Background(), checkoutEvent("evt_1", user.ID))
	require.NoError(t, err)

	_, err = svc.ProcessEvent(context.Background(), testEvent("evt_2", "invoice.payment_succeeded", `{
		"id": "in_1",
		"customer": "cus_1",
		"billing_reason": "subscription_cycle",
		"lines": {"data": [{"subscription": "sub_1", "period": {"end": 1758700000}}]}
	}`))
	require.NoError(t, err)

	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&sub).Error)
	assert.Equal(t, models.BillingStatusActive, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.EqualValues(t, 1758700000, sub.CurrentPeriodEnd.Unix())
	assert.Equal(t, models.SubscriptionStatusPremium, userFlag(t, db, user.ID))
}

func TestInvoicePaidOneOffIsIgnored(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	user := createTestUser(t, db, "mentor@example.com")

	_, err := svc.ProcessEvent(context.Background(), checkoutEvent("evt_1", user.ID))
	require.NoError(t, err)

	var before models.Subscription
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&before).Error)

	_, err = svc.ProcessEvent(context.Background(), testEvent("evt_2", "invoice.payment_succeeded", `{
		"id": "in_1",
		"billing_reason": "manual",
		"subscription": "sub_1",
		"lines": {"data": [{"period": {"end": 1999999999}}]}
	}`))
	require.NoError(t, err)

	var after models.Subscription
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&after).Error)
	assert.Equal(t, before.CurrentPeriodEnd, after.CurrentPeriodEnd)
}

func TestInvoiceFailedNeverDowngrades(t *testing.T) {
	svc, db, _, mailer := newTestService(t)
	user := createTestUser(t, db, "mentor@example.com")

	_, err := svc.ProcessEvent(context.Background(), checkoutEvent("evt_1", user.ID))
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionStatusPremium, userFlag(t, db, user.ID))

	_, err = svc.ProcessEvent(context.Background(), testEvent("evt_2", "invoice.payment_failed", `{
		"id": "in_1",
		"customer": "cus_1",
		"subscription": "sub_1",
		"attempt_count": 1,
		"amount_due": 900
	}`))
	require.NoError(t, err)

	// flag untouched, user informed
	assert.Equal(t, models.SubscriptionStatusPremium, userFlag(t, db, user.ID))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "mentor@example.com", mailer.sent[0])

	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", user.ID).First(&sub).Error)
	assert.Equal(t, models.BillingStatusActive, sub.Status)
}

func TestNormalizeBillingStatus(t *testing.T) {
	assert.Equal(t, models.BillingStatusActive, normalizeBillingStatus("active"))
	assert.Equal(t, models.BillingStatusCanceled, normalizeBillingStatus("incomplete_expired"))
	assert.Equal(t, models.BillingStatusPastDue, normalizeBillingStatus("unpaid"))
	assert.Equal(t, models.BillingStatusIncomplete, normalizeBillingStatus("paused"))
	assert.Equal(t, models.BillingStatusTrialing, normalizeBillingStatus(" Trialing "))
}
