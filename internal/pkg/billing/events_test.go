package billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := map[string]EventKind{
		"checkout.session.completed":    EventCheckoutCompleted,
		"customer.subscription.created": EventSubscriptionCreated,
		"customer.subscription.updated": EventSubscriptionUpdated,
		"customer.subscription.deleted": EventSubscriptionDeleted,
		"invoice.payment_succeeded":     EventInvoicePaid,
		"invoice.payment_failed":        EventInvoiceFailed,
		"customer.created":              EventUnrecognized,
		"charge.refunded":               EventUnrecognized,
		"":                              EventUnrecognized,
	}

	for eventType, want := range cases {
		assert.Equal(t, want, KindOf(eventType), "type %q", eventType)
	}
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "checkout.session.completed", EventCheckoutCompleted.String())
	assert.Equal(t, "unrecognized", EventUnrecognized.String())
}

func TestCheckoutSessionEmail(t *testing.T) {
	var p CheckoutSessionPayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "cs_1",
		"customer_email": "fallback@example.com",
		"customer_details": {"email": "primary@example.com"}
	}`), &p))
	assert.Equal(t, "primary@example.com", p.Email())

	p.CustomerDetails.Email = ""
	assert.Equal(t, "fallback@example.com", p.Email())
}

func TestSubscriptionPayloadPeriodEnd(t *testing.T) {
	// Older API versions carry the period end at the top level.
	var p SubscriptionPayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "sub_1",
		"current_period_end": 1756000000,
		"items": {"data": [{"current_period_end": 1756100000, "price": {"id": "price_monthly"}}]}
	}`), &p))

	end := p.PeriodEnd()
	require.NotNil(t, end)
	assert.Equal(t, time.Unix(1756000000, 0).UTC(), *end)

	// Newer versions only carry it per item.
	p.CurrentPeriodEnd = 0
	end = p.PeriodEnd()
	require.NotNil(t, end)
	assert.Equal(t, time.Unix(1756100000, 0).UTC(), *end)

	assert.Equal(t, "price_monthly", p.FirstPriceID())
}

func TestInvoiceSubscriptionID(t *testing.T) {
	var topLevel InvoicePayload
	require.NoError(t, json.Unmarshal([]byte(`{"id": "in_1", "subscription": "sub_top"}`), &topLevel))
	assert.Equal(t, "sub_top", topLevel.SubscriptionID())

	var parent InvoicePayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "in_2",
		"parent": {"subscription_details": {"subscription": "sub_parent"}}
	}`), &parent))
	assert.Equal(t, "sub_parent", parent.SubscriptionID())

	var lines InvoicePayload
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "in_3",
		"lines": {"data": [{"subscription": "sub_line", "period": {"end": 1756200000}}]}
	}`), &lines))
	assert.Equal(t, "sub_line", lines.SubscriptionID())

	end := lines.PeriodEnd()
	require.NotNil(t, end)
	assert.Equal(t, time.Unix(1756200000, 0).UTC(), *end)

	var none InvoicePayload
	require.NoError(t, json.Unmarshal([]byte(`{"id": "in_4"}`), &none))
	assert.Empty(t, none.SubscriptionID())
}

func TestInvoiceCoversSubscriptionPeriod(t *testing.T) {
	assert.True(t, (&InvoicePayload{BillingReason: "subscription_create"}).CoversSubscriptionPeriod())
	assert.True(t, (&InvoicePayload{BillingReason: "subscription_cycle"}).CoversSubscriptionPeriod())
	assert.False(t, (&InvoicePayload{BillingReason: "manual"}).CoversSubscriptionPeriod())
	assert.False(t, (&InvoicePayload{}).CoversSubscriptionPeriod())
}
