package billing

import (
	"strings"
	"time"
)

// EventKind is the closed set of Stripe lifecycle events this engine
// processes. Every other authenticated event is EventUnrecognized, which is a
// normal accept-and-drop outcome, not an error.
type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventCheckoutCompleted
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventInvoicePaid
	EventInvoiceFailed
)

const (
	eventTypeCheckoutCompleted   = "checkout.session.completed"
	eventTypeSubscriptionCreated = "customer.subscription.created"
	eventTypeSubscriptionUpdated = "customer.subscription.updated"
	eventTypeSubscriptionDeleted = "customer.subscription.deleted"
	eventTypeInvoicePaid         = "invoice.payment_succeeded"
	eventTypeInvoiceFailed       = "invoice.payment_failed"
)

// KindOf maps a Stripe event type string onto the closed event set.
func KindOf(eventType string) EventKind {
	switch eventType {
	case eventTypeCheckoutCompleted:
		return EventCheckoutCompleted
	case eventTypeSubscriptionCreated:
		return EventSubscriptionCreated
	case eventTypeSubscriptionUpdated:
		return EventSubscriptionUpdated
	case eventTypeSubscriptionDeleted:
		return EventSubscriptionDeleted
	case eventTypeInvoicePaid:
		return EventInvoicePaid
	case eventTypeInvoiceFailed:
		return EventInvoiceFailed
	default:
		return EventUnrecognized
	}
}

func (k EventKind) String() string {
	switch k {
	case EventCheckoutCompleted:
		return eventTypeCheckoutCompleted
	case EventSubscriptionCreated:
		return eventTypeSubscriptionCreated
	case EventSubscriptionUpdated:
		return eventTypeSubscriptionUpdated
	case EventSubscriptionDeleted:
		return eventTypeSubscriptionDeleted
	case EventInvoicePaid:
		return eventTypeInvoicePaid
	case EventInvoiceFailed:
		return eventTypeInvoiceFailed
	default:
		return "unrecognized"
	}
}

// The payload structs below are deliberately minimal local representations of
// the Stripe event bodies. Decoding into these instead of the full stripe-go
// model structs keeps webhook handling independent of API version drift.

// CheckoutSessionPayload is a minimal checkout.session.completed body.
type CheckoutSessionPayload struct {
	ID                string `json:"id"`
	Mode              string `json:"mode"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerEmail     string `json:"customer_email"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// Email returns the best available customer email from the session.
func (p *CheckoutSessionPayload) Email() string {
	if e := strings.TrimSpace(p.CustomerDetails.Email); e != "" {
		return e
	}
	return strings.TrimSpace(p.CustomerEmail)
}

// SubscriptionPayload is a minimal customer.subscription.* body.
type SubscriptionPayload struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
	Items             struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID        string `json:"id"`
				Recurring struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// FirstPriceID returns the price id of the first subscription item.
func (p *SubscriptionPayload) FirstPriceID() string {
	for _, item := range p.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			return id
		}
	}
	return ""
}

// PeriodEnd returns the current period end, reading the top-level field for
// older API versions and the first item for newer ones.
func (p *SubscriptionPayload) PeriodEnd() *time.Time {
	ts := p.CurrentPeriodEnd
	if ts == 0 {
		for _, item := range p.Items.Data {
			if item.CurrentPeriodEnd > 0 {
				ts = item.CurrentPeriodEnd
				break
			}
		}
	}
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

// Invoice billing reasons that refresh the subscription period.
const (
	billingReasonSubscriptionCreate = "subscription_create"
	billingReasonSubscriptionCycle  = "subscription_cycle"
)

// InvoicePayload is a minimal invoice.payment_* body.
type InvoicePayload struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	BillingReason string `json:"billing_reason"`
	// Top-level subscription id on pre-basil API versions.
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Subscription string `json:"subscription"`
			Period       struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	AmountDue        int64  `json:"amount_due"`
	AttemptCount     int64  `json:"attempt_count"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
}

// SubscriptionID extracts the subscription id regardless of the API version
// that produced the payload.
func (p *InvoicePayload) SubscriptionID() string {
	if id := strings.TrimSpace(p.Subscription); id != "" {
		return id
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		if id := strings.TrimSpace(p.Parent.SubscriptionDetails.Subscription); id != "" {
			return id
		}
	}
	for _, line := range p.Lines.Data {
		if id := strings.TrimSpace(line.Subscription); id != "" {
			return id
		}
	}
	return ""
}

// CoversSubscriptionPeriod reports whether the invoice belongs to a
// subscription creation or renewal cycle.
func (p *InvoicePayload) CoversSubscriptionPeriod() bool {
	switch p.BillingReason {
	case billingReasonSubscriptionCreate, billingReasonSubscriptionCycle:
		return true
	default:
		return false
	}
}

// PeriodEnd returns the latest line period end carried by the invoice.
func (p *InvoicePayload) PeriodEnd() *time.Time {
	var ts int64
	for _, line := range p.Lines.Data {
		if line.Period.End > ts {
			ts = line.Period.End
		}
	}
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
