package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/subscription"
)

// ProviderCustomer is the customer identity known to the billing provider.
type ProviderCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ProviderSubscription is the provider's current view of one subscription.
type ProviderSubscription struct {
	ID                string     `json:"id"`
	CustomerID        string     `json:"customer_id"`
	PriceID           string     `json:"price_id"`
	Status            string     `json:"status"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
}

// ProviderPaymentMethod is a card summary for the admin detail view.
type ProviderPaymentMethod struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int64  `json:"exp_month"`
	ExpYear  int64  `json:"exp_year"`
}

// ProviderInvoice is the latest invoice summary for the admin detail view.
type ProviderInvoice struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	AmountDue        int64     `json:"amount_due"`
	AmountPaid       int64     `json:"amount_paid"`
	Currency         string    `json:"currency"`
	HostedInvoiceURL string    `json:"hosted_invoice_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// SubscriptionSnapshot merges the live provider state for one subscription.
type SubscriptionSnapshot struct {
	Subscription  *ProviderSubscription  `json:"subscription"`
	PaymentMethod *ProviderPaymentMethod `json:"payment_method,omitempty"`
	LatestInvoice *ProviderInvoice       `json:"latest_invoice,omitempty"`
}

// ProviderClient is the outbound interface to the billing provider. Lookups
// that find nothing return (nil, nil); errors mean the provider was
// unreachable or rejected the call.
type ProviderClient interface {
	FindCustomerByEmail(ctx context.Context, email string) (*ProviderCustomer, error)
	FindSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error)
	Snapshot(ctx context.Context, stripeSubscriptionID string) (*SubscriptionSnapshot, error)
}

type stripeProvider struct{}

// NewStripeProvider configures the global Stripe client key and returns a
// ProviderClient backed by the Stripe API.
func NewStripeProvider(apiKey string) ProviderClient {
	stripelib.Key = apiKey
	return &stripeProvider{}
}

func (p *stripeProvider) FindCustomerByEmail(ctx context.Context, email string) (*ProviderCustomer, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}

	params := &stripelib.CustomerListParams{
		Email: stripelib.String(email),
		ListParams: stripelib.ListParams{
			Context: ctx,
			Limit:   stripelib.Int64(1),
		},
	}
	iter := customer.List(params)
	for iter.Next() {
		c := iter.Customer()
		return &ProviderCustomer{ID: c.ID, Email: c.Email}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return nil, nil
}

// FindSubscription returns the customer's most relevant subscription,
// preferring an active one over any other lifecycle state.
func (p *stripeProvider) FindSubscription(ctx context.Context, customerID string) (*ProviderSubscription, error) {
	params := &stripelib.SubscriptionListParams{
		Customer: stripelib.String(customerID),
		Status:   stripelib.String("all"),
		ListParams: stripelib.ListParams{
			Context: ctx,
		},
	}

	var best *ProviderSubscription
	iter := subscription.List(params)
	for iter.Next() {
		candidate := fromStripeSubscription(iter.Subscription())
		if candidate.Status == "active" {
			return candidate, nil
		}
		if best == nil {
			best = candidate
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return best, nil
}

func (p *stripeProvider) Snapshot(ctx context.Context, stripeSubscriptionID string) (*SubscriptionSnapshot, error) {
	sub, err := subscription.Get(stripeSubscriptionID, &stripelib.SubscriptionParams{
		Params: stripelib.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}

	snap := &SubscriptionSnapshot{Subscription: fromStripeSubscription(sub)}
	customerID := snap.Subscription.CustomerID

	// Payment method and invoice are best-effort enrichment; a partial
	// snapshot is still useful to an administrator.
	pmParams := &stripelib.PaymentMethodListParams{
		Customer: stripelib.String(customerID),
		Type:     stripelib.String("card"),
		ListParams: stripelib.ListParams{
			Context: ctx,
			Limit:   stripelib.Int64(1),
		},
	}
	pms := paymentmethod.List(pmParams)
	for pms.Next() {
		pm := pms.PaymentMethod()
		if pm.Card == nil {
			continue
		}
		snap.PaymentMethod = &ProviderPaymentMethod{
			Brand:    string(pm.Card.Brand),
			Last4:    pm.Card.Last4,
			ExpMonth: pm.Card.ExpMonth,
			ExpYear:  pm.Card.ExpYear,
		}
		break
	}

	invParams := &stripelib.InvoiceListParams{
		Customer: stripelib.String(customerID),
		ListParams: stripelib.ListParams{
			Context: ctx,
			Limit:   stripelib.Int64(1),
		},
	}
	invs := invoice.List(invParams)
	for invs.Next() {
		inv := invs.Invoice()
		snap.LatestInvoice = &ProviderInvoice{
			ID:               inv.ID,
			Status:           string(inv.Status),
			AmountDue:        inv.AmountDue,
			AmountPaid:       inv.AmountPaid,
			Currency:         string(inv.Currency),
			HostedInvoiceURL: inv.HostedInvoiceURL,
			CreatedAt:        time.Unix(inv.Created, 0).UTC(),
		}
		break
	}

	return snap, nil
}

func fromStripeSubscription(sub *stripelib.Subscription) *ProviderSubscription {
	out := &ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			t := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			out.CurrentPeriodEnd = &t
		}
	}
	return out
}
