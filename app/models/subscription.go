package models

import "time"

const (
	SubscriptionPlanMonthly = "monthly"
	SubscriptionPlanAnnual  = "annual"
)

const (
	BillingStatusActive     = "active"
	BillingStatusPastDue    = "past_due"
	BillingStatusIncomplete = "incomplete"
	BillingStatusCanceled   = "canceled"
	BillingStatusTrialing   = "trialing"
)

// Subscription mirrors the Stripe subscription state for one user. A user has
// at most one row (unique key on user_id); the Stripe subscription id is only
// set after the first successful checkout and is unique when present. Rows
// are never deleted, cancellation transitions status to canceled.
type Subscription struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	UserID               uint       `gorm:"uniqueIndex:ux_subscriptions_user" json:"user_id"`
	StripeCustomerID     string     `gorm:"type:varchar(191);not null;index" json:"stripe_customer_id"`
	StripeSubscriptionID *string    `gorm:"type:varchar(191);uniqueIndex:ux_subscriptions_stripe_sub" json:"stripe_subscription_id,omitempty"`
	PriceID              string     `gorm:"type:varchar(191);not null;default:''" json:"price_id"`
	Plan                 string     `gorm:"type:varchar(16);not null;default:'monthly'" json:"plan"`
	Status               string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitled reports whether this subscription grants premium entitlement.
// Only a fully active subscription counts; trialing and past_due do not.
func (s *Subscription) IsEntitled() bool {
	return s != nil && s.Status == BillingStatusActive
}

// IsKnownBillingStatus reports whether a provider status string is one of the
// lifecycle states mirrored locally.
func IsKnownBillingStatus(status string) bool {
	switch status {
	case BillingStatusActive, BillingStatusPastDue, BillingStatusIncomplete,
		BillingStatusCanceled, BillingStatusTrialing:
		return true
	default:
		return false
	}
}
