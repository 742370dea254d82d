package entitlements

import (
	"strings"

	"github.com/mentora-app/mentora/app/models"
)

type Status string

const (
	StatusFree    Status = models.SubscriptionStatusFree
	StatusPremium Status = models.SubscriptionStatusPremium
)

// FromSubscription derives the entitlement flag from a local subscription
// record. Only status "active" entitles; trialing, past_due and the rest map
// to FREE and are resolved by the provider's own lifecycle events.
func FromSubscription(sub *models.Subscription) Status {
	if sub.IsEntitled() {
		return StatusPremium
	}
	return StatusFree
}

// FromBillingStatus derives the entitlement flag from a raw provider status
// string, used when the provider payload is the freshest source of truth.
func FromBillingStatus(status string) Status {
	if strings.ToLower(strings.TrimSpace(status)) == models.BillingStatusActive {
		return StatusPremium
	}
	return StatusFree
}

// Normalize maps any stored flag value onto the closed FREE/PREMIUM set.
func Normalize(raw string) Status {
	if strings.EqualFold(strings.TrimSpace(raw), string(StatusPremium)) {
		return StatusPremium
	}
	return StatusFree
}
