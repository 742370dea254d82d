package billing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mentora-app/mentora/app/models"
	"github.com/mentora-app/mentora/internal/pkg/entitlements"
)

// FixResult is the observable outcome of one reconciliation run.
type FixResult struct {
	Success             bool   `json:"success"`
	OldStatus           string `json:"oldStatus"`
	NewStatus           string `json:"newStatus"`
	SubscriptionCreated bool   `json:"subscriptionCreated"`
	ProviderError       string `json:"providerError,omitempty"`
}

// ErrUserNotFound reports a reconciliation request for an unknown user.
var ErrUserNotFound = errors.New("billing: user not found")

// FixSubscription re-derives a user's subscription record and entitlement
// flag from the provider's current truth. It is the safety net for silently
// failed webhook delivery, invoked on demand per user, never on a schedule.
func (s *Service) FixSubscription(ctx context.Context, userID uint) (*FixResult, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user %d: %w", userID, err)
	}

	res := &FixResult{
		OldStatus: string(entitlements.Normalize(user.SubscriptionStatus)),
		NewStatus: string(entitlements.Normalize(user.SubscriptionStatus)),
	}

	local, err := s.repo.GetSubscriptionByUserID(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load subscription for user %d: %w", userID, err)
	}

	cust, err := s.provider.FindCustomerByEmail(ctx, user.Email)
	if err != nil {
		// Provider unreachable: keep local data, report a degraded result
		// instead of failing hard.
		res.ProviderError = err.Error()
		return res, nil
	}

	var remote *ProviderSubscription
	if cust != nil {
		remote, err = s.provider.FindSubscription(ctx, cust.ID)
		if err != nil {
			res.ProviderError = err.Error()
			return res, nil
		}
	}

	target := entitlements.StatusFree
	switch {
	case remote != nil:
		status := normalizeBillingStatus(remote.Status)
		plan, ok := s.cfg.PlanForPrice(remote.PriceID)
		if !ok {
			plan = models.SubscriptionPlanMonthly
		}
		subID := remote.ID
		sub := &models.Subscription{
			UserID:               userID,
			StripeCustomerID:     remote.CustomerID,
			StripeSubscriptionID: &subID,
			PriceID:              remote.PriceID,
			Plan:                 plan,
			Status:               status,
			CurrentPeriodEnd:     remote.CurrentPeriodEnd,
			CancelAtPeriodEnd:    remote.CancelAtPeriodEnd,
		}
		if local == nil {
			log.Printf("billing: reconciliation found subscription %s for user %d with no local record, repairing", remote.ID, userID)
			res.SubscriptionCreated = true
			if err := s.repo.UpsertSubscription(sub); err != nil {
				return nil, fmt.Errorf("repair subscription for user %d: %w", userID, err)
			}
		} else {
			updates := map[string]interface{}{
				"stripe_customer_id":     sub.StripeCustomerID,
				"stripe_subscription_id": remote.ID,
				"price_id":               sub.PriceID,
				"plan":                   sub.Plan,
				"status":                 status,
				"current_period_end":     sub.CurrentPeriodEnd,
				"cancel_at_period_end":   sub.CancelAtPeriodEnd,
			}
			if _, err := s.repo.UpdateSubscriptionByUserID(userID, updates); err != nil {
				return nil, fmt.Errorf("refresh subscription for user %d: %w", userID, err)
			}
		}
		target = entitlements.FromBillingStatus(status)

	case local == nil:
		// Nothing remote and nothing local: keep a minimal placeholder so a
		// human can follow up on the account later.
		customerID := "pending:" + uuid.NewString()
		if cust != nil {
			customerID = cust.ID
		}
		placeholder := &models.Subscription{
			UserID:           userID,
			StripeCustomerID: customerID,
			Plan:             models.SubscriptionPlanMonthly,
			Status:           models.BillingStatusIncomplete,
		}
		if err := s.repo.UpsertSubscription(placeholder); err != nil {
			return nil, fmt.Errorf("create placeholder subscription for user %d: %w", userID, err)
		}
		res.SubscriptionCreated = true
	}

	if err := s.sync.SetEntitlement(ctx, userID, target); err != nil {
		return nil, err
	}

	res.Success = true
	res.NewStatus = string(target)
	return res, nil
}
