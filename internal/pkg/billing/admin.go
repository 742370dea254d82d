package billing

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"

	"github.com/mentora-app/mentora/app/models"
)

// ErrSubscriptionNotFound reports a lookup for an id that matches neither a
// local record nor a provider subscription id.
var ErrSubscriptionNotFound = errors.New("billing: subscription not found")

// AdminSubscriptionDetail merges the local record with a live provider
// snapshot. ProviderError is set when the provider could not be reached; the
// local data is always present.
type AdminSubscriptionDetail struct {
	Subscription  *models.Subscription  `json:"subscription"`
	Provider      *SubscriptionSnapshot `json:"provider,omitempty"`
	ProviderError string                `json:"providerError,omitempty"`
}

// GetAdminSubscriptionDetail resolves the identifier as a local record id
// first, then as a Stripe subscription id.
func (s *Service) GetAdminSubscriptionDetail(ctx context.Context, idOrStripeID string) (*AdminSubscriptionDetail, error) {
	sub, err := s.lookupSubscription(idOrStripeID)
	if err != nil {
		return nil, err
	}

	detail := &AdminSubscriptionDetail{Subscription: sub}
	if sub.StripeSubscriptionID == nil {
		return detail, nil
	}

	snap, err := s.provider.Snapshot(ctx, *sub.StripeSubscriptionID)
	if err != nil {
		detail.ProviderError = err.Error()
		return detail, nil
	}
	detail.Provider = snap
	return detail, nil
}

func (s *Service) lookupSubscription(idOrStripeID string) (*models.Subscription, error) {
	if id, convErr := strconv.ParseUint(idOrStripeID, 10, 64); convErr == nil {
		sub, err := s.repo.GetSubscriptionByID(uint(id))
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	sub, err := s.repo.GetSubscriptionByStripeID(idOrStripeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}
