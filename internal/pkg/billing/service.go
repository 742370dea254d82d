package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/mentora-app/mentora/app/models"
	"github.com/mentora-app/mentora/internal/pkg/entitlements"
)

// Mailer is the outbound notification interface. Delivery failures are
// logged, never propagated, so a flaky SMTP relay cannot force webhook
// redelivery (and with it duplicate emails).
type Mailer interface {
	Send(to, subject, body string) error
}

// Service owns the subscription record store and the event handlers that
// mutate it. Every handler is idempotent: replaying an event converges to
// the same record and flag.
type Service struct {
	cfg      Config
	repo     Repository
	provider ProviderClient
	sync     *Synchronizer
	mailer   Mailer
}

// NewService wires the billing service from its collaborators.
func NewService(cfg Config, repo Repository, provider ProviderClient, sync *Synchronizer, mailer Mailer) *Service {
	return &Service{
		cfg:      cfg,
		repo:     repo,
		provider: provider,
		sync:     sync,
		mailer:   mailer,
	}
}

// NewServiceFromDB creates a billing service with the default GORM
// repository and live Stripe provider.
func NewServiceFromDB(db *gorm.DB, cfg Config, mailer Mailer) *Service {
	return NewService(cfg, NewRepository(db), NewStripeProvider(cfg.StripeAPIKey), NewSynchronizer(db, cfg.Dialect), mailer)
}

// WebhookSecret exposes the configured signing secret for the HTTP layer.
func (s *Service) WebhookSecret() string {
	return s.cfg.WebhookSecret
}

// DispatchResult describes how an authenticated event was handled.
type DispatchResult struct {
	Kind      EventKind
	Ignored   bool // authenticated but outside the supported set
	Duplicate bool // already processed, acknowledged without side effects
}

// ProcessEvent records an authenticated event, deduplicates it and routes it
// to the matching handler. A handler error leaves the event unprocessed so
// provider-side redelivery retries it.
func (s *Service) ProcessEvent(ctx context.Context, event *stripelib.Event) (DispatchResult, error) {
	kind := KindOf(string(event.Type))
	if kind == EventUnrecognized {
		log.Printf("billing: webhook ignored (unhandled type %s, event %s)", event.Type, event.ID)
		return DispatchResult{Kind: kind, Ignored: true}, nil
	}

	if event.Data == nil {
		return DispatchResult{Kind: kind}, fmt.Errorf("webhook %s (%s) carries no data object", event.ID, event.Type)
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		StripeEventID:  event.ID,
		EventType:      string(event.Type),
		PayloadJSON:    string(event.Data.Raw),
		SignatureValid: true,
	})
	if err != nil {
		return DispatchResult{Kind: kind}, fmt.Errorf("record webhook event: %w", err)
	}
	if !created && stored.ProcessedAt != nil {
		log.Printf("billing: webhook %s (%s) already processed, acknowledging duplicate", event.ID, event.Type)
		return DispatchResult{Kind: kind, Duplicate: true}, nil
	}

	if err := s.handle(ctx, kind, event.Data.Raw); err != nil {
		if recErr := s.repo.RecordWebhookError(stored.ID, err.Error()); recErr != nil {
			log.Printf("billing: failed to record webhook error for %s: %v", event.ID, recErr)
		}
		return DispatchResult{Kind: kind}, err
	}

	if err := s.repo.MarkWebhookProcessed(stored.ID); err != nil {
		log.Printf("billing: failed to mark webhook %s processed: %v", event.ID, err)
	}
	return DispatchResult{Kind: kind}, nil
}

func (s *Service) handle(ctx context.Context, kind EventKind, raw json.RawMessage) error {
	switch kind {
	case EventCheckoutCompleted:
		var p CheckoutSessionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return s.HandleCheckoutCompleted(ctx, &p)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var p SubscriptionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.HandleSubscriptionChanged(ctx, &p)

	case EventSubscriptionDeleted:
		var p SubscriptionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.HandleSubscriptionDeleted(ctx, &p)

	case EventInvoicePaid:
		var p InvoicePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return s.HandleInvoicePaid(ctx, &p)

	case EventInvoiceFailed:
		var p InvoicePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return s.HandleInvoiceFailed(ctx, &p)
	}
	return nil
}

// HandleCheckoutCompleted creates or updates the subscription record for the
// user referenced by the checkout session and grants the premium flag.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, p *CheckoutSessionPayload) error {
	if p.Mode != "" && p.Mode != "subscription" {
		return nil
	}

	userID, err := s.resolveCheckoutUser(p)
	if err != nil {
		return err
	}
	if userID == 0 {
		log.Printf("billing: checkout %s has no resolvable user (customer %s), dropping", p.ID, p.Customer)
		return nil
	}

	updates := map[string]interface{}{
		"stripe_customer_id": p.Customer,
		"status":             models.BillingStatusActive,
	}
	if subID := strings.TrimSpace(p.Subscription); subID != "" {
		updates["stripe_subscription_id"] = subID
	}

	// A record may already exist from an earlier checkout or a placeholder
	// created by reconciliation; the plan and price stay untouched here, the
	// subscription lifecycle events carry the authoritative price.
	affected, err := s.repo.UpdateSubscriptionByUserID(userID, updates)
	if err != nil {
		return fmt.Errorf("update subscription for checkout %s: %w", p.ID, err)
	}
	if affected == 0 {
		sub := &models.Subscription{
			UserID:           userID,
			StripeCustomerID: p.Customer,
			Status:           models.BillingStatusActive,
			Plan:             models.SubscriptionPlanMonthly,
		}
		if subID := strings.TrimSpace(p.Subscription); subID != "" {
			sub.StripeSubscriptionID = &subID
		}
		if err := s.repo.UpsertSubscription(sub); err != nil {
			return fmt.Errorf("create subscription for checkout %s: %w", p.ID, err)
		}
	}
	return s.sync.SetEntitlement(ctx, userID, entitlements.StatusPremium)
}

// HandleSubscriptionChanged applies a created or updated event. Both carry a
// full snapshot, so either order converges to the same record.
func (s *Service) HandleSubscriptionChanged(ctx context.Context, p *SubscriptionPayload) error {
	existing, err := s.repo.GetSubscriptionByStripeID(p.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Recovery: the checkout event may have stored the customer id
		// before the subscription id was known.
		existing, err = s.repo.GetSubscriptionByCustomerID(p.Customer)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("billing: subscription event for %s has no local record and no customer linkage (%s), dropping", p.ID, p.Customer)
		return nil
	}
	if err != nil {
		return err
	}

	status := normalizeBillingStatus(p.Status)
	updates := map[string]interface{}{
		"stripe_customer_id":     p.Customer,
		"stripe_subscription_id": p.ID,
		"price_id":               p.FirstPriceID(),
		"plan":                   s.planFor(p),
		"status":                 status,
		"current_period_end":     p.PeriodEnd(),
		"cancel_at_period_end":   p.CancelAtPeriodEnd,
	}
	if _, err := s.repo.UpdateSubscriptionByUserID(existing.UserID, updates); err != nil {
		return fmt.Errorf("apply subscription snapshot %s: %w", p.ID, err)
	}
	return s.sync.SetEntitlement(ctx, existing.UserID, entitlements.FromBillingStatus(status))
}

// HandleSubscriptionDeleted marks the record canceled and revokes the flag.
// The record itself is never deleted.
func (s *Service) HandleSubscriptionDeleted(ctx context.Context, p *SubscriptionPayload) error {
	existing, err := s.repo.GetSubscriptionByStripeID(p.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("billing: delete event for unknown subscription %s, dropping", p.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.repo.UpdateSubscriptionByStripeID(p.ID, map[string]interface{}{
		"status":               models.BillingStatusCanceled,
		"cancel_at_period_end": false,
	}); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", p.ID, err)
	}
	return s.sync.SetEntitlement(ctx, existing.UserID, entitlements.StatusFree)
}

// HandleInvoicePaid refreshes the paid-through period for subscription
// creation and cycle invoices and re-asserts the premium flag.
func (s *Service) HandleInvoicePaid(ctx context.Context, p *InvoicePayload) error {
	if !p.CoversSubscriptionPeriod() {
		return nil
	}
	subID := p.SubscriptionID()
	if subID == "" {
		log.Printf("billing: paid invoice %s carries no subscription id, dropping", p.ID)
		return nil
	}

	existing, err := s.repo.GetSubscriptionByStripeID(subID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("billing: paid invoice %s references unknown subscription %s, dropping", p.ID, subID)
		return nil
	}
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status": models.BillingStatusActive,
	}
	if end := p.PeriodEnd(); end != nil {
		updates["current_period_end"] = end
	}
	if _, err := s.repo.UpdateSubscriptionByStripeID(subID, updates); err != nil {
		return fmt.Errorf("refresh subscription %s from invoice %s: %w", subID, p.ID, err)
	}
	return s.sync.SetEntitlement(ctx, existing.UserID, entitlements.StatusPremium)
}

// HandleInvoiceFailed notifies the user about the failed payment. It never
// downgrades the flag: the provider's own retry flow emits a subscription
// update or deletion if the subscription actually lapses.
func (s *Service) HandleInvoiceFailed(ctx context.Context, p *InvoicePayload) error {
	subID := p.SubscriptionID()
	if subID == "" {
		log.Printf("billing: failed invoice %s carries no subscription id, dropping", p.ID)
		return nil
	}

	existing, err := s.repo.GetSubscriptionByStripeID(subID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("billing: failed invoice %s references unknown subscription %s, dropping", p.ID, subID)
		return nil
	}
	if err != nil {
		return err
	}

	user, err := s.repo.GetUserByID(existing.UserID)
	if err != nil {
		return fmt.Errorf("load user %d for failed invoice %s: %w", existing.UserID, p.ID, err)
	}

	subject, body := paymentFailedMail(user.Name, p)
	if err := s.mailer.Send(user.Email, subject, body); err != nil {
		log.Printf("billing: payment failure mail to %s could not be sent: %v", user.Email, err)
	}
	return nil
}

func (s *Service) resolveCheckoutUser(p *CheckoutSessionPayload) (uint, error) {
	if ref := strings.TrimSpace(p.ClientReferenceID); ref != "" {
		if id, err := strconv.ParseUint(ref, 10, 64); err == nil && id > 0 {
			return uint(id), nil
		}
	}
	if ref, ok := p.Metadata["user_id"]; ok {
		if id, err := strconv.ParseUint(strings.TrimSpace(ref), 10, 64); err == nil && id > 0 {
			return uint(id), nil
		}
	}
	if existing, err := s.repo.GetSubscriptionByCustomerID(p.Customer); err == nil {
		return existing.UserID, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	if email := p.Email(); email != "" {
		if user, err := s.repo.GetUserByEmail(email); err == nil {
			return user.ID, nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
	}
	return 0, nil
}

func (s *Service) planFor(p *SubscriptionPayload) string {
	if plan, ok := s.cfg.PlanForPrice(p.FirstPriceID()); ok {
		return plan
	}
	for _, item := range p.Items.Data {
		if item.Price.Recurring.Interval == "year" {
			return models.SubscriptionPlanAnnual
		}
	}
	return models.SubscriptionPlanMonthly
}

// normalizeBillingStatus maps provider lifecycle states onto the closed
// local status set.
func normalizeBillingStatus(status string) string {
	st := strings.ToLower(strings.TrimSpace(status))
	if models.IsKnownBillingStatus(st) {
		return st
	}
	switch st {
	case "incomplete_expired":
		return models.BillingStatusCanceled
	case "unpaid":
		return models.BillingStatusPastDue
	default:
		return models.BillingStatusIncomplete
	}
}

func paymentFailedMail(name string, p *InvoicePayload) (subject, body string) {
	subject = "Your Mentora payment failed"
	body = fmt.Sprintf(
		"<p>Hi %s,</p>"+
			"<p>we could not collect the latest payment for your Mentora Premium subscription. "+
			"Your premium access stays active while the payment is retried.</p>"+
			"<p>Please check your payment method to avoid an interruption.</p>",
		name,
	)
	if p.HostedInvoiceURL != "" {
		body += fmt.Sprintf("<p><a href=\"%s\">View and pay the open invoice</a></p>", p.HostedInvoiceURL)
	}
	return subject, body
}
