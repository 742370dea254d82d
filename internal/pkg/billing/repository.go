package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mentora-app/mentora/app/models"
)

// Repository provides the DB operations used by the billing service. All
// subscription writes are atomic upserts keyed on the user, never
// read-modify-write, so concurrent webhook deliveries converge.
type Repository interface {
	GetUserByID(id uint) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	GetSubscriptionByID(id uint) (*models.Subscription, error)
	GetSubscriptionByUserID(userID uint) (*models.Subscription, error)
	GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error)
	GetSubscriptionByCustomerID(stripeCustomerID string) (*models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error
	UpdateSubscriptionByUserID(userID uint, updates map[string]interface{}) (int64, error)
	UpdateSubscriptionByStripeID(stripeSubscriptionID string, updates map[string]interface{}) (int64, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint) error
	RecordWebhookError(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetUserByEmail(email string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByCustomerID(stripeCustomerID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("stripe_customer_id = ?", stripeCustomerID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpsertSubscription writes a full subscription snapshot. The conflict target
// is the unique user key: a user has exactly one record, so two racing
// deliveries for the same subscription serialize on it.
func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"stripe_customer_id",
			"stripe_subscription_id",
			"price_id",
			"plan",
			"status",
			"current_period_end",
			"cancel_at_period_end",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("user_id = ?", sub.UserID).First(sub).Error
}

// UpdateSubscriptionByUserID applies a snapshot to the single record of a
// user in one atomic UPDATE. Returns the number of affected rows.
func (r *gormRepository) UpdateSubscriptionByUserID(userID uint, updates map[string]interface{}) (int64, error) {
	tx := r.db.Model(&models.Subscription{}).Where("user_id = ?", userID).Updates(updates)
	return tx.RowsAffected, tx.Error
}

// UpdateSubscriptionByStripeID applies a snapshot keyed on the external
// subscription id in one atomic UPDATE.
func (r *gormRepository) UpdateSubscriptionByStripeID(stripeSubscriptionID string, updates map[string]interface{}) (int64, error) {
	tx := r.db.Model(&models.Subscription{}).Where("stripe_subscription_id = ?", stripeSubscriptionID).Updates(updates)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stripe_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("stripe_event_id = ?", event.StripeEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": "",
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) RecordWebhookError(id uint, processingError string) error {
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).
		Update("processing_error", processingError).Error
}
