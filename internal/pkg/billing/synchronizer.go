package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/mentora-app/mentora/app/models"
	"github.com/mentora-app/mentora/internal/pkg/entitlements"
)

// ErrEntitlementInconsistent is returned when even the forced write could not
// bring the stored flag in line with the target. It indicates the storage
// layer itself is failing and must alert an operator.
var ErrEntitlementInconsistent = errors.New("billing: entitlement flag inconsistent after forced write")

const (
	syncMaxAttempts    = 3
	syncInitialBackoff = 50 * time.Millisecond
)

type syncState int

const (
	syncTypedWrite syncState = iota
	syncRawWrite
	syncForcedWrite
	syncDone
)

// Synchronizer writes the entitlement flag on the user record. It runs a
// small state machine: one typed ORM update, then raw parameterized updates
// with exponential backoff, then a single forced write with a final verify.
type Synchronizer struct {
	db      *gorm.DB
	dialect string
}

// NewSynchronizer creates a Synchronizer for the given storage dialect.
func NewSynchronizer(db *gorm.DB, dialect string) *Synchronizer {
	return &Synchronizer{db: db, dialect: dialect}
}

// SetEntitlement drives the flag on the user row to the target value and
// verifies the write by re-reading it.
func (s *Synchronizer) SetEntitlement(ctx context.Context, userID uint, target entitlements.Status) error {
	state := syncTypedWrite
	backoff := syncInitialBackoff
	attempt := 0

	for state != syncDone {
		attempt++

		var writeErr error
		switch state {
		case syncTypedWrite:
			writeErr = s.typedWrite(ctx, userID, target)
		case syncRawWrite, syncForcedWrite:
			writeErr = s.rawWrite(ctx, userID, target)
		}

		if writeErr == nil {
			ok, verifyErr := s.verify(ctx, userID, target)
			if verifyErr == nil && ok {
				return nil
			}
			if verifyErr != nil {
				writeErr = verifyErr
			} else {
				writeErr = fmt.Errorf("flag readback does not match target %s", target)
			}
		}

		switch state {
		case syncForcedWrite:
			log.Printf("CRITICAL: entitlement flag for user %d could not be set to %s after forced write: %v", userID, target, writeErr)
			return ErrEntitlementInconsistent
		case syncTypedWrite:
			log.Printf("billing: typed entitlement write for user %d failed, falling back to raw update: %v", userID, writeErr)
			state = syncRawWrite
		case syncRawWrite:
			if attempt >= syncMaxAttempts {
				state = syncForcedWrite
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *Synchronizer) typedWrite(ctx context.Context, userID uint, target entitlements.Status) error {
	return s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("subscription_status", string(target)).Error
}

// rawWrite bypasses the ORM update path and addresses the storage engine
// directly. Both dialect variants are parameterized; Postgres additionally
// casts into the enum column type.
func (s *Synchronizer) rawWrite(ctx context.Context, userID uint, target entitlements.Status) error {
	stmt := "UPDATE users SET subscription_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?"
	if s.dialect == DialectPostgres {
		stmt = "UPDATE users SET subscription_status = ?::subscription_status, updated_at = CURRENT_TIMESTAMP WHERE id = ?"
	}
	return s.db.WithContext(ctx).Exec(stmt, string(target), userID).Error
}

func (s *Synchronizer) verify(ctx context.Context, userID uint, target entitlements.Status) (bool, error) {
	var u models.User
	err := s.db.WithContext(ctx).
		Select("subscription_status").
		First(&u, userID).Error
	if err != nil {
		return false, err
	}
	return entitlements.Normalize(u.SubscriptionStatus) == target, nil
}
