// Package membership runs the subscription lifecycle. Enrollment and upgrade
// credit the points ledger; cancellation never claws points back. A user has
// at most one ACTIVE subscription, and upgrades mutate that row in place
// rather than inserting a second one.
package membership

import (
	"fmt"
	"strings"
	"time"

	"github.com/diPencil/altayar-backend-sub000/internal/apperr"
	"github.com/diPencil/altayar-backend-sub000/internal/ledger"
	"github.com/diPencil/altayar-backend-sub000/internal/logger"
	"github.com/diPencil/altayar-backend-sub000/internal/models"
	"github.com/diPencil/altayar-backend-sub000/internal/referral"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Machine struct {
	points    *ledger.Ledger
	referrals *referral.Trigger
}

func NewMachine(points *ledger.Ledger, referrals *referral.Trigger) *Machine {
	return &Machine{points: points, referrals: referrals}
}

func newMembershipNumber() string {
	return "MEM-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func expiryFrom(start time.Time, plan *models.MembershipPlan) *time.Time {
	if plan.DurationDays == nil {
		return nil
	}
	e := start.AddDate(0, 0, *plan.DurationDays)
	return &e
}

func (m *Machine) plan(tx *gorm.DB, planID uuid.UUID) (*models.MembershipPlan, error) {
	var plan models.MembershipPlan
	if err := tx.First(&plan, "id = ?", planID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFoundf("plan %s not found", planID)
		}
		return nil, err
	}
	return &plan, nil
}

func (m *Machine) activeSub(tx *gorm.DB, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := tx.Where("user_id = ? AND status = ?", userID, models.SubActive).First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// Enroll creates a subscription for the user and credits the plan's welcome
// points. Plans with a payment step start PENDING_PAYMENT; everything else
// starts ACTIVE. Fires the referral trigger in the same transaction.
func (m *Machine) Enroll(db *gorm.DB, userID, planID uuid.UUID) (*models.Subscription, error) {
	var sub *models.Subscription
	err := db.Transaction(func(tx *gorm.DB) error {
		plan, err := m.plan(tx, planID)
		if err != nil {
			return err
		}
		if !plan.IsActive {
			return apperr.Statef("plan %s is no longer active", plan.TierCode)
		}
		// A pending enrollment blocks a new one too, otherwise activating
		// both later would break the single active subscription rule.
		var open int64
		err = tx.Model(&models.Subscription{}).
			Where("user_id = ? AND status IN ?", userID,
				[]models.SubscriptionStatus{models.SubActive, models.SubPendingPayment}).
			Count(&open).Error
		if err != nil {
			return err
		}
		if open > 0 {
			return apperr.Conflictf("user %s already has an open subscription", userID)
		}

		status := models.SubActive
		if plan.RequiresPayment {
			status = models.SubPendingPayment
		}
		now := time.Now()
		sub = &models.Subscription{
			UserID:           userID,
			PlanID:           plan.ID,
			Status:           status,
			MembershipNumber: newMembershipNumber(),
			StartDate:        now,
			ExpiryDate:       expiryFrom(now, plan),
		}
		if err := tx.Create(sub).Error; err != nil {
			return err
		}

		if plan.InitialPoints > 0 {
			_, err = m.points.Credit(tx, userID, decimal.NewFromInt(plan.InitialPoints),
				models.Reference{Type: models.RefMembershipWelcome, ID: sub.ID},
				fmt.Sprintf("Welcome points for %s", plan.TierName), nil)
			if err != nil {
				return err
			}
		}

		return m.referrals.OnEnroll(tx, userID, plan)
	})
	if err != nil {
		return nil, err
	}
	logger.Log.Info("subscription enrolled",
		zap.String("user", userID.String()),
		zap.String("membership_number", sub.MembershipNumber),
		zap.String("status", string(sub.Status)))
	return sub, nil
}

// Upgrade moves the user's ACTIVE subscription to a new plan, mutating the
// existing row: previous plan recorded, membership number reissued, expiry
// recomputed, upgrade points credited. Upgrading to the current plan is a
// no-op.
func (m *Machine) Upgrade(db *gorm.DB, userID, newPlanID uuid.UUID) (*models.Subscription, error) {
	var sub *models.Subscription
	err := db.Transaction(func(tx *gorm.DB) error {
		plan, err := m.plan(tx, newPlanID)
		if err != nil {
			return err
		}
		existing, err := m.activeSub(tx, userID)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperr.Statef("user %s has no active subscription to upgrade", userID)
		}
		if existing.PlanID == plan.ID {
			sub = existing
			return nil
		}

		now := time.Now()
		prev := existing.PlanID
		existing.PreviousPlanID = &prev
		existing.UpgradedAt = &now
		existing.PlanID = plan.ID
		existing.MembershipNumber = newMembershipNumber()
		existing.ExpiryDate = expiryFrom(now, plan)
		if err := tx.Save(existing).Error; err != nil {
			return err
		}

		if plan.InitialPoints > 0 {
			_, err = m.points.Credit(tx, userID, decimal.NewFromInt(plan.InitialPoints),
				models.Reference{Type: models.RefMembershipUpgrade, ID: existing.ID},
				fmt.Sprintf("Upgrade points for %s", plan.TierName), nil)
			if err != nil {
				return err
			}
		}
		sub = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (m *Machine) transition(db *gorm.DB, subID uuid.UUID, to models.SubscriptionStatus, mutate func(*models.Subscription)) (*models.Subscription, error) {
	var sub models.Subscription
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&sub, "id = ?", subID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFoundf("subscription %s not found", subID)
			}
			return err
		}
		if !sub.Status.CanTransition(to) {
			return apperr.Statef("cannot move subscription %s from %s to %s", subID, sub.Status, to)
		}
		if to == models.SubActive {
			var other int64
			err := tx.Model(&models.Subscription{}).
				Where("user_id = ? AND status = ? AND id <> ?", sub.UserID, models.SubActive, sub.ID).
				Count(&other).Error
			if err != nil {
				return err
			}
			if other > 0 {
				return apperr.Conflictf("user %s already has an active subscription", sub.UserID)
			}
		}
		sub.Status = to
		if mutate != nil {
			mutate(&sub)
		}
		return tx.Save(&sub).Error
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Activate confirms payment for a PENDING_PAYMENT subscription.
func (m *Machine) Activate(db *gorm.DB, subID uuid.UUID) (*models.Subscription, error) {
	return m.transition(db, subID, models.SubActive, nil)
}

// Cancel ends an ACTIVE or SUSPENDED subscription. Previously awarded points
// are not reversed.
func (m *Machine) Cancel(db *gorm.DB, subID uuid.UUID) (*models.Subscription, error) {
	return m.transition(db, subID, models.SubCancelled, func(s *models.Subscription) {
		now := time.Now()
		s.ExpiryDate = &now
	})
}

// Suspend mirrors the owning user's account being suspended.
func (m *Machine) Suspend(db *gorm.DB, subID uuid.UUID) (*models.Subscription, error) {
	return m.transition(db, subID, models.SubSuspended, nil)
}

// Reactivate restores a SUSPENDED subscription to ACTIVE.
func (m *Machine) Reactivate(db *gorm.DB, subID uuid.UUID) (*models.Subscription, error) {
	return m.transition(db, subID, models.SubActive, nil)
}

// Expire moves an ACTIVE subscription whose expiry date has passed to
// EXPIRED. The sweep that detects due subscriptions calls this.
func (m *Machine) Expire(db *gorm.DB, subID uuid.UUID) (*models.Subscription, error) {
	var out *models.Subscription
	err := db.Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := tx.First(&sub, "id = ?", subID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFoundf("subscription %s not found", subID)
			}
			return err
		}
		if sub.ExpiryDate == nil || sub.ExpiryDate.After(time.Now()) {
			return apperr.Statef("subscription %s is not due to expire", subID)
		}
		s, err := m.transition(tx, subID, models.SubExpired, nil)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireDue expires every ACTIVE subscription whose expiry date has passed.
// Returns the number of subscriptions expired.
func (m *Machine) ExpireDue(db *gorm.DB) (int, error) {
	var due []models.Subscription
	err := db.Where("status = ? AND expiry_date IS NOT NULL AND expiry_date < ?",
		models.SubActive, time.Now()).Find(&due).Error
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range due {
		if _, err := m.Expire(db, due[i].ID); err != nil {
			logger.Log.Error("expiry sweep failed for subscription",
				zap.String("subscription", due[i].ID.String()), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// Change is the external change_subscription operation: nil plan cancels the
// current subscription, a new plan upgrades it, and no current subscription
// means a fresh enrollment.
func (m *Machine) Change(db *gorm.DB, userID uuid.UUID, newPlanID *uuid.UUID) (*models.Subscription, error) {
	existing, err := m.activeSub(db, userID)
	if err != nil {
		return nil, err
	}
	if newPlanID == nil {
		if existing == nil {
			return nil, apperr.NotFoundf("user %s has no active subscription", userID)
		}
		return m.Cancel(db, existing.ID)
	}
	if existing == nil {
		return m.Enroll(db, userID, *newPlanID)
	}
	return m.Upgrade(db, userID, *newPlanID)
}
