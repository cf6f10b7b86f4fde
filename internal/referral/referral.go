// Package referral promotes a pending referral when the referred user first
// enrolls, crediting the referrer's points ledger once and only once.
package referral

import (
	"time"

	"github.com/diPencil/altayar-backend-sub000/internal/ledger"
	"github.com/diPencil/altayar-backend-sub000/internal/logger"
	"github.com/diPencil/altayar-backend-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Trigger struct {
	points     *ledger.Ledger
	rewardRate decimal.Decimal // fraction of plan price, e.g. 0.10
}

func NewTrigger(points *ledger.Ledger, rewardRate decimal.Decimal) *Trigger {
	return &Trigger{points: points, rewardRate: rewardRate}
}

// OnEnroll fires when userID enrolls in plan. If a PENDING referral names
// userID as the referred party it becomes ACTIVE and the referrer earns
// floor(plan.price * rate) points tagged with the referral id. The guarded
// status flip makes the promotion at-most-once: concurrent or repeated
// enrollments find no PENDING row and do nothing.
func (t *Trigger) OnEnroll(tx *gorm.DB, userID uuid.UUID, plan *models.MembershipPlan) error {
	var ref models.Referral
	err := tx.Where("referred_user_id = ? AND status = ?", userID, models.ReferralPending).First(&ref).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	}

	reward := plan.Price.Mul(t.rewardRate).Floor().IntPart()

	res := tx.Model(&models.Referral{}).
		Where("id = ? AND status = ?", ref.ID, models.ReferralPending).
		Updates(map[string]any{
			"status":        models.ReferralActive,
			"points_earned": reward,
			"plan_id":       plan.ID,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race to another enrollment; nothing to award.
		return nil
	}

	if reward > 0 {
		_, err = t.points.Credit(tx, ref.ReferrerID, decimal.NewFromInt(reward),
			models.Reference{Type: models.RefReferralBonus, ID: ref.ID},
			"Referral bonus", nil)
		if err != nil {
			return err
		}
	}

	logger.Log.Info("referral promoted",
		zap.String("referral", ref.ID.String()),
		zap.String("referrer", ref.ReferrerID.String()),
		zap.Int64("points", reward))
	return nil
}
