// Package settlement composes draws from the points, wallet and club-gift
// ledgers to pay down a priced item. A settle call is all-or-nothing: every
// draw is validated before any debit is applied, debits run in a fixed order
// inside one transaction, and a debit failing mid-way is compensated before
// the error surfaces. Callers never observe a half-applied settlement.
package settlement

import (
	"errors"

	"github.com/diPencil/altayar-backend-sub000/internal/apperr"
	"github.com/diPencil/altayar-backend-sub000/internal/ledger"
	"github.com/diPencil/altayar-backend-sub000/internal/logger"
	"github.com/diPencil/altayar-backend-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Composer struct {
	points   *ledger.Ledger
	wallet   *ledger.Ledger
	clubGift *ledger.Ledger
}

func NewComposer(points, wallet, clubGift *ledger.Ledger) *Composer {
	return &Composer{points: points, wallet: wallet, clubGift: clubGift}
}

// PricedItem is the ephemeral settlement request target. It is not persisted
// here; the order row belongs to the caller.
type PricedItem struct {
	Reference      models.Reference
	UserID         uuid.UUID
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	Discount       decimal.Decimal // manual discount already on the item
	StatusOverride *models.PaymentStatus
}

// Draws are the requested amounts per ledger, in each ledger's own unit.
// Points are converted to currency with the active conversion rate.
type Draws struct {
	Points   decimal.Decimal
	Wallet   decimal.Decimal
	ClubGift decimal.Decimal
}

func (d Draws) empty() bool {
	return d.Points.IsZero() && d.Wallet.IsZero() && d.ClubGift.IsZero()
}

type Result struct {
	DiscountApplied decimal.Decimal
	TotalDue        decimal.Decimal
	Status          models.PaymentStatus
	Rate            decimal.Decimal // points -> currency rate used
	Entries         []*models.LedgerEntry
}

// ConversionRate derives the points-to-currency rate from the user's current
// active plan: plan.price / plan.initial_points, falling back to 1:1 when the
// user has no active plan or the plan awards no points. Only a missing row is
// a fallback; any other database error propagates.
func (c *Composer) ConversionRate(tx *gorm.DB, userID uuid.UUID) (decimal.Decimal, error) {
	one := decimal.NewFromInt(1)

	var sub models.Subscription
	err := tx.Where("user_id = ? AND status = ?", userID, models.SubActive).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return one, nil
		}
		return decimal.Zero, err
	}
	var plan models.MembershipPlan
	if err := tx.First(&plan, "id = ?", sub.PlanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return one, nil
		}
		return decimal.Zero, err
	}
	if plan.InitialPoints <= 0 {
		return one, nil
	}
	return plan.Price.Div(decimal.NewFromInt(plan.InitialPoints)), nil
}

// Settle draws from the ledgers to pay down item. The whole call runs inside
// one transaction: either every debit and the resulting status commit
// together, or none do. Re-settling a reference that already has debits is
// rejected with ConflictError.
func (c *Composer) Settle(db *gorm.DB, item PricedItem, draws Draws, createdBy *uuid.UUID) (*Result, error) {
	if draws.Points.Sign() < 0 || draws.Wallet.Sign() < 0 || draws.ClubGift.Sign() < 0 {
		return nil, apperr.Validationf("draw amounts must not be negative")
	}

	var result *Result
	err := db.Transaction(func(tx *gorm.DB) error {
		settled, err := c.hasDebits(tx, item.Reference)
		if err != nil {
			return err
		}
		if settled {
			return apperr.Conflictf("reference %s/%s already settled", item.Reference.Type, item.Reference.ID)
		}

		rate, err := c.ConversionRate(tx, item.UserID)
		if err != nil {
			return err
		}
		pointsValue := draws.Points.Mul(rate)

		// Validate every non-zero draw before touching any ledger, so a
		// rejected request leaves zero entries anywhere.
		type draw struct {
			ledger *ledger.Ledger
			amount decimal.Decimal
		}
		ordered := []draw{
			{c.points, draws.Points},
			{c.wallet, draws.Wallet},
			{c.clubGift, draws.ClubGift},
		}
		for _, d := range ordered {
			if d.amount.IsZero() {
				continue
			}
			avail, err := d.ledger.AvailableBalance(tx, item.UserID)
			if err != nil {
				return err
			}
			if d.amount.GreaterThan(avail) {
				return apperr.InsufficientBalancef("%s balance too low: available %s, requested %s",
					d.ledger.Kind(), avail, d.amount)
			}
		}

		// Apply in fixed order: points -> wallet -> club-gift. Should a
		// later debit still fail, every already-applied debit is reversed
		// before the error surfaces; the enclosing rollback is the final
		// backstop.
		var entries []*models.LedgerEntry
		for _, d := range ordered {
			if d.amount.IsZero() {
				continue
			}
			entry, err := d.ledger.Debit(tx, item.UserID, d.amount, item.Reference, "Order payment", createdBy)
			if err != nil {
				for i := len(entries) - 1; i >= 0; i-- {
					if _, rerr := ledger.Reverse(tx, entries[i], createdBy); rerr != nil {
						logger.Log.Error("settlement compensation failed",
							zap.String("entry", entries[i].ID.String()), zap.Error(rerr))
					}
				}
				return err
			}
			entries = append(entries, entry)
		}

		discountApplied := pointsValue.Add(draws.Wallet).Add(draws.ClubGift)
		totalDue := item.Subtotal.Add(item.Tax).Sub(item.Discount).Sub(discountApplied)
		if totalDue.Sign() < 0 {
			totalDue = decimal.Zero
		}

		drew := len(entries) > 0
		var status models.PaymentStatus
		switch {
		case item.StatusOverride != nil:
			status = *item.StatusOverride
		case totalDue.IsZero() && drew:
			status = models.PaymentPaid
		case drew:
			status = models.PaymentPartiallyPaid
		default:
			status = models.PaymentUnpaid
		}

		result = &Result{
			DiscountApplied: discountApplied,
			TotalDue:        totalDue,
			Status:          status,
			Rate:            rate,
			Entries:         entries,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Compensate reverses every debit tagged with ref that has not been reversed
// yet, each with an equal-and-opposite credit linked back to the debit.
// Idempotent: a second call finds nothing left to reverse and is a no-op.
func (c *Composer) Compensate(db *gorm.DB, ref models.Reference, createdBy *uuid.UUID) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var debits []models.LedgerEntry
		err := tx.Where("reference_type = ? AND reference_id = ? AND kind = ?",
			ref.Type, ref.ID, models.EntryDebit).
			Order("created_at").Find(&debits).Error
		if err != nil {
			return err
		}

		for i := range debits {
			var reversed int64
			if err := tx.Model(&models.LedgerEntry{}).
				Where("reversed_entry_id = ?", debits[i].ID).Count(&reversed).Error; err != nil {
				return err
			}
			if reversed > 0 {
				continue
			}
			if _, err := ledger.Reverse(tx, &debits[i], createdBy); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Composer) hasDebits(tx *gorm.DB, ref models.Reference) (bool, error) {
	var n int64
	err := tx.Model(&models.LedgerEntry{}).
		Where("reference_type = ? AND reference_id = ? AND kind = ?", ref.Type, ref.ID, models.EntryDebit).
		Count(&n).Error
	return n > 0, err
}
