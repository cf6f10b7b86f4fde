package ledger

import (
	"github.com/diPencil/altayar-backend-sub000/internal/apperr"
	"github.com/diPencil/altayar-backend-sub000/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reverse appends an equal-and-opposite CREDIT for a previously applied
// debit, tagged with the same reference and linked back through
// ReversedEntryID. The original entry is never touched.
func Reverse(tx *gorm.DB, debit *models.LedgerEntry, createdBy *uuid.UUID) (*models.LedgerEntry, error) {
	if debit.Kind != models.EntryDebit || debit.Amount.Sign() >= 0 {
		return nil, apperr.Statef("entry %s is not a reversible debit", debit.ID)
	}
	amount := debit.Amount.Neg()

	res := tx.Model(&models.LedgerAccount{}).Where("id = ?", debit.AccountID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return nil, res.Error
	}

	var acc models.LedgerAccount
	if err := tx.First(&acc, "id = ?", debit.AccountID).Error; err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		AccountID:       debit.AccountID,
		Amount:          amount,
		BalanceBefore:   acc.Balance.Sub(amount),
		BalanceAfter:    acc.Balance,
		Kind:            models.EntryCredit,
		ReversedEntryID: &debit.ID,
		ReferenceType:   debit.ReferenceType,
		ReferenceID:     debit.ReferenceID,
		Description:     "REVERSAL",
		CreatedBy:       createdBy,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}
