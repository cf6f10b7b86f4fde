// Package ledger implements the append-only balance primitive behind the
// wallet, points and club-gift currencies. Every balance change is an atomic
// guarded increment against the account row plus one immutable entry; there
// is no read-then-write anywhere, so concurrent requests against the same
// account cannot race past each other.
package ledger

import (
	"time"

	"github.com/diPencil/altayar-backend-sub000/internal/apperr"
	"github.com/diPencil/altayar-backend-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger is one of the three balance kinds. It is a cheap value object; all
// state lives in the database and every method operates on the caller's
// transaction handle.
type Ledger struct {
	kind     models.AccountKind
	currency string // empty for POINTS
}

func Wallet(currency string) *Ledger {
	return &Ledger{kind: models.KindWallet, currency: currency}
}

func Points() *Ledger {
	return &Ledger{kind: models.KindPoints}
}

func ClubGift(currency string) *Ledger {
	return &Ledger{kind: models.KindClubGift, currency: currency}
}

func (l *Ledger) Kind() models.AccountKind { return l.kind }

// Account returns the (owner, kind) account, creating it on first access.
// Accounts are never deleted.
func (l *Ledger) Account(tx *gorm.DB, ownerID uuid.UUID) (*models.LedgerAccount, error) {
	var acc models.LedgerAccount
	err := tx.Where(&models.LedgerAccount{OwnerID: ownerID, Kind: l.kind}).
		Attrs(&models.LedgerAccount{Currency: l.currency, Balance: decimal.Zero}).
		FirstOrCreate(&acc).Error
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (l *Ledger) validAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return apperr.Validationf("amount must be positive, got %s", amount)
	}
	if l.kind == models.KindPoints && !amount.IsInteger() {
		return apperr.Validationf("points amount must be a whole number, got %s", amount)
	}
	return nil
}

// Credit appends a CREDIT entry and raises the balance by amount.
func (l *Ledger) Credit(tx *gorm.DB, ownerID uuid.UUID, amount decimal.Decimal, ref models.Reference, note string, createdBy *uuid.UUID) (*models.LedgerEntry, error) {
	if err := l.validAmount(amount); err != nil {
		return nil, err
	}
	acc, err := l.Account(tx, ownerID)
	if err != nil {
		return nil, err
	}

	res := tx.Model(&models.LedgerAccount{}).Where("id = ?", acc.ID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return nil, res.Error
	}

	after, err := l.reload(tx, acc.ID)
	if err != nil {
		return nil, err
	}
	return l.append(tx, &models.LedgerEntry{
		AccountID:     acc.ID,
		Amount:        amount,
		BalanceBefore: after.Sub(amount),
		BalanceAfter:  after,
		Kind:          models.EntryCredit,
		ReferenceType: ref.Type,
		ReferenceID:   refID(ref),
		Description:   note,
		CreatedBy:     createdBy,
	})
}

// Debit appends a DEBIT entry and lowers the balance by amount. The check
// against the available balance and the decrement happen in one guarded
// statement; if the guard does not match, nothing changes and the caller
// gets InsufficientBalanceError.
func (l *Ledger) Debit(tx *gorm.DB, ownerID uuid.UUID, amount decimal.Decimal, ref models.Reference, note string, createdBy *uuid.UUID) (*models.LedgerEntry, error) {
	if err := l.validAmount(amount); err != nil {
		return nil, err
	}
	acc, err := l.Account(tx, ownerID)
	if err != nil {
		return nil, err
	}
	held, err := l.openHolds(tx, acc.ID)
	if err != nil {
		return nil, err
	}

	// The threshold is computed here so the guard compares the bare column
	// against a single bind; column affinity then applies on every backend.
	res := tx.Model(&models.LedgerAccount{}).
		Where("id = ? AND balance >= ?", acc.ID, held.Add(amount)).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		avail, _ := l.AvailableBalance(tx, ownerID)
		return nil, apperr.InsufficientBalancef("%s balance too low: available %s, requested %s", l.kind, avail, amount)
	}

	after, err := l.reload(tx, acc.ID)
	if err != nil {
		return nil, err
	}
	return l.append(tx, &models.LedgerEntry{
		AccountID:     acc.ID,
		Amount:        amount.Neg(),
		BalanceBefore: after.Add(amount),
		BalanceAfter:  after,
		Kind:          models.EntryDebit,
		ReferenceType: ref.Type,
		ReferenceID:   refID(ref),
		Description:   note,
		CreatedBy:     createdBy,
	})
}

// Hold reserves amount against the available balance without touching the
// canonical balance. Used for withdrawal requests pending manual approval.
func (l *Ledger) Hold(tx *gorm.DB, ownerID uuid.UUID, amount decimal.Decimal, ref models.Reference, note string, createdBy *uuid.UUID) (*models.LedgerEntry, error) {
	if err := l.validAmount(amount); err != nil {
		return nil, err
	}
	acc, err := l.Account(tx, ownerID)
	if err != nil {
		return nil, err
	}
	held, err := l.openHolds(tx, acc.ID)
	if err != nil {
		return nil, err
	}

	// Guarded touch: locks the row and verifies available funds in one
	// statement without changing the balance.
	res := tx.Model(&models.LedgerAccount{}).
		Where("id = ? AND balance >= ?", acc.ID, held.Add(amount)).
		Update("updated_at", time.Now())
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		avail, _ := l.AvailableBalance(tx, ownerID)
		return nil, apperr.InsufficientBalancef("%s balance too low to hold: available %s, requested %s", l.kind, avail, amount)
	}

	bal, err := l.reload(tx, acc.ID)
	if err != nil {
		return nil, err
	}
	return l.append(tx, &models.LedgerEntry{
		AccountID:     acc.ID,
		Amount:        decimal.Zero,
		BalanceBefore: bal,
		BalanceAfter:  bal,
		Kind:          models.EntryHold,
		HeldAmount:    amount,
		ReferenceType: ref.Type,
		ReferenceID:   refID(ref),
		Description:   note,
		CreatedBy:     createdBy,
	})
}

// Release resolves a hold exactly once. On approve the hold is finalized as a
// DEBIT (the external payout itself is recorded by the caller); on reject a
// RELEASE entry restores the available balance. A second resolution attempt
// fails with ConflictError.
func (l *Ledger) Release(tx *gorm.DB, holdID uuid.UUID, approve bool, createdBy *uuid.UUID) (*models.LedgerEntry, error) {
	var hold models.LedgerEntry
	if err := tx.First(&hold, "id = ?", holdID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFoundf("hold %s not found", holdID)
		}
		return nil, err
	}
	if hold.Kind != models.EntryHold {
		return nil, apperr.Statef("entry %s is a %s, not a hold", holdID, hold.Kind)
	}

	var resolved int64
	if err := tx.Model(&models.LedgerEntry{}).Where("hold_id = ?", holdID).Count(&resolved).Error; err != nil {
		return nil, err
	}
	if resolved > 0 {
		return nil, apperr.Conflictf("hold %s already resolved", holdID)
	}

	if !approve {
		return l.append(tx, &models.LedgerEntry{
			AccountID:     hold.AccountID,
			Amount:        decimal.Zero,
			BalanceBefore: hold.BalanceAfter,
			BalanceAfter:  hold.BalanceAfter,
			Kind:          models.EntryRelease,
			HeldAmount:    hold.HeldAmount,
			HoldID:        &hold.ID,
			ReferenceType: hold.ReferenceType,
			ReferenceID:   hold.ReferenceID,
			Description:   "hold rejected",
			CreatedBy:     createdBy,
		})
	}

	// The held amount was excluded from the available balance, so the
	// canonical balance always covers it.
	res := tx.Model(&models.LedgerAccount{}).
		Where("id = ? AND balance >= ?", hold.AccountID, hold.HeldAmount).
		Update("balance", gorm.Expr("balance - ?", hold.HeldAmount))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperr.InsufficientBalancef("balance no longer covers hold %s", holdID)
	}

	after, err := l.reload(tx, hold.AccountID)
	if err != nil {
		return nil, err
	}
	return l.append(tx, &models.LedgerEntry{
		AccountID:     hold.AccountID,
		Amount:        hold.HeldAmount.Neg(),
		BalanceBefore: after.Add(hold.HeldAmount),
		BalanceAfter:  after,
		Kind:          models.EntryDebit,
		HoldID:        &hold.ID,
		ReferenceType: hold.ReferenceType,
		ReferenceID:   hold.ReferenceID,
		Description:   "hold approved",
		CreatedBy:     createdBy,
	})
}

// Balance returns the canonical balance for the owner's account.
func (l *Ledger) Balance(tx *gorm.DB, ownerID uuid.UUID) (decimal.Decimal, error) {
	acc, err := l.Account(tx, ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// AvailableBalance is the canonical balance minus the sum of open holds.
func (l *Ledger) AvailableBalance(tx *gorm.DB, ownerID uuid.UUID) (decimal.Decimal, error) {
	acc, err := l.Account(tx, ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	held, err := l.openHolds(tx, acc.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance.Sub(held), nil
}

// Entries returns the account's entries, newest first.
func (l *Ledger) Entries(tx *gorm.DB, ownerID uuid.UUID, limit, offset int) ([]models.LedgerEntry, error) {
	acc, err := l.Account(tx, ownerID)
	if err != nil {
		return nil, err
	}
	var entries []models.LedgerEntry
	err = tx.Where("account_id = ?", acc.ID).
		Order("created_at DESC").Limit(limit).Offset(offset).
		Find(&entries).Error
	return entries, err
}

func (l *Ledger) openHolds(tx *gorm.DB, accountID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := tx.Model(&models.LedgerEntry{}).
		Select("SUM(held_amount)").
		Where("account_id = ? AND kind = ?", accountID, models.EntryHold).
		Where("id NOT IN (?)", tx.Model(&models.LedgerEntry{}).
			Select("hold_id").Where("account_id = ? AND hold_id IS NOT NULL", accountID)).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (l *Ledger) reload(tx *gorm.DB, accountID uuid.UUID) (decimal.Decimal, error) {
	var acc models.LedgerAccount
	if err := tx.First(&acc, "id = ?", accountID).Error; err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

func (l *Ledger) append(tx *gorm.DB, e *models.LedgerEntry) (*models.LedgerEntry, error) {
	if err := tx.Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

func refID(ref models.Reference) *uuid.UUID {
	if ref.ID == uuid.Nil {
		return nil
	}
	id := ref.ID
	return &id
}
