package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password  string    `gorm:"size:255" json:"-"`
	Role      Role      `gorm:"size:20;not null;default:MEMBER" json:"role"`
	Suspended bool      `gorm:"not null;default:false" json:"suspended"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

type MembershipPlan struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TierCode        string          `gorm:"uniqueIndex;size:50;not null" json:"tier_code"`
	TierName        string          `gorm:"size:100;not null" json:"tier_name"`
	TierOrder       int             `gorm:"index;not null" json:"tier_order"`
	Price           decimal.Decimal `gorm:"type:numeric;not null" json:"price"`
	Currency        string          `gorm:"size:3;not null" json:"currency"`
	InitialPoints   int64           `gorm:"not null;default:0" json:"initial_points"`
	DurationDays    *int            `json:"duration_days"` // nil = lifetime
	RequiresPayment bool            `gorm:"not null;default:false" json:"requires_payment"`
	// No column default: with one, gorm drops a zero-valued false on insert
	// and a plan could never be created inactive.
	IsActive        bool            `gorm:"not null" json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (p *MembershipPlan) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// LedgerAccount holds the canonical balance for one (owner, kind) pair.
// Exactly one account per pair, created lazily and never deleted.
// Invariant: Balance == sum of Amount over the account's entries.
type LedgerAccount struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID   uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_owner_kind;not null" json:"owner_id"`
	Kind      AccountKind     `gorm:"size:20;uniqueIndex:idx_owner_kind;not null" json:"kind"`
	Currency  string          `gorm:"size:3" json:"currency,omitempty"` // money ledgers only
	Balance   decimal.Decimal `gorm:"type:numeric;not null" json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (a *LedgerAccount) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// LedgerEntry is immutable once written. Reversals are new entries, never edits.
//
// Amount is the signed effect on the account balance; it is zero for HOLD and
// RELEASE entries, which only move the available balance. HeldAmount carries
// the reserved amount of a HOLD. HoldID links a resolving DEBIT or RELEASE
// back to the hold it closes; ReversedEntryID links a compensating CREDIT back
// to the debit it reverses.
type LedgerEntry struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID       uuid.UUID       `gorm:"type:uuid;index;not null" json:"account_id"`
	Amount          decimal.Decimal `gorm:"type:numeric;not null" json:"amount"`
	BalanceBefore   decimal.Decimal `gorm:"type:numeric;not null" json:"balance_before"`
	BalanceAfter    decimal.Decimal `gorm:"type:numeric;not null" json:"balance_after"`
	Kind            EntryKind       `gorm:"size:10;index;not null" json:"kind"`
	HeldAmount      decimal.Decimal `gorm:"type:numeric;not null" json:"held_amount"`
	HoldID          *uuid.UUID      `gorm:"type:uuid;index" json:"hold_id,omitempty"`
	ReversedEntryID *uuid.UUID      `gorm:"type:uuid;index" json:"reversed_entry_id,omitempty"`
	ReferenceType   ReferenceType   `gorm:"size:30;index" json:"reference_type,omitempty"`
	ReferenceID     *uuid.UUID      `gorm:"type:uuid;index" json:"reference_id,omitempty"`
	Description     string          `gorm:"size:255" json:"description"`
	CreatedBy       *uuid.UUID      `gorm:"type:uuid" json:"created_by,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Subscription is mutated in place on upgrade/suspend/cancel and never
// physically deleted. At most one ACTIVE row per user at any time.
type Subscription struct {
	ID               uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	// The partial unique index is the schema-level backstop for the single
	// active subscription rule; the state machine checks it first.
	UserID           uuid.UUID          `gorm:"type:uuid;index;uniqueIndex:idx_one_active_sub,where:status = 'ACTIVE';not null" json:"user_id"`
	PlanID           uuid.UUID          `gorm:"type:uuid;index;not null" json:"plan_id"`
	Status           SubscriptionStatus `gorm:"size:20;index;not null" json:"status"`
	MembershipNumber string             `gorm:"uniqueIndex;size:50;not null" json:"membership_number"`
	StartDate        time.Time          `gorm:"not null" json:"start_date"`
	ExpiryDate       *time.Time         `json:"expiry_date"` // nil = lifetime
	PreviousPlanID   *uuid.UUID         `gorm:"type:uuid" json:"previous_plan_id,omitempty"`
	UpgradedAt       *time.Time         `json:"upgraded_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Referral transitions PENDING -> ACTIVE at most once, when the referred user
// first enrolls in a plan.
type Referral struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ReferrerID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"referrer_id"`
	ReferredUserID uuid.UUID      `gorm:"type:uuid;uniqueIndex;not null" json:"referred_user_id"`
	Status         ReferralStatus `gorm:"size:20;index;not null" json:"status"`
	PointsEarned   int64          `gorm:"not null;default:0" json:"points_earned"`
	PlanID         *uuid.UUID     `gorm:"type:uuid" json:"plan_id,omitempty"` // plan that completed the referral
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (r *Referral) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

type Order struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber    string          `gorm:"uniqueIndex;size:50;not null" json:"order_number"`
	UserID         uuid.UUID       `gorm:"type:uuid;index;not null" json:"user_id"`
	Status         OrderStatus     `gorm:"size:20;index;not null" json:"status"`
	Subtotal       decimal.Decimal `gorm:"type:numeric;not null" json:"subtotal"`
	TaxAmount      decimal.Decimal `gorm:"type:numeric;not null" json:"tax_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric;not null" json:"discount_amount"`
	TotalAmount    decimal.Decimal `gorm:"type:numeric;not null" json:"total_amount"`
	Currency       string          `gorm:"size:3;not null" json:"currency"`
	PaymentStatus  PaymentStatus   `gorm:"size:20;index;not null" json:"payment_status"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CreatedBy      *uuid.UUID      `gorm:"type:uuid" json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
