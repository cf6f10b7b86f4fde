package models

import "github.com/google/uuid"

// Status values are closed string types matched exhaustively instead of the
// loose string probing the legacy system did. Adding a value without updating
// the transition tables is a compile-time visible change, not a runtime guess.

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

type AccountKind string

const (
	KindWallet   AccountKind = "WALLET"
	KindPoints   AccountKind = "POINTS"
	KindClubGift AccountKind = "CLUB_GIFT"
)

type EntryKind string

const (
	EntryCredit  EntryKind = "CREDIT"
	EntryDebit   EntryKind = "DEBIT"
	EntryHold    EntryKind = "HOLD"
	EntryRelease EntryKind = "RELEASE"
)

type ReferenceType string

const (
	RefOrderPayment      ReferenceType = "ORDER_PAYMENT"
	RefMembershipWelcome ReferenceType = "MEMBERSHIP_WELCOME"
	RefMembershipUpgrade ReferenceType = "MEMBERSHIP_UPGRADE"
	RefReferralBonus     ReferenceType = "REFERRAL_BONUS"
	RefGatewayPayment    ReferenceType = "GATEWAY_PAYMENT"
	RefAdminAdjustment   ReferenceType = "ADMIN_ADJUSTMENT"
	RefWithdrawal        ReferenceType = "WITHDRAWAL"
)

// Reference identifies the business event behind a ledger entry. The
// (Type, ID) pair doubles as the idempotency key for settlement and
// compensation.
type Reference struct {
	Type ReferenceType
	ID   uuid.UUID
}

type SubscriptionStatus string

const (
	SubPendingPayment SubscriptionStatus = "PENDING_PAYMENT"
	SubActive         SubscriptionStatus = "ACTIVE"
	SubSuspended      SubscriptionStatus = "SUSPENDED"
	SubExpired        SubscriptionStatus = "EXPIRED"
	SubCancelled      SubscriptionStatus = "CANCELLED"
)

// CanTransition reports whether the subscription lifecycle permits moving
// from s to next. EXPIRED and CANCELLED are terminal.
func (s SubscriptionStatus) CanTransition(next SubscriptionStatus) bool {
	switch s {
	case SubPendingPayment:
		return next == SubActive || next == SubCancelled
	case SubActive:
		return next == SubSuspended || next == SubExpired || next == SubCancelled
	case SubSuspended:
		return next == SubActive || next == SubCancelled
	case SubExpired, SubCancelled:
		return false
	}
	return false
}

type ReferralStatus string

const (
	ReferralPending ReferralStatus = "PENDING"
	ReferralActive  ReferralStatus = "ACTIVE"
)

type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "UNPAID"
	PaymentPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentPaid          PaymentStatus = "PAID"
)

type OrderStatus string

const (
	OrderDraft     OrderStatus = "DRAFT"
	OrderIssued    OrderStatus = "ISSUED"
	OrderCancelled OrderStatus = "CANCELLED"
)
