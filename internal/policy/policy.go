// Package policy is the single authorization table consulted by every
// settlement and subscription operation. Handlers never hard-code role
// checks; adding an operation means adding one row here.
package policy

import "github.com/diPencil/altayar-backend-sub000/internal/models"

type Operation string

const (
	OpViewBalances       Operation = "ledger.view_balances"
	OpCredit             Operation = "ledger.credit"
	OpDebit              Operation = "ledger.debit"
	OpHold               Operation = "ledger.hold"
	OpReleaseHold        Operation = "ledger.release_hold"
	OpSettle             Operation = "settlement.settle"
	OpCompensate         Operation = "settlement.compensate"
	OpEnrollSubscription Operation = "membership.enroll"
	OpChangeSubscription Operation = "membership.change"
	OpAdminSubscription  Operation = "membership.admin"
)

// adminOnly lists the operations closed to regular members. Everything not
// listed is available to any authenticated user acting on their own data.
var adminOnly = map[Operation]bool{
	OpCredit:            true,
	OpDebit:             true,
	OpReleaseHold:       true,
	OpSettle:            true,
	OpCompensate:        true,
	OpAdminSubscription: true,
}

func Allowed(role models.Role, op Operation) bool {
	if role == models.RoleAdmin {
		return true
	}
	return !adminOnly[op]
}
