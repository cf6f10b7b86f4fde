package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/diPencil/altayar-backend-sub000/configs"
	"github.com/diPencil/altayar-backend-sub000/internal/httputil"
	"github.com/diPencil/altayar-backend-sub000/internal/ledger"
	"github.com/diPencil/altayar-backend-sub000/internal/logger"
	"github.com/diPencil/altayar-backend-sub000/internal/membership"
	"github.com/diPencil/altayar-backend-sub000/internal/middleware"
	"github.com/diPencil/altayar-backend-sub000/internal/models"
	"github.com/diPencil/altayar-backend-sub000/internal/policy"
	"github.com/diPencil/altayar-backend-sub000/internal/referral"
	"github.com/diPencil/altayar-backend-sub000/internal/settlement"
	"github.com/diPencil/altayar-backend-sub000/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Service construction is cheap; ledgers and composers are stateless value
// objects bound to config, built per request.

func pointsLedger() *ledger.Ledger { return ledger.Points() }

func walletLedger() *ledger.Ledger {
	return ledger.Wallet(configs.AppConfig.Wallet.Currency)
}

func clubGiftLedger() *ledger.Ledger {
	return ledger.ClubGift(configs.AppConfig.Wallet.Currency)
}

func composer() *settlement.Composer {
	return settlement.NewComposer(pointsLedger(), walletLedger(), clubGiftLedger())
}

func machine() *membership.Machine {
	rate := decimal.NewFromFloat(configs.AppConfig.Referral.RewardRate)
	return membership.NewMachine(pointsLedger(), referral.NewTrigger(pointsLedger(), rate))
}

func ledgerByKind(kind models.AccountKind) (*ledger.Ledger, bool) {
	switch kind {
	case models.KindWallet:
		return walletLedger(), true
	case models.KindPoints:
		return pointsLedger(), true
	case models.KindClubGift:
		return clubGiftLedger(), true
	}
	return nil, false
}

func requireOp(w http.ResponseWriter, r *http.Request, op policy.Operation) bool {
	if !policy.Allowed(middleware.Role(r.Context()), op) {
		httputil.WriteError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// callerOrTarget resolves which user an operation applies to: admins may pass
// a target user id, members always act on themselves.
func callerOrTarget(r *http.Request, target uuid.UUID) (uuid.UUID, bool) {
	caller, ok := middleware.UserID(r.Context())
	if !ok {
		return uuid.Nil, false
	}
	if target == uuid.Nil || target == caller {
		return caller, true
	}
	return target, middleware.Role(r.Context()) == models.RoleAdmin
}

// ---- auth ----

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	var user models.User
	if err := store.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	claims := jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": string(user.Role),
		"exp":  time.Now().Add(24 * time.Hour).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(configs.AppConfig.JWT.SECRET))
	if err != nil {
		logger.Log.Error("failed to sign jwt", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LoginResponse{Token: signed})
}

func MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var user models.User
	if err := store.DB.First(&user, "id = ?", userID).Error; err != nil {
		httputil.WriteError(w, http.StatusNotFound, "user not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// ---- ledger ----

type BalanceView struct {
	Kind      models.AccountKind `json:"kind"`
	Currency  string             `json:"currency,omitempty"`
	Balance   decimal.Decimal    `json:"balance"`
	Available decimal.Decimal    `json:"available_balance"`
}

func BalancesHandler(w http.ResponseWriter, r *http.Request) {
	if !requireOp(w, r, policy.OpViewBalances) {
		return
	}
	target := uuid.Nil
	if q := r.URL.Query().Get("user_id"); q != "" {
		id, err := uuid.Parse(q)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		target = id
	}
	userID, ok := callerOrTarget(r, target)
	if !ok {
		httputil.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}

	var views []BalanceView
	for _, l := range []*ledger.Ledger{walletLedger(), pointsLedger(), clubGiftLedger()} {
		acc, err := l.Account(store.DB, userID)
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		avail, err := l.AvailableBalance(store.DB, userID)
		if err != nil {
			httputil.WriteAppError(w, err)
			return
		}
		views = append(views, BalanceView{
			Kind:      l.Kind(),
			Currency:  acc.Currency,
			Balance:   acc.Balance,
			Available: avail,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

func EntriesHandler(w http.ResponseWriter, r *http.Request) {
	if !requireOp(w, r, policy.OpViewBalances) {
		return
	}
	kind := models.AccountKind(strings.ToUpper(chi.URLParam(r, "kind")))
	l, ok := ledgerByKind(kind)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "unknown ledger kind")
		return
	}
	target := uuid.Nil
	if q := r.URL.Query().Get("user_id"); q != "" {
		id, err := uuid.Parse(q)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		target = id
	}
	userID, ok := callerOrTarget(r, target)
	if !ok {
		httputil.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}
	entries, err := l.Entries(store.DB, userID, 50, 0)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

type EntryRequest struct {
	UserID        uuid.UUID            `json:"user_id"`
	Kind          models.AccountKind   `json:"kind"`
	Amount        decimal.Decimal      `json:"amount"`
	ReferenceType models.ReferenceType `json:"reference_type"`
	ReferenceID   uuid.UUID            `json:"reference_id"`
	Note          string               `json:"note"`
}

// CreditHandler records admin adjustments and gateway-confirmed deposits
// (reference type GATEWAY_PAYMENT).
func CreditHandler(w http.ResponseWriter, r *http.Request) {
	if !requireOp(w, r, policy.OpCredit) {
		return
	}
	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	l, ok := ledgerByKind(req.Kind)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "unknown ledger kind")
		return
	}
	caller, _ := middleware.UserID(r.Context())

	var entry *models.LedgerEntry
	err := store.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = l.Credit(tx, req.UserID, req.Amount,
			models.Reference{Type: req.ReferenceType, ID: req.ReferenceID}, req.Note, &caller)
		return err
	})
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

func DebitHandler(w http.ResponseWriter, r *http.Request) {
	if !requireOp(w, r, policy.OpDebit) {
		return
	}
	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	l, ok := ledgerByKind(req.Kind)
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "unknown ledger kind")
		return
	}
	caller, _ := middleware.UserID(r.Context())

	var entry *models.LedgerEntry
	err := store.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = l.Debit(tx, req.UserID, req.Amount,
			models.Reference{Type: req.ReferenceType, ID: req.ReferenceID}, req.Note, &caller)
		return err
	})
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

type HoldRequest struct {
	Kind   models.AccountKind `json:"kind"`
	Amount decimal.Decimal    `json:"amount"`
}

// HoldHandler opens a withdrawal request: the amount is reserved against the
// caller's available balance until an admin resolves it.
func HoldHandler(w http.ResponseWriter, r *http.Request) {
	if !requireOp(w, r, policy.OpHold) {
		return
	}
	var req HoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = models.KindWallet
	}
	l, ok := ledgerByKind(req.Kind)
	if !ok || req.Kind == models.KindPoints {
		httputil.WriteError(w, http.StatusBadRequest, "holds are only supported on money ledgers")
		return
	}
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var entry *models.LedgerEntry
	err := store.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = l.Hold(tx, userID, req.Amount,
			models.Reference{Type: models.RefWithdrawal}, "Withdrawal request", &userID)
		return err
	})
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entry)
}

type ReleaseRequest struct {
	Approve bool `json:"approve"`
}

func ReleaseHandler(w http.ResponseWriter, r *http.Request) {
	if !requireOp(w, r, policy.OpReleaseHold) {
		return
	}
	holdID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid hold id")
		return
	}
	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, _ := middleware.UserID(r.Context())

	// The ledger kind is irrelevant for resolution; the hold entry already
	// pins the account.
	l := walletLedger()
	var entry *models.LedgerEntry
	err = store.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = l.Release(tx, holdID, req.Approve, &caller)
		return err
	})
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

// ---- orders / settlement ----

type OrderRequest struct {
	UserID         uuid.UUID             `json:"user_id"`
	Subtotal       decimal.Decimal       `json:"subtotal"`
	TaxRate        *float64              `json:"tax_rate,omitempty"`
	Discount       decimal.Decimal       `json:"discount_amount"`
	PointsToUse    decimal.Decimal       `json:"points_to_use"`
	WalletToUse    decimal.Decimal       `json:"wallet_to_use"`
	ClubGiftToUse  decimal.Decimal       `json:"club_gift_to_use"`
	PaymentStatus  *models.PaymentStatus `json:"payment_status,omitempty"`
}

type OrderResponse struct {
	Order           models.Order          `json:"order"`
	DiscountApplied decimal.Decimal       `json:"discount_applied"`
	TotalDue        decimal.Decimal       `json:"total_due"`
	Entries         []*models.LedgerEntry `json:"entries"`
}

func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// CreateOrderHandler creates an order and settles the requested draws against
// it in one transaction: either the order row, every debit and the payment
// status commit together, or nothing does.
func CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	if !requireOp(w, r, policy.OpSettle) {
		return
	}
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Subtotal.Sign() < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "subtotal must not be negative")
		return
	}
	caller, _ := middleware.UserID(r.Context())

	taxRate := configs.AppConfig.Tax.Rate
	if req.TaxRate != nil {
		taxRate = *req.TaxRate
	}
	tax := req.Subtotal.Mul(decimal.NewFromFloat(taxRate)).Div(decimal.NewFromInt(100)).Round(2)

	order := models.Order{
		ID:          uuid.New(),
		OrderNumber: newOrderNumber(),
		UserID:      req.UserID,
		Status:      models.OrderDraft,
		Subtotal:    req.Subtotal,
		TaxAmount:   tax,
		Currency:    configs.AppConfig.Wallet.Currency,
		CreatedBy:   &caller,
	}

	var result *settlement.Result
	err := store.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = composer().Settle(tx, settlement.PricedItem{
			Reference:      models.Reference{Type: models.RefOrderPayment, ID: order.ID},
			UserID:         req.UserID,
			Subtotal:       req.Subtotal,
			Tax:            tax,
			Discount:       req.Discount,
			StatusOverride: req.PaymentStatus,
		}, settlement.Draws{
			Points:   req.PointsToUse,
			Wallet:   req.WalletToUse,
			ClubGift: req.ClubGiftToUse,
		}, &caller)
		if err != nil {
			return err
		}

		order.DiscountAmount = req.Discount.Add(result.DiscountApplied)
		order.TotalAmount = result.TotalDue
		order.PaymentStatus = result.Status
		if result.Status == models.PaymentPaid {
			now := time.Now()
			order.PaidAt = &now
		}
		return tx.Create(&order).Error
	})
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	logger.Log.Info("order settled",
		zap.String("order", order.OrderNumber),
		zap.String("status", string(order.PaymentStatus)),
		zap.String("total_due", order.TotalAmount.String()))
	httputil.WriteJSON(w, http.StatusCreated, OrderResponse{
		Order:           order,
		DiscountApplied: result.DiscountApplied,
		TotalDue:        result.TotalDue,
		Entries:         result.Entries,
	})
}

// CancelOrderHandler cancels an order and compensates every ledger draw made
// for it. Compensation is idempotent, so re-cancelling changes nothing.
func CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	if !requireOp(w, r, policy.OpCompensate) {
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	caller, _ := middleware.UserID(r.Context())

	var order models.Order
	err = store.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&order, "id = ?", orderID).Error; err != nil {
			return err
		}
		if order.Status != models.OrderCancelled {
			now := time.Now()
			order.Status = models.OrderCancelled
			order.CancelledAt = &now
			if err := tx.Save(&order).Error; err != nil {
				return err
			}
		}
		return composer().Compensate(tx,
			models.Reference{Type: models.RefOrderPayment, ID: order.ID}, &caller)
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			httputil.WriteError(w, http.StatusNotFound, "order not found")
			return
		}
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

// ---- memberships ----

func PlansHandler(w http.ResponseWriter, r *http.Request) {
	var plans []models.MembershipPlan
	if err := store.DB.Where("is_active = ?", true).Order("tier_order").Find(&plans).Error; err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to fetch plans")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, plans)
}

type SubscribeRequest struct {
	PlanID uuid.UUID `json:"plan_id"`
}

func SubscribeHandler(w http.ResponseWriter, r *http.Request) {
	if !requireOp(w, r, policy.OpEnrollSubscription) {
		return
	}
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sub, err := machine().Enroll(store.DB, userID, req.PlanID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sub)
}

type ChangeSubscriptionRequest struct {
	PlanID *uuid.UUID `json:"plan_id"` // null cancels the current subscription
}

func ChangeSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	if !requireOp(w, r, policy.OpChangeSubscription) {
		return
	}
	var req ChangeSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sub, err := machine().Change(store.DB, userID, req.PlanID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// SubscriptionActionHandler applies admin lifecycle transitions:
// suspend, reactivate, activate (payment confirmed), expire, cancel.
func SubscriptionActionHandler(w http.ResponseWriter, r *http.Request) {
	if !requireOp(w, r, policy.OpAdminSubscription) {
		return
	}
	subID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	m := machine()
	var sub *models.Subscription
	switch action := chi.URLParam(r, "action"); action {
	case "suspend":
		sub, err = m.Suspend(store.DB, subID)
	case "reactivate":
		sub, err = m.Reactivate(store.DB, subID)
	case "activate":
		sub, err = m.Activate(store.DB, subID)
	case "expire":
		sub, err = m.Expire(store.DB, subID)
	case "cancel":
		sub, err = m.Cancel(store.DB, subID)
	default:
		httputil.WriteError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}
