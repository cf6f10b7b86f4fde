package membership

import (
	"fmt"
	"testing"
	"time"

	"github.com/diPencil/altayar-backend-sub000/internal/apperr"
	"github.com/diPencil/altayar-backend-sub000/internal/ledger"
	applog "github.com/diPencil/altayar-backend-sub000/internal/logger"
	"github.com/diPencil/altayar-backend-sub000/internal/models"
	"github.com/diPencil/altayar-backend-sub000/internal/referral"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	applog.Log = zap.NewNop()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.LedgerAccount{}, &models.LedgerEntry{},
		&models.MembershipPlan{}, &models.Subscription{}, &models.Referral{},
	))
	return db
}

func newMachine() *Machine {
	points := ledger.Points()
	return NewMachine(points, referral.NewTrigger(points, decimal.RequireFromString("0.10")))
}

func createPlan(t *testing.T, db *gorm.DB, code string, price string, points int64, opts ...func(*models.MembershipPlan)) *models.MembershipPlan {
	t.Helper()
	plan := &models.MembershipPlan{
		TierCode: code, TierName: code, TierOrder: 1,
		Price: decimal.RequireFromString(price), Currency: "USD",
		InitialPoints: points, IsActive: true,
	}
	for _, opt := range opts {
		opt(plan)
	}
	require.NoError(t, db.Create(plan).Error)
	return plan
}

func pointsBalance(t *testing.T, db *gorm.DB, userID uuid.UUID) int64 {
	t.Helper()
	bal, err := ledger.Points().Balance(db, userID)
	require.NoError(t, err)
	require.True(t, bal.IsInteger())
	return bal.IntPart()
}

func TestEnrollThenUpgradeKeepsOneRow(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	silver := createPlan(t, db, "SILVER", "2000", 1500)
	gold := createPlan(t, db, "GOLD", "5000", 500)

	sub, err := m.Enroll(db, user, silver.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubActive, sub.Status)
	require.EqualValues(t, 1500, pointsBalance(t, db, user))

	firstNumber := sub.MembershipNumber

	up, err := m.Upgrade(db, user, gold.ID)
	require.NoError(t, err)
	require.Equal(t, sub.ID, up.ID)
	require.Equal(t, gold.ID, up.PlanID)
	require.NotNil(t, up.PreviousPlanID)
	require.Equal(t, silver.ID, *up.PreviousPlanID)
	require.NotNil(t, up.UpgradedAt)
	require.NotEqual(t, firstNumber, up.MembershipNumber)

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Where("user_id = ?", user).Count(&count).Error)
	require.EqualValues(t, 1, count)

	require.EqualValues(t, 2000, pointsBalance(t, db, user))
}

func TestUpgradeToSamePlanIsNoop(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	silver := createPlan(t, db, "SILVER", "2000", 1500)

	_, err := m.Enroll(db, user, silver.ID)
	require.NoError(t, err)

	_, err = m.Upgrade(db, user, silver.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1500, pointsBalance(t, db, user))
}

func TestEnrollRejectsSecondActiveSubscription(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	silver := createPlan(t, db, "SILVER", "2000", 1500)
	gold := createPlan(t, db, "GOLD", "5000", 3000)

	_, err := m.Enroll(db, user, silver.ID)
	require.NoError(t, err)

	_, err = m.Enroll(db, user, gold.ID)
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestReactivateBlockedByNewerActiveSubscription(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	silver := createPlan(t, db, "SILVER", "2000", 1500)
	gold := createPlan(t, db, "GOLD", "5000", 3000)

	first, err := m.Enroll(db, user, silver.ID)
	require.NoError(t, err)
	_, err = m.Suspend(db, first.ID)
	require.NoError(t, err)

	// With the first subscription suspended a new enrollment is allowed.
	_, err = m.Enroll(db, user, gold.ID)
	require.NoError(t, err)

	// Waking the suspended one back up would make two ACTIVE rows.
	_, err = m.Reactivate(db, first.ID)
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	var active int64
	require.NoError(t, db.Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", user, models.SubActive).Count(&active).Error)
	require.EqualValues(t, 1, active)
}

func TestEnrollBlockedByPendingPayment(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	plat := createPlan(t, db, "PLATINUM", "10000", 6000, func(p *models.MembershipPlan) {
		p.RequiresPayment = true
	})
	silver := createPlan(t, db, "SILVER", "2000", 1500)

	_, err := m.Enroll(db, user, plat.ID)
	require.NoError(t, err)

	// A pending enrollment blocks further ones until it resolves.
	_, err = m.Enroll(db, user, silver.ID)
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestActivateBlockedByExistingActiveSubscription(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	plat := createPlan(t, db, "PLATINUM", "10000", 6000, func(p *models.MembershipPlan) {
		p.RequiresPayment = true
	})

	pending, err := m.Enroll(db, user, plat.ID)
	require.NoError(t, err)
	_, err = m.Activate(db, pending.ID)
	require.NoError(t, err)

	// A stray second pending row (pre-dating the enrollment guard) must not
	// be activatable alongside the live one.
	stray := models.Subscription{
		UserID: user, PlanID: plat.ID, Status: models.SubPendingPayment,
		MembershipNumber: "MEM-STRAY001", StartDate: time.Now(),
	}
	require.NoError(t, db.Create(&stray).Error)

	_, err = m.Activate(db, stray.ID)
	require.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	var active int64
	require.NoError(t, db.Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", user, models.SubActive).Count(&active).Error)
	require.EqualValues(t, 1, active)
}

func TestEnrollRejectsInactivePlan(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	retired := createPlan(t, db, "RETIRED", "1000", 100, func(p *models.MembershipPlan) {
		p.IsActive = false
	})

	_, err := m.Enroll(db, uuid.New(), retired.ID)
	require.Equal(t, apperr.KindState, apperr.KindOf(err))
}

func TestEnrollPaidPlanStartsPendingPayment(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	plat := createPlan(t, db, "PLATINUM", "10000", 6000, func(p *models.MembershipPlan) {
		p.RequiresPayment = true
	})

	sub, err := m.Enroll(db, user, plat.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubPendingPayment, sub.Status)

	activated, err := m.Activate(db, sub.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubActive, activated.Status)
}

func TestUpgradeWithoutActiveSubscription(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	gold := createPlan(t, db, "GOLD", "5000", 3000)

	_, err := m.Upgrade(db, uuid.New(), gold.ID)
	require.Equal(t, apperr.KindState, apperr.KindOf(err))
}

func TestCancelIsTerminal(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	silver := createPlan(t, db, "SILVER", "2000", 1500)

	sub, err := m.Enroll(db, user, silver.ID)
	require.NoError(t, err)

	cancelled, err := m.Cancel(db, sub.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubCancelled, cancelled.Status)
	require.NotNil(t, cancelled.ExpiryDate)

	// Cancellation never claws points back.
	require.EqualValues(t, 1500, pointsBalance(t, db, user))

	_, err = m.Reactivate(db, sub.ID)
	require.Equal(t, apperr.KindState, apperr.KindOf(err))
}

func TestSuspendAndReactivate(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	silver := createPlan(t, db, "SILVER", "2000", 1500)

	sub, err := m.Enroll(db, user, silver.ID)
	require.NoError(t, err)

	suspended, err := m.Suspend(db, sub.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubSuspended, suspended.Status)

	// A suspended subscription cannot expire.
	_, err = m.Expire(db, sub.ID)
	require.Error(t, err)

	back, err := m.Reactivate(db, sub.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubActive, back.Status)
}

func TestExpireRequiresDueDate(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	days := 365
	yearly := createPlan(t, db, "YEARLY", "2000", 0, func(p *models.MembershipPlan) {
		p.DurationDays = &days
	})

	sub, err := m.Enroll(db, user, yearly.ID)
	require.NoError(t, err)
	require.NotNil(t, sub.ExpiryDate)

	_, err = m.Expire(db, sub.ID)
	require.Equal(t, apperr.KindState, apperr.KindOf(err))

	// Push the expiry into the past and the transition goes through.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&models.Subscription{}).
		Where("id = ?", sub.ID).Update("expiry_date", past).Error)

	expired, err := m.Expire(db, sub.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubExpired, expired.Status)
}

func TestExpireDueSweepsOnlyOverdue(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	days := 30
	monthly := createPlan(t, db, "MONTHLY", "500", 0, func(p *models.MembershipPlan) {
		p.DurationDays = &days
	})
	lifetime := createPlan(t, db, "LIFETIME", "9000", 0)

	overdue, err := m.Enroll(db, uuid.New(), monthly.ID)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, db.Model(&models.Subscription{}).
		Where("id = ?", overdue.ID).Update("expiry_date", past).Error)

	current, err := m.Enroll(db, uuid.New(), monthly.ID)
	require.NoError(t, err)

	forever, err := m.Enroll(db, uuid.New(), lifetime.ID)
	require.NoError(t, err)
	require.Nil(t, forever.ExpiryDate)

	n, err := m.ExpireDue(db)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var expired models.Subscription
	require.NoError(t, db.First(&expired, "id = ?", overdue.ID).Error)
	require.Equal(t, models.SubExpired, expired.Status)

	var active models.Subscription
	require.NoError(t, db.First(&active, "id = ?", current.ID).Error)
	require.Equal(t, models.SubActive, active.Status)
}

func TestChangeDispatch(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	silver := createPlan(t, db, "SILVER", "2000", 1500)
	gold := createPlan(t, db, "GOLD", "5000", 3000)

	// No subscription plus a plan means enrollment.
	sub, err := m.Change(db, user, &silver.ID)
	require.NoError(t, err)
	require.Equal(t, silver.ID, sub.PlanID)

	// Existing subscription plus a new plan means upgrade.
	sub, err = m.Change(db, user, &gold.ID)
	require.NoError(t, err)
	require.Equal(t, gold.ID, sub.PlanID)
	require.NotNil(t, sub.PreviousPlanID)

	// Nil plan means cancellation.
	sub, err = m.Change(db, user, nil)
	require.NoError(t, err)
	require.Equal(t, models.SubCancelled, sub.Status)

	// Nothing left to cancel.
	_, err = m.Change(db, user, nil)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestReferralRewardOnFirstEnrollmentOnly(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	referrer := uuid.New()
	referred := uuid.New()
	silver := createPlan(t, db, "SILVER", "2000", 1500)

	ref := models.Referral{
		ReferrerID:     referrer,
		ReferredUserID: referred,
		Status:         models.ReferralPending,
	}
	require.NoError(t, db.Create(&ref).Error)

	sub, err := m.Enroll(db, referred, silver.ID)
	require.NoError(t, err)

	// floor(2000 * 0.10) = 200 points for the referrer.
	require.EqualValues(t, 200, pointsBalance(t, db, referrer))

	var promoted models.Referral
	require.NoError(t, db.First(&promoted, "id = ?", ref.ID).Error)
	require.Equal(t, models.ReferralActive, promoted.Status)
	require.EqualValues(t, 200, promoted.PointsEarned)
	require.NotNil(t, promoted.PlanID)
	require.Equal(t, silver.ID, *promoted.PlanID)

	// Cancel and re-enroll: the referral is no longer PENDING, no second award.
	_, err = m.Cancel(db, sub.ID)
	require.NoError(t, err)
	_, err = m.Enroll(db, referred, silver.ID)
	require.NoError(t, err)
	require.EqualValues(t, 200, pointsBalance(t, db, referrer))
}

func TestNoReferralMeansNoReward(t *testing.T) {
	db := setupDB(t)
	m := newMachine()
	user := uuid.New()
	silver := createPlan(t, db, "SILVER", "2000", 1500)

	_, err := m.Enroll(db, user, silver.ID)
	require.NoError(t, err)

	var refs int64
	require.NoError(t, db.Model(&models.Referral{}).Count(&refs).Error)
	require.Zero(t, refs)
}
