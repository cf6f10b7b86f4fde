package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diPencil/altayar-backend-sub000/configs"
	"github.com/diPencil/altayar-backend-sub000/internal/handlers"
	applog "github.com/diPencil/altayar-backend-sub000/internal/logger"
	"github.com/diPencil/altayar-backend-sub000/internal/models"
	"github.com/diPencil/altayar-backend-sub000/internal/routes"
	"github.com/diPencil/altayar-backend-sub000/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupServer(t *testing.T) *chiServer {
	t.Helper()
	applog.Log = zap.NewNop()
	configs.AppConfig.JWT.SECRET = "test-secret"
	configs.AppConfig.Wallet.Currency = "USD"
	configs.AppConfig.Tax.Rate = 14.0
	configs.AppConfig.Referral.RewardRate = 0.10

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.MembershipPlan{},
		&models.LedgerAccount{}, &models.LedgerEntry{},
		&models.Subscription{}, &models.Referral{}, &models.Order{},
	))
	store.DB = db

	return &chiServer{t: t, db: db, handler: routes.NewRoutes()}
}

type chiServer struct {
	t       *testing.T
	db      *gorm.DB
	handler http.Handler
}

func (s *chiServer) createUser(email string, role models.Role) *models.User {
	s.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(s.t, err)
	user := &models.User{Name: "Test User", Email: email, Password: string(hash), Role: role}
	require.NoError(s.t, s.db.Create(user).Error)
	return user
}

func (s *chiServer) login(email string) string {
	s.t.Helper()
	rec := s.do("POST", "/auth/login", "", map[string]string{
		"email": email, "password": "password123",
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp handlers.LoginResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func (s *chiServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestLoginAndMe(t *testing.T) {
	s := setupServer(t)
	user := s.createUser("member@example.com", models.RoleMember)
	token := s.login("member@example.com")

	rec := s.do("GET", "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, user.ID, got.ID)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := setupServer(t)
	s.createUser("member@example.com", models.RoleMember)

	rec := s.do("POST", "/auth/login", "", map[string]string{
		"email": "member@example.com", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatedRoutesRejectMissingToken(t *testing.T) {
	s := setupServer(t)
	rec := s.do("GET", "/ledger/balances", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBalancesListsAllThreeLedgers(t *testing.T) {
	s := setupServer(t)
	s.createUser("member@example.com", models.RoleMember)
	token := s.login("member@example.com")

	rec := s.do("GET", "/ledger/balances", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var views []handlers.BalanceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 3)
	kinds := map[models.AccountKind]bool{}
	for _, v := range views {
		kinds[v.Kind] = true
		require.True(t, v.Balance.IsZero())
	}
	require.True(t, kinds[models.KindWallet])
	require.True(t, kinds[models.KindPoints])
	require.True(t, kinds[models.KindClubGift])
}

func TestMemberCannotCredit(t *testing.T) {
	s := setupServer(t)
	member := s.createUser("member@example.com", models.RoleMember)
	token := s.login("member@example.com")

	rec := s.do("POST", "/ledger/credit", token, map[string]any{
		"user_id":        member.ID,
		"kind":           models.KindWallet,
		"amount":         "50",
		"reference_type": models.RefAdminAdjustment,
		"reference_id":   uuid.New(),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminCanViewAnotherUsersEntries(t *testing.T) {
	s := setupServer(t)
	s.createUser("admin@example.com", models.RoleAdmin)
	member := s.createUser("member@example.com", models.RoleMember)
	other := s.createUser("other@example.com", models.RoleMember)
	adminToken := s.login("admin@example.com")
	memberToken := s.login("member@example.com")

	rec := s.do("POST", "/ledger/credit", adminToken, map[string]any{
		"user_id":        member.ID,
		"kind":           models.KindWallet,
		"amount":         "25",
		"reference_type": models.RefGatewayPayment,
		"reference_id":   uuid.New(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do("GET", "/ledger/wallet/entries?user_id="+member.ID.String(), adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entries []models.LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)

	// Members only see their own entries.
	rec = s.do("GET", "/ledger/wallet/entries?user_id="+other.ID.String(), memberToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOrderSettlementRoundTrip(t *testing.T) {
	s := setupServer(t)
	s.createUser("admin@example.com", models.RoleAdmin)
	member := s.createUser("member@example.com", models.RoleMember)
	adminToken := s.login("admin@example.com")
	memberToken := s.login("member@example.com")

	// Admin funds the member's wallet.
	rec := s.do("POST", "/ledger/credit", adminToken, map[string]any{
		"user_id":        member.ID,
		"kind":           models.KindWallet,
		"amount":         "100",
		"reference_type": models.RefGatewayPayment,
		"reference_id":   uuid.New(),
		"note":           "deposit",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Admin settles an order drawing 30 from the member's wallet.
	rec = s.do("POST", "/orders", adminToken, map[string]any{
		"user_id":       member.ID,
		"subtotal":      "100",
		"tax_rate":      0.0,
		"wallet_to_use": "30",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp handlers.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, models.PaymentPartiallyPaid, resp.Order.PaymentStatus)
	require.True(t, decimal.NewFromInt(70).Equal(resp.TotalDue), resp.TotalDue.String())
	require.Len(t, resp.Entries, 1)

	// Member sees the reduced balance.
	rec = s.do("GET", "/ledger/balances", memberToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []handlers.BalanceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	for _, v := range views {
		if v.Kind == models.KindWallet {
			require.True(t, decimal.NewFromInt(70).Equal(v.Balance), v.Balance.String())
		}
	}

	// Cancelling the order refunds the draw.
	rec = s.do("POST", "/orders/"+resp.Order.ID.String()+"/cancel", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do("GET", "/ledger/balances", memberToken, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	for _, v := range views {
		if v.Kind == models.KindWallet {
			require.True(t, decimal.NewFromInt(100).Equal(v.Balance), v.Balance.String())
		}
	}
}

func TestSubscribeAndChangeOverHTTP(t *testing.T) {
	s := setupServer(t)
	s.createUser("member@example.com", models.RoleMember)
	token := s.login("member@example.com")

	plan := models.MembershipPlan{
		TierCode: "SILVER", TierName: "Silver", TierOrder: 1,
		Price: decimal.NewFromInt(2000), Currency: "USD",
		InitialPoints: 1500, IsActive: true,
	}
	require.NoError(t, s.db.Create(&plan).Error)

	rec := s.do("POST", "/memberships/subscribe", token, map[string]any{"plan_id": plan.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var sub models.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.Equal(t, models.SubActive, sub.Status)
	require.NotEmpty(t, sub.MembershipNumber)

	// The welcome points are visible straight away.
	rec = s.do("GET", "/ledger/balances", token, nil)
	var views []handlers.BalanceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	for _, v := range views {
		if v.Kind == models.KindPoints {
			require.True(t, decimal.NewFromInt(1500).Equal(v.Balance), v.Balance.String())
		}
	}

	// Null plan cancels.
	rec = s.do("POST", "/memberships/change", token, map[string]any{"plan_id": nil})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	require.Equal(t, models.SubCancelled, sub.Status)
}
