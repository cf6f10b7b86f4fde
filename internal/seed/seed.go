package seed

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/diPencil/altayar-backend-sub000/configs"
	"github.com/diPencil/altayar-backend-sub000/internal/ledger"
	"github.com/diPencil/altayar-backend-sub000/internal/logger"
	"github.com/diPencil/altayar-backend-sub000/internal/models"
	"github.com/diPencil/altayar-backend-sub000/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	seedPassword  = "password123"
	adminEmail    = "admin@altayar.local"
	walletInitial = "500.00"
)

var seedPlans = []models.MembershipPlan{
	{TierCode: "SILVER", TierName: "Silver", TierOrder: 1, InitialPoints: 1500},
	{TierCode: "GOLD", TierName: "Gold", TierOrder: 2, InitialPoints: 3000},
	{TierCode: "PLATINUM", TierName: "Platinum", TierOrder: 3, InitialPoints: 6000},
}

var seedPrices = map[string]string{
	"SILVER":   "2000.00",
	"GOLD":     "5000.00",
	"PLATINUM": "10000.00",
}

var testUsers = []struct {
	Name  string
	Email string
}{
	{"Test Member 1", "member1@test.com"},
	{"Test Member 2", "member2@test.com"},
	{"Test Member 3", "member3@test.com"},
}

func Run() {
	db := store.DB
	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", adminEmail).Count(&count).Error; err != nil {
		logger.Log.Fatal("seed check failed", zap.Error(err))
	}
	if count > 0 {
		logger.Log.Info("seed already applied, skipping")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(seedPassword), bcrypt.DefaultCost)
	if err != nil {
		logger.Log.Fatal("failed to hash seed password", zap.Error(err))
	}
	hashed := string(hash)
	currency := configs.AppConfig.Wallet.Currency

	err = db.Transaction(func(tx *gorm.DB) error {
		for _, p := range seedPlans {
			p.Price = decimal.RequireFromString(seedPrices[p.TierCode])
			p.Currency = currency
			p.IsActive = true
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
		}

		admin := models.User{Name: "Admin", Email: adminEmail, Password: hashed, Role: models.RoleAdmin}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}

		wallet := ledger.Wallet(currency)
		opening := decimal.RequireFromString(walletInitial)
		for _, u := range testUsers {
			user := models.User{Name: u.Name, Email: u.Email, Password: hashed, Role: models.RoleMember}
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			// Opening balance enters through the ledger so the entry log
			// accounts for every unit from day one.
			_, err := wallet.Credit(tx, user.ID, opening,
				models.Reference{Type: models.RefAdminAdjustment, ID: admin.ID},
				"Opening balance", &admin.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Log.Fatal("seed failed", zap.Error(err))
	}
	logger.Log.Info("seeded plans and test users", zap.String("password", seedPassword))
}
