package store

import (
	"github.com/diPencil/altayar-backend-sub000/internal/logger"
	"github.com/diPencil/altayar-backend-sub000/internal/models"
	"go.uber.org/zap"
)

// BackfillAccountCurrencies rewrites legacy money accounts that still carry a
// stale currency code to the configured one. It runs once at startup, outside
// any request path, and only touches zero-balance accounts so no stored value
// is ever reinterpreted. Safe to re-run; a clean database is a no-op.
func BackfillAccountCurrencies(currency string) {
	res := DB.Model(&models.LedgerAccount{}).
		Where("kind IN ?", []models.AccountKind{models.KindWallet, models.KindClubGift}).
		Where("currency <> ? AND balance = 0", currency).
		Update("currency", currency)
	if res.Error != nil {
		logger.Log.Fatal("currency backfill failed", zap.Error(res.Error))
	}
	if res.RowsAffected > 0 {
		logger.Log.Info("currency backfill applied",
			zap.Int64("accounts", res.RowsAffected), zap.String("currency", currency))
	}
}
