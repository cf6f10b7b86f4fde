// Package sweep schedules the subscription expiry pass. The state machine
// owns the transition; this is only the clock.
package sweep

import (
	"github.com/diPencil/altayar-backend-sub000/internal/logger"
	"github.com/diPencil/altayar-backend-sub000/internal/membership"
	"github.com/diPencil/altayar-backend-sub000/internal/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Start runs the expiry sweep on the given cron schedule and returns the
// scheduler so the caller can Stop it on shutdown.
func Start(schedule string, m *membership.Machine) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := m.ExpireDue(store.DB)
		if err != nil {
			logger.Log.Error("expiry sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Log.Info("expired subscriptions", zap.Int("count", n))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
