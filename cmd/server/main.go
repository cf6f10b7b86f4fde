package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diPencil/altayar-backend-sub000/configs"
	"github.com/diPencil/altayar-backend-sub000/internal/ledger"
	"github.com/diPencil/altayar-backend-sub000/internal/logger"
	"github.com/diPencil/altayar-backend-sub000/internal/membership"
	"github.com/diPencil/altayar-backend-sub000/internal/referral"
	"github.com/diPencil/altayar-backend-sub000/internal/routes"
	"github.com/diPencil/altayar-backend-sub000/internal/seed"
	"github.com/diPencil/altayar-backend-sub000/internal/store"
	"github.com/diPencil/altayar-backend-sub000/internal/sweep"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	logger.Init()
	defer logger.Log.Sync()

	configs.LoadConfig()
	store.NewDB()
	store.DBMigrate()
	store.BackfillAccountCurrencies(configs.AppConfig.Wallet.Currency)
	seed.Run()

	points := ledger.Points()
	machine := membership.NewMachine(points,
		referral.NewTrigger(points, decimal.NewFromFloat(configs.AppConfig.Referral.RewardRate)))

	scheduler, err := sweep.Start(configs.AppConfig.Sweep.Schedule, machine)
	if err != nil {
		logger.Log.Fatal("failed to start expiry sweep", zap.Error(err))
	}

	router := routes.NewRoutes()

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Log.Info("shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("graceful shutdown failed", zap.Error(err))
	}

	sqlDB, err := store.DB.DB()
	if err != nil {
		logger.Log.Error("db close skipped, reason:", zap.Error(err))
	} else {
		sqlDB.Close()
		logger.Log.Info("db closed")
	}

	logger.Log.Info("server stopped")
}
