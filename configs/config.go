package configs

import (
	"errors"

	"github.com/diPencil/altayar-backend-sub000/internal/logger"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	DB struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"db"`
	JWT struct {
		SECRET string `mapstructure:"secret"`
	} `mapstructure:"jwt"`
	Wallet struct {
		Currency string `mapstructure:"currency"`
	} `mapstructure:"wallet"`
	Tax struct {
		Rate float64 `mapstructure:"rate"`
	} `mapstructure:"tax"`
	Referral struct {
		RewardRate float64 `mapstructure:"reward-rate"`
	} `mapstructure:"referral"`
	Sweep struct {
		Schedule string `mapstructure:"schedule"`
	} `mapstructure:"sweep"`
}

var AppConfig Config

func LoadConfig() {
	viper.AddConfigPath("./configs")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("wallet.currency", "USD")
	viper.SetDefault("tax.rate", 14.0)
	viper.SetDefault("referral.reward-rate", 0.10)
	viper.SetDefault("sweep.schedule", "@daily")

	viper.AutomaticEnv()

	var fileLookupError viper.ConfigFileNotFoundError
	if err := viper.ReadInConfig(); err != nil {
		if errors.As(err, &fileLookupError) {
			logger.Log.Fatal("config file not found", zap.Error(err))
		}
		logger.Log.Fatal("failed to read config", zap.Error(err))
	}

	viper.Unmarshal(&AppConfig)
}
