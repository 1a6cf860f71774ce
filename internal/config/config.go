// Package config содержит логику чтения конфигурации сервиса маркетплейса.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса маркетплейса.
// Секреты платёжных систем задаются только через переменные окружения.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS"`
	DatabaseURI          string `env:"DATABASE_URI"`
	AuthSecret           string `env:"AUTH_SECRET"`
	CommissionPercentage int64  `env:"COMMISSION_PERCENTAGE" envDefault:"10"`

	YooKassaShopID    string `env:"YOOKASSA_SHOP_ID"`
	YooKassaSecretKey string `env:"YOOKASSA_SECRET_KEY"`
	YooKassaReturnURL string `env:"YOOKASSA_RETURN_URL"`

	RobokassaMerchantLogin string `env:"ROBOKASSA_MERCHANT_LOGIN"`
	RobokassaPassword1     string `env:"ROBOKASSA_PASSWORD1"`
	RobokassaPassword2     string `env:"ROBOKASSA_PASSWORD2"`
	RobokassaTestMode      bool   `env:"ROBOKASSA_TEST_MODE" envDefault:"false"`

	TelegramBotToken   string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramWebhookURL string `env:"TELEGRAM_WEBHOOK_URL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.CommissionPercentage < 0 || cfg.CommissionPercentage > 100 {
		return nil, fmt.Errorf("commission percentage out of range: %d", cfg.CommissionPercentage)
	}

	return cfg, nil
}
