package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/customeros/exchangestack/internal/credential"
	cron_config "github.com/customeros/exchangestack/internal/cron/config"
	"github.com/customeros/exchangestack/internal/logger"
	"github.com/customeros/exchangestack/internal/tracing"
)

type Config struct {
	AppConfig      *AppConfig
	Logger         *logger.Config
	Tracing        *tracing.JaegerConfig
	DatabaseConfig *DatabaseConfig
	ExchangeConfig *ExchangeConfig
	Credentials    *credential.Config
	Cron           *cron_config.Config
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:      &AppConfig{},
		Logger:         &logger.Config{},
		Tracing:        &tracing.JaegerConfig{},
		DatabaseConfig: &DatabaseConfig{},
		ExchangeConfig: &ExchangeConfig{},
		Credentials:    &credential.Config{},
		Cron:           &cron_config.Config{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading exchangestack config: %v", err)
	}

	return config, nil
}
