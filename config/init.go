package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/customeros/sendstack/internal/logger"
	"github.com/customeros/sendstack/internal/tracing"
)

type Config struct {
	AppConfig               *AppConfig
	Logger                  *logger.Config
	Tracing                 *tracing.JaegerConfig
	SendstackDatabaseConfig *SendstackDatabaseConfig
	R2StorageConfig         *R2StorageConfig
	DeliveryConfig          *DeliveryConfig
	DkimConfig              *DkimConfig
	ReputationConfig        *ReputationConfig
	WebhookConfig           *WebhookConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:               &AppConfig{},
		Logger:                  &logger.Config{},
		Tracing:                 &tracing.JaegerConfig{},
		SendstackDatabaseConfig: &SendstackDatabaseConfig{},
		R2StorageConfig:         &R2StorageConfig{},
		DeliveryConfig:          &DeliveryConfig{},
		DkimConfig:              &DkimConfig{},
		ReputationConfig:        &ReputationConfig{},
		WebhookConfig:           &WebhookConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		log.Fatalf("Error loading sendstack config: %v", err)
	}

	return config, nil
}
