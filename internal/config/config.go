/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/shopspring/decimal: Credit costs are fixed-point decimals.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the generation-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	PurchaseEventQueue   string `mapstructure:"PURCHASE_EVENT_QUEUE"`

	ProviderAPIBaseURL     string `mapstructure:"PROVIDER_API_BASE_URL"`
	ProviderAPIKey         string `mapstructure:"PROVIDER_API_KEY"`
	ProviderTimeoutSeconds int    `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`
	StorageServiceURL      string `mapstructure:"STORAGE_SERVICE_URL"`
	StorageServiceAPIKey   string `mapstructure:"STORAGE_SERVICE_API_KEY"`

	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	// Credit amounts arrive as strings so they can carry fractional credits
	// (ad copy costs 0.5) without floating point.
	ImageCreditCostRaw string `mapstructure:"IMAGE_CREDIT_COST"`
	VideoCreditCostRaw string `mapstructure:"VIDEO_CREDIT_COST"`
	CopyCreditCostRaw  string `mapstructure:"COPY_CREDIT_COST"`
	SignupBonusRaw     string `mapstructure:"SIGNUP_BONUS_CREDITS"`
	ImageCreditCost    decimal.Decimal
	VideoCreditCost    decimal.Decimal
	CopyCreditCost     decimal.Decimal
	SignupBonusCredits decimal.Decimal

	GenerationRateLimitPerMinute int `mapstructure:"GENERATION_RATE_LIMIT_PER_MINUTE"`
	RefundOutboxIntervalSeconds  int `mapstructure:"REFUND_OUTBOX_INTERVAL_SECONDS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "adforge:rate_limit")
	viper.SetDefault("PURCHASE_EVENT_QUEUE", "generation_service.purchase_updates")
	viper.SetDefault("PROVIDER_TIMEOUT_SECONDS", 120)
	viper.SetDefault("IMAGE_CREDIT_COST", "1")
	viper.SetDefault("VIDEO_CREDIT_COST", "5")
	viper.SetDefault("COPY_CREDIT_COST", "0.5")
	viper.SetDefault("SIGNUP_BONUS_CREDITS", "10")
	viper.SetDefault("GENERATION_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("REFUND_OUTBOX_INTERVAL_SECONDS", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "GENERATION_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PURCHASE_EVENT_QUEUE")
	_ = viper.BindEnv("PROVIDER_API_BASE_URL")
	_ = viper.BindEnv("PROVIDER_API_KEY")
	_ = viper.BindEnv("PROVIDER_TIMEOUT_SECONDS")
	_ = viper.BindEnv("STORAGE_SERVICE_URL")
	_ = viper.BindEnv("STORAGE_SERVICE_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "GENERATION_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("IMAGE_CREDIT_COST")
	_ = viper.BindEnv("VIDEO_CREDIT_COST")
	_ = viper.BindEnv("COPY_CREDIT_COST")
	_ = viper.BindEnv("SIGNUP_BONUS_CREDITS")
	_ = viper.BindEnv("GENERATION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REFUND_OUTBOX_INTERVAL_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("GENERATION_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "adforge:rate_limit"
	}

	config.ImageCreditCost = parseCreditAmount("IMAGE_CREDIT_COST", config.ImageCreditCostRaw, decimal.NewFromInt(1))
	config.VideoCreditCost = parseCreditAmount("VIDEO_CREDIT_COST", config.VideoCreditCostRaw, decimal.NewFromInt(5))
	config.CopyCreditCost = parseCreditAmount("COPY_CREDIT_COST", config.CopyCreditCostRaw, decimal.RequireFromString("0.5"))
	config.SignupBonusCredits = parseCreditAmount("SIGNUP_BONUS_CREDITS", config.SignupBonusRaw, decimal.NewFromInt(10))

	if config.ProviderTimeoutSeconds <= 0 {
		config.ProviderTimeoutSeconds = 120
	}
	if config.GenerationRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative rate limit configured; disabling\" value=%d", config.GenerationRateLimitPerMinute)
		config.GenerationRateLimitPerMinute = 0
	}
	if config.RefundOutboxIntervalSeconds <= 0 {
		config.RefundOutboxIntervalSeconds = 30
	}

	return
}

// parseCreditAmount parses a decimal credit amount, falling back to the
// default on malformed or negative values.
func parseCreditAmount(name, raw string, fallback decimal.Decimal) decimal.Decimal {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid credit amount; using default\" env=%s value=%q err=%v", name, trimmed, err)
		return fallback
	}
	if value.IsNegative() {
		log.Printf("level=warn component=config msg=\"negative credit amount; using default\" env=%s value=%q", name, trimmed)
		return fallback
	}
	return value
}
