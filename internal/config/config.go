/**
 * @description
 * This package handles the configuration management for the gateway. It uses
 * the Viper library to read configuration from environment variables, providing
 * a centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Production settlement delay bounds. Test mode replaces both with the fixed
// TEST_PROCESSING_DELAY_MS value.
const (
	paymentDelayMin = 5 * time.Second
	paymentDelayMax = 10 * time.Second
	refundDelayMin  = 3 * time.Second
	refundDelayMax  = 5 * time.Second
)

// Config holds all the configuration variables for the gateway. These values
// are loaded from environment variables.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	QueuePrefix           string `mapstructure:"QUEUE_PREFIX"`
	TestMode              bool   `mapstructure:"TEST_MODE"`
	TestProcessingDelayMS int    `mapstructure:"TEST_PROCESSING_DELAY_MS"`
	TestPaymentSuccess    bool   `mapstructure:"TEST_PAYMENT_SUCCESS"`
	WebhookRetryTest      bool   `mapstructure:"WEBHOOK_RETRY_INTERVALS_TEST"`
	WebhookTimeoutSeconds int    `mapstructure:"WEBHOOK_TIMEOUT_SECONDS"`
	IdempotencyTTLHours   int    `mapstructure:"IDEMPOTENCY_TTL_HOURS"`
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
	viper.SetDefault("QUEUE_PREFIX", "gateway:jobs")
	viper.SetDefault("TEST_MODE", false)
	viper.SetDefault("TEST_PROCESSING_DELAY_MS", 1000)
	viper.SetDefault("TEST_PAYMENT_SUCCESS", true)
	viper.SetDefault("WEBHOOK_RETRY_INTERVALS_TEST", false)
	viper.SetDefault("WEBHOOK_TIMEOUT_SECONDS", 5)
	viper.SetDefault("IDEMPOTENCY_TTL_HOURS", 24)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("QUEUE_PREFIX")
	_ = viper.BindEnv("TEST_MODE")
	_ = viper.BindEnv("TEST_PROCESSING_DELAY_MS")
	_ = viper.BindEnv("TEST_PAYMENT_SUCCESS")
	_ = viper.BindEnv("WEBHOOK_RETRY_INTERVALS_TEST")
	_ = viper.BindEnv("WEBHOOK_TIMEOUT_SECONDS")
	_ = viper.BindEnv("IDEMPOTENCY_TTL_HOURS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
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
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.QueuePrefix = strings.TrimSpace(config.QueuePrefix)
	if config.QueuePrefix == "" {
		config.QueuePrefix = "gateway:jobs"
	}

	if config.TestProcessingDelayMS < 0 {
		log.Printf("level=warn component=config msg=\"negative test processing delay; coercing to zero\" delay_ms=%d", config.TestProcessingDelayMS)
		config.TestProcessingDelayMS = 0
	}
	if config.WebhookTimeoutSeconds <= 0 {
		config.WebhookTimeoutSeconds = 5
	}
	if config.IdempotencyTTLHours <= 0 {
		config.IdempotencyTTLHours = 24
	}

	return
}

// PaymentDelayBounds returns the settlement delay window for payments. In
// test mode both bounds collapse to the fixed configured delay.
func (c Config) PaymentDelayBounds() (time.Duration, time.Duration) {
	if c.TestMode {
		d := time.Duration(c.TestProcessingDelayMS) * time.Millisecond
		return d, d
	}
	return paymentDelayMin, paymentDelayMax
}

// RefundDelayBounds returns the settlement delay window for refunds.
func (c Config) RefundDelayBounds() (time.Duration, time.Duration) {
	if c.TestMode {
		d := time.Duration(c.TestProcessingDelayMS) * time.Millisecond
		return d, d
	}
	return refundDelayMin, refundDelayMax
}

// WebhookTimeout returns the per-delivery HTTP timeout.
func (c Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// IdempotencyTTL returns the replay window for cached payment responses.
func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}
