/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the finance-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                  string  `mapstructure:"SERVER_PORT"`
	DatabaseURL                 string  `mapstructure:"DATABASE_URL"`
	RedisURL                    string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix        string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                 string  `mapstructure:"RABBITMQ_URL"`
	ProviderEventQueue          string  `mapstructure:"PROVIDER_EVENT_QUEUE"`
	ProviderAPIBaseURL          string  `mapstructure:"PROVIDER_API_BASE_URL"`
	ProviderAPIKey              string  `mapstructure:"PROVIDER_API_KEY"`
	ClerkJWKSURL                string  `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey              string  `mapstructure:"INTERNAL_API_KEY"`
	DomesticCurrency            string  `mapstructure:"DOMESTIC_CURRENCY"`
	SupportedCurrencies         string  `mapstructure:"SUPPORTED_CURRENCIES"`
	LargePayoutThreshold        int64   `mapstructure:"LARGE_PAYOUT_THRESHOLD"`
	PlatformDefaultShareRate    float64 `mapstructure:"PLATFORM_DEFAULT_SHARE_RATE"`
	ServiceFeeRate              float64 `mapstructure:"SERVICE_FEE_RATE"`
	PayoutRequestLimitPerHour   int     `mapstructure:"PAYOUT_REQUEST_LIMIT_PER_HOUR"`
	AuditTrailPageSize          int     `mapstructure:"AUDIT_TRAIL_PAGE_SIZE"`
	ConsumerPrefetch            int     `mapstructure:"CONSUMER_PREFETCH"`
}

// SupportedCurrencyList splits the comma-separated SUPPORTED_CURRENCIES value
// into normalized codes. The domestic currency is always included.
func (c Config) SupportedCurrencyList() []string {
	seen := map[string]bool{}
	var out []string
	add := func(code string) {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" || seen[code] {
			return
		}
		seen[code] = true
		out = append(out, code)
	}
	add(c.DomesticCurrency)
	for _, code := range strings.Split(c.SupportedCurrencies, ",") {
		add(code)
	}
	return out
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
	viper.SetDefault("PROVIDER_EVENT_QUEUE", "finance_service.provider_updates")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "tunewave:rate_limit")
	viper.SetDefault("DOMESTIC_CURRENCY", "UGX")
	viper.SetDefault("SUPPORTED_CURRENCIES", "UGX,KES,TZS,USD")
	viper.SetDefault("LARGE_PAYOUT_THRESHOLD", 2000000)
	viper.SetDefault("PLATFORM_DEFAULT_SHARE_RATE", 0.65)
	viper.SetDefault("SERVICE_FEE_RATE", 0.10)
	viper.SetDefault("PAYOUT_REQUEST_LIMIT_PER_HOUR", 10)
	viper.SetDefault("AUDIT_TRAIL_PAGE_SIZE", 50)
	viper.SetDefault("CONSUMER_PREFETCH", 25)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "FINANCE_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PROVIDER_EVENT_QUEUE")
	_ = viper.BindEnv("PROVIDER_API_BASE_URL")
	_ = viper.BindEnv("PROVIDER_API_KEY")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "FINANCE_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("DOMESTIC_CURRENCY")
	_ = viper.BindEnv("SUPPORTED_CURRENCIES")
	_ = viper.BindEnv("LARGE_PAYOUT_THRESHOLD")
	_ = viper.BindEnv("LARGE_PAYOUT_THRESHOLD_UNITS")
	_ = viper.BindEnv("PLATFORM_DEFAULT_SHARE_RATE")
	_ = viper.BindEnv("SERVICE_FEE_RATE")
	_ = viper.BindEnv("PAYOUT_REQUEST_LIMIT_PER_HOUR")
	_ = viper.BindEnv("AUDIT_TRAIL_PAGE_SIZE")
	_ = viper.BindEnv("CONSUMER_PREFETCH")

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
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("FINANCE_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "tunewave:rate_limit"
	}
	config.DomesticCurrency = strings.ToUpper(strings.TrimSpace(config.DomesticCurrency))
	if config.DomesticCurrency == "" {
		config.DomesticCurrency = "UGX"
	}

	// Allow specifying the threshold in whole currency units via
	// LARGE_PAYOUT_THRESHOLD_UNITS.
	if viper.IsSet("LARGE_PAYOUT_THRESHOLD_UNITS") {
		thresholdStr := strings.TrimSpace(viper.GetString("LARGE_PAYOUT_THRESHOLD_UNITS"))
		if thresholdStr != "" {
			thresholdValue, parseErr := strconv.ParseFloat(thresholdStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid LARGE_PAYOUT_THRESHOLD_UNITS\" value=%q err=%v", thresholdStr, parseErr)
			} else {
				config.LargePayoutThreshold = int64(math.Round(thresholdValue * 100))
			}
		}
	}

	if config.LargePayoutThreshold <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive large payout threshold configured; using default\" threshold=%d", config.LargePayoutThreshold)
		config.LargePayoutThreshold = 2000000
	}

	if config.PlatformDefaultShareRate < 0 || config.PlatformDefaultShareRate > 1 {
		log.Printf("level=warn component=config msg=\"platform share rate out of range; using default\" rate=%f", config.PlatformDefaultShareRate)
		config.PlatformDefaultShareRate = 0.65
	}
	if config.ServiceFeeRate < 0 || config.ServiceFeeRate > 1 {
		log.Printf("level=warn component=config msg=\"service fee rate out of range; using default\" rate=%f", config.ServiceFeeRate)
		config.ServiceFeeRate = 0.10
	}

	if config.PayoutRequestLimitPerHour <= 0 {
		config.PayoutRequestLimitPerHour = 10
	}
	if config.AuditTrailPageSize <= 0 {
		config.AuditTrailPageSize = 50
	}
	if config.ConsumerPrefetch <= 0 {
		config.ConsumerPrefetch = 25
	}

	return
}
