package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesFinanceServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "FINANCE_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "FINANCE_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "DOMESTIC_CURRENCY")
	unsetEnvWithCleanup(t, "LARGE_PAYOUT_THRESHOLD")
	unsetEnvWithCleanup(t, "LARGE_PAYOUT_THRESHOLD_UNITS")
	unsetEnvWithCleanup(t, "PLATFORM_DEFAULT_SHARE_RATE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DomesticCurrency != "UGX" {
		t.Fatalf("expected default domestic currency UGX, got %q", cfg.DomesticCurrency)
	}
	if cfg.LargePayoutThreshold != 2000000 {
		t.Fatalf("expected default large payout threshold 2000000, got %d", cfg.LargePayoutThreshold)
	}
	if cfg.PlatformDefaultShareRate != 0.65 {
		t.Fatalf("expected default platform share rate 0.65, got %f", cfg.PlatformDefaultShareRate)
	}
	if cfg.PayoutRequestLimitPerHour != 10 {
		t.Fatalf("expected default payout request limit 10, got %d", cfg.PayoutRequestLimitPerHour)
	}
	if cfg.ConsumerPrefetch != 25 {
		t.Fatalf("expected default consumer prefetch 25, got %d", cfg.ConsumerPrefetch)
	}
}

func TestLoadConfig_SupportedCurrencyListIncludesDomestic(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DOMESTIC_CURRENCY", "ugx")
	setEnvWithCleanup(t, "SUPPORTED_CURRENCIES", "usd, kes,UGX")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	list := cfg.SupportedCurrencyList()
	if len(list) != 3 {
		t.Fatalf("expected 3 currencies after dedupe, got %v", list)
	}
	if list[0] != "UGX" {
		t.Fatalf("expected domestic currency first, got %v", list)
	}
}

func TestLoadConfig_ThresholdFromWholeUnits(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "LARGE_PAYOUT_THRESHOLD")
	setEnvWithCleanup(t, "LARGE_PAYOUT_THRESHOLD_UNITS", "25000.50")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.LargePayoutThreshold != 2500050 {
		t.Fatalf("expected threshold 2500050 minor units, got %d", cfg.LargePayoutThreshold)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
