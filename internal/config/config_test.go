package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "QUEUE_PREFIX")
	unsetEnvWithCleanup(t, "TEST_MODE")
	unsetEnvWithCleanup(t, "IDEMPOTENCY_TTL_HOURS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default ServerPort 8080, got %q", cfg.ServerPort)
	}
	if cfg.QueuePrefix != "gateway:jobs" {
		t.Fatalf("expected default QueuePrefix, got %q", cfg.QueuePrefix)
	}
	if cfg.TestMode {
		t.Fatal("expected TestMode to default to false")
	}
	if cfg.IdempotencyTTL() != 24*time.Hour {
		t.Fatalf("expected default idempotency TTL of 24h, got %s", cfg.IdempotencyTTL())
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to override ServerPort, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_TestModeCollapsesDelayBounds(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "TEST_MODE", "true")
	setEnvWithCleanup(t, "TEST_PROCESSING_DELAY_MS", "250")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	min, max := cfg.PaymentDelayBounds()
	if min != 250*time.Millisecond || max != 250*time.Millisecond {
		t.Fatalf("expected fixed 250ms delay bounds in test mode, got [%s, %s]", min, max)
	}
	min, max = cfg.RefundDelayBounds()
	if min != 250*time.Millisecond || max != 250*time.Millisecond {
		t.Fatalf("expected fixed 250ms refund delay bounds in test mode, got [%s, %s]", min, max)
	}
}

func TestLoadConfig_ProductionDelayBounds(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "TEST_MODE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	min, max := cfg.PaymentDelayBounds()
	if min != 5*time.Second || max != 10*time.Second {
		t.Fatalf("expected payment delay bounds [5s, 10s], got [%s, %s]", min, max)
	}
	min, max = cfg.RefundDelayBounds()
	if min != 3*time.Second || max != 5*time.Second {
		t.Fatalf("expected refund delay bounds [3s, 5s], got [%s, %s]", min, max)
	}
}

func TestLoadConfig_NegativeDelayCoercedToZero(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "TEST_PROCESSING_DELAY_MS", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.TestProcessingDelayMS != 0 {
		t.Fatalf("expected negative delay coerced to 0, got %d", cfg.TestProcessingDelayMS)
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
