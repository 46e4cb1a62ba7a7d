package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"LOW_STOCK_THRESHOLD", "LEDGER_MAX_ATTEMPTS", "REPORT_TIMEZONE", "KAFKA_BROKERS", "IDEMPOTENCY_TTL_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.LowStockThreshold != 10 {
		t.Fatalf("expected low stock threshold 10, got %d", cfg.LowStockThreshold)
	}
	if cfg.LedgerMaxAttempts != 3 {
		t.Fatalf("expected 3 ledger attempts, got %d", cfg.LedgerMaxAttempts)
	}
	if cfg.IdempotencyTTLSeconds != 86400 {
		t.Fatalf("expected one day idempotency ttl, got %d", cfg.IdempotencyTTLSeconds)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC report location, got %v", cfg.Location())
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("expected no kafka brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsNonPositiveNumbers(t *testing.T) {
	t.Setenv("LOW_STOCK_THRESHOLD", "0")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "nope")

	cfg := Load()
	if cfg.LowStockThreshold != 10 || cfg.LedgerMaxAttempts != 3 {
		t.Fatalf("expected fallbacks, got threshold=%d attempts=%d", cfg.LowStockThreshold, cfg.LedgerMaxAttempts)
	}
}

func TestKafkaBrokersAreSplitAndTrimmed(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "kafka-1:9092" || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLocationFallsBackOnUnknownZone(t *testing.T) {
	cfg := Config{ReportTimezone: "Mars/Olympus"}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback, got %v", cfg.Location())
	}
}
