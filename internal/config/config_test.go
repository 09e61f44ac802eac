package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("addr = %q", cfg.HTTPAddr)
	}
	if cfg.HoldDuration != 48*time.Hour {
		t.Fatalf("hold = %v", cfg.HoldDuration)
	}
	if cfg.PendingOrderTTL != 30*time.Minute {
		t.Fatalf("pending ttl = %v", cfg.PendingOrderTTL)
	}
	if cfg.SweepBatchLimit != 100 {
		t.Fatalf("batch limit = %d", cfg.SweepBatchLimit)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("HOLD_DURATION", "24h")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("MIGRATE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.HoldDuration != 24*time.Hour {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if !cfg.RunMigrations {
		t.Fatalf("migrate flag not read")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("HOLD_DURATION", "-1h")
	if _, err := Load(); err == nil {
		t.Fatalf("negative hold duration must fail validation")
	}

	t.Setenv("HOLD_DURATION", "nonsense")
	if _, err := Load(); err == nil {
		t.Fatalf("unparsable duration must fail")
	}
}
