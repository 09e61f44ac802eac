package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all tunable parameters for the marketplace API process and
// its background sweeps. Values load from environment variables with defaults
// chosen so the binary runs locally without excessive setup.
type Config struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PGDSN string

	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	Currency              string

	HoldDuration        time.Duration // capture -> escrow release eligibility
	PendingOrderTTL     time.Duration // unverified order lifetime before sweep
	EscrowSweepInterval time.Duration
	PendingSweepInterval time.Duration
	SweepBatchLimit     int

	LogLevel      string
	RunMigrations bool
}

func defaults() Config {
	return Config{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         10 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		CacheTTL:             30 * time.Second,
		KafkaTopic:           "booking-events",
		Currency:             "INR",
		HoldDuration:         48 * time.Hour,
		PendingOrderTTL:      30 * time.Minute,
		EscrowSweepInterval:  time.Hour,
		PendingSweepInterval: 5 * time.Minute,
		SweepBatchLimit:      100,
		LogLevel:             "info",
	}
}

func Load() (Config, error) {
	cfg := defaults()
	var errs []error

	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setDuration(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDuration(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDuration(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDuration(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDuration(&cfg.CacheTTL, "CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setString(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.RazorpayKeyID = os.Getenv("RAZORPAY_KEY_ID")
	cfg.RazorpayKeySecret = os.Getenv("RAZORPAY_KEY_SECRET")
	cfg.RazorpayWebhookSecret = os.Getenv("RAZORPAY_WEBHOOK_SECRET")
	setString(&cfg.Currency, "CURRENCY")

	setDuration(&cfg.HoldDuration, "HOLD_DURATION", &errs)
	setDuration(&cfg.PendingOrderTTL, "PENDING_ORDER_TTL", &errs)
	setDuration(&cfg.EscrowSweepInterval, "ESCROW_SWEEP_INTERVAL", &errs)
	setDuration(&cfg.PendingSweepInterval, "PENDING_SWEEP_INTERVAL", &errs)
	setInt(&cfg.SweepBatchLimit, "SWEEP_BATCH_LIMIT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.HoldDuration <= 0 {
		errs = append(errs, fmt.Errorf("HOLD_DURATION must be > 0"))
	}
	if cfg.PendingOrderTTL <= 0 {
		errs = append(errs, fmt.Errorf("PENDING_ORDER_TTL must be > 0"))
	}
	if cfg.SweepBatchLimit <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_BATCH_LIMIT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDuration(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setInt(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setString(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
