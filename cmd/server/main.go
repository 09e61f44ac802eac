package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/ridepool/internal/booking"
	"github.com/example/ridepool/internal/cache"
	"github.com/example/ridepool/internal/config"
	"github.com/example/ridepool/internal/escrow"
	httpapi "github.com/example/ridepool/internal/http"
	"github.com/example/ridepool/internal/logging"
	"github.com/example/ridepool/internal/notify"
	"github.com/example/ridepool/internal/payments"
	"github.com/example/ridepool/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger("info").Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		if cfg.RunMigrations {
			if err := runMigrations(ps, logger); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var rideCache *cache.RideCache
	if cfg.RedisAddr != "" {
		rideCache = cache.NewRideCache(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
		defer rideCache.Close()
	}

	wsreg := notify.NewWSRegistry(logging.Component(logger, "ws"))
	fanout := &notify.Fanout{Sinks: []notify.Publisher{wsreg}}
	if len(cfg.KafkaBrokers) > 0 {
		kp := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		fanout.Sinks = append(fanout.Sinks, kp)
	}

	svc := &booking.Service{
		Store:        store,
		Gateway:      payments.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret),
		Verifier:     payments.NewVerifier(cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret),
		Events:       fanout,
		Cache:        rideCache,
		Logger:       logging.Component(logger, "booking"),
		HoldDuration: cfg.HoldDuration,
		Currency:     cfg.Currency,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := &escrow.Scheduler{
		Store:           store,
		Logger:          logging.Component(logger, "escrow"),
		ReleaseInterval: cfg.EscrowSweepInterval,
		PendingInterval: cfg.PendingSweepInterval,
		PendingTTL:      cfg.PendingOrderTTL,
		BatchLimit:      cfg.SweepBatchLimit,
	}
	go sched.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(svc, wsreg, logging.Component(logger, "http")),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func runMigrations(ps *storage.PostgresStore, logger *slog.Logger) error {
	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := ps.DB().Exec(string(b)); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
		logger.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
