// Package escrow runs the background sweeps that move money out of hold:
// releasing captured payments whose hold window elapsed, and expiring
// checkout orders that were never confirmed.
package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ridepool/internal/observability"
	"github.com/example/ridepool/internal/storage"
)

type Scheduler struct {
	Store  storage.Store
	Logger *slog.Logger

	ReleaseInterval time.Duration
	PendingInterval time.Duration
	PendingTTL      time.Duration
	BatchLimit      int

	// Now is swappable for tests; nil means time.Now.
	Now func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Run blocks until ctx is done, executing both sweeps on their own tickers.
// Each sweep also runs once immediately so a restart does not wait a full
// interval to catch up on overdue work.
func (s *Scheduler) Run(ctx context.Context) {
	releaseTick := time.NewTicker(s.ReleaseInterval)
	defer releaseTick.Stop()
	pendingTick := time.NewTicker(s.PendingInterval)
	defer pendingTick.Stop()

	s.ReleaseDuePayments(ctx)
	s.ExpireStaleOrders(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-releaseTick.C:
			s.ReleaseDuePayments(ctx)
		case <-pendingTick.C:
			s.ExpireStaleOrders(ctx)
		}
	}
}

// ReleaseDuePayments releases every captured payment whose hold window has
// elapsed. Candidate selection is a hint only; the per-payment conditional
// write re-checks the payment and booking state, so a cancellation racing
// the sweep simply makes the release a no-op.
func (s *Scheduler) ReleaseDuePayments(ctx context.Context) {
	start := time.Now()
	defer func() {
		observability.SweepDuration.WithLabelValues("release").Observe(time.Since(start).Seconds())
	}()

	now := s.now()
	due, err := s.Store.DuePayments(ctx, now, s.BatchLimit)
	if err != nil {
		observability.SweepErrors.Inc()
		s.Logger.Error("due payment scan failed", "error", err)
		return
	}
	var released, skipped int
	for _, p := range due {
		ok, err := s.Store.ReleasePayment(ctx, p.ID, now)
		if err != nil {
			observability.SweepErrors.Inc()
			s.Logger.Error("escrow release failed", "payment_id", p.ID, "error", err)
			continue
		}
		if !ok {
			observability.EscrowSkipped.Inc()
			skipped++
			continue
		}
		observability.EscrowReleased.Inc()
		released++
		s.Logger.Info("escrow released",
			"payment_id", p.ID, "booking_id", p.BookingID,
			"driver_id", p.DriverID, "amount", p.Amount)
	}
	if len(due) > 0 {
		s.Logger.Info("release sweep done", "candidates", len(due), "released", released, "skipped", skipped)
	}
}

// ExpireStaleOrders fails checkout orders that sat unverified past the
// pending TTL, freeing their seats.
func (s *Scheduler) ExpireStaleOrders(ctx context.Context) {
	start := time.Now()
	defer func() {
		observability.SweepDuration.WithLabelValues("expire").Observe(time.Since(start).Seconds())
	}()

	now := s.now()
	stale, err := s.Store.StaleOrders(ctx, now.Add(-s.PendingTTL), s.BatchLimit)
	if err != nil {
		observability.SweepErrors.Inc()
		s.Logger.Error("stale order scan failed", "error", err)
		return
	}
	var expired int
	for _, p := range stale {
		ok, err := s.Store.ExpireOrder(ctx, p.ID, now)
		if err != nil {
			observability.SweepErrors.Inc()
			s.Logger.Error("order expiry failed", "payment_id", p.ID, "error", err)
			continue
		}
		if ok {
			observability.StaleExpired.Inc()
			expired++
			s.Logger.Info("stale order expired", "payment_id", p.ID, "booking_id", p.BookingID, "order_id", p.OrderID)
		}
	}
	if len(stale) > 0 {
		s.Logger.Info("expiry sweep done", "candidates", len(stale), "expired", expired)
	}
}
