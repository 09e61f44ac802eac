package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/ridepool/internal/domain"
	"github.com/example/ridepool/internal/models"
)

func seedRide(t *testing.T, m *MemoryStore, seats int) *models.Ride {
	t.Helper()
	r := &models.Ride{
		ID:             "ride-1",
		DriverID:       "driver-1",
		Origin:         "pune",
		Destination:    "mumbai",
		Date:           "2026-09-01",
		Time:           "08:00",
		PricePerSeat:   50000,
		SeatsTotal:     seats,
		SeatsAvailable: seats,
		Status:         models.RideActive,
	}
	if err := m.CreateRide(context.Background(), r); err != nil {
		t.Fatalf("seed ride: %v", err)
	}
	return r
}

func seedBookingWithPayment(t *testing.T, m *MemoryStore, rideID string, at time.Time) (*models.Booking, *models.Payment) {
	t.Helper()
	b := &models.Booking{
		ID: "booking-1", RideID: rideID, PassengerID: "pax-1", DriverID: "driver-1",
		Seats: 1, TotalAmount: 50000, PaymentID: "pay-1",
		Status: models.BookingPending, Escrow: models.EscrowHeld,
		CreatedAt: at, UpdatedAt: at,
	}
	p := &models.Payment{
		ID: "pay-1", BookingID: b.ID, RideID: rideID, PassengerID: "pax-1", DriverID: "driver-1",
		Amount: 50000, Currency: "INR", OrderID: "order_abc",
		Status: models.PaymentCreated, Escrow: models.EscrowHeld,
		EscrowReleaseAt: at.Add(48 * time.Hour), CreatedAt: at, UpdatedAt: at,
	}
	if err := m.CreateBookingWithPayment(context.Background(), b, p); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return b, p
}

func TestReserveSeats_ConcurrentLastSeat(t *testing.T) {
	m := NewMemoryStore()
	seedRide(t, m, 1)
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.ReserveSeats(ctx, "ride-1", 1)
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case domain.IsInsufficientSeats(err):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != attempts-1 {
		t.Fatalf("want exactly one winner, got wins=%d losses=%d", wins, losses)
	}
	r, _ := m.GetRide(ctx, "ride-1")
	if r.SeatsAvailable != 0 {
		t.Fatalf("seats_available = %d, want 0", r.SeatsAvailable)
	}
}

func TestReserveSeats_InactiveRide(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	r := seedRide(t, m, 3)
	if err := m.CancelRide(ctx, r.ID, time.Now()); err != nil {
		t.Fatalf("cancel ride: %v", err)
	}
	err := m.ReserveSeats(ctx, r.ID, 1)
	if !domain.IsInvalidState(err) {
		t.Fatalf("want invalid state, got %v", err)
	}
}

func TestReleaseSeats_CappedAtTotal(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedRide(t, m, 3)
	if err := m.ReserveSeats(ctx, "ride-1", 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// release more than reserved; must clamp to seats_total
	if err := m.ReleaseSeats(ctx, "ride-1", 5); err != nil {
		t.Fatalf("release: %v", err)
	}
	r, _ := m.GetRide(ctx, "ride-1")
	if r.SeatsAvailable != 3 {
		t.Fatalf("seats_available = %d, want 3", r.SeatsAvailable)
	}
}

func TestApplyCapture_OnceThenReplay(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	seedRide(t, m, 2)
	b, p := seedBookingWithPayment(t, m, "ride-1", now)

	applied, err := m.ApplyCapture(ctx, p.OrderID, "rzp_pay_1", "sig", now)
	if err != nil || !applied {
		t.Fatalf("first capture: applied=%v err=%v", applied, err)
	}
	got, _ := m.GetBooking(ctx, b.ID)
	if got.Status != models.BookingConfirmed {
		t.Fatalf("booking status = %s, want confirmed", got.Status)
	}
	pay, _ := m.GetPayment(ctx, p.ID)
	if pay.Status != models.PaymentCaptured || pay.GatewayPaymentID != "rzp_pay_1" {
		t.Fatalf("payment not captured: %+v", pay)
	}

	// replay is a no-op, not an error
	applied, err = m.ApplyCapture(ctx, p.OrderID, "rzp_pay_1", "sig", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("replay err: %v", err)
	}
	if applied {
		t.Fatalf("replay must not re-apply")
	}
}

func TestApplyCapture_RefundedNeverRegresses(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	seedRide(t, m, 2)
	b, p := seedBookingWithPayment(t, m, "ride-1", now)

	if err := m.CancelBooking(ctx, b.ID, b.PassengerID, "change of plans", now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err := m.ApplyCapture(ctx, p.OrderID, "rzp_pay_late", "sig", now)
	if !domain.IsInvalidState(err) {
		t.Fatalf("capture after refund: want invalid state, got %v", err)
	}
	pay, _ := m.GetPayment(ctx, p.ID)
	if pay.Status != models.PaymentRefunded {
		t.Fatalf("payment regressed to %s", pay.Status)
	}
}

func TestCancelBooking_RestoresSeatsAndRefunds(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	seedRide(t, m, 3)
	if err := m.ReserveSeats(ctx, "ride-1", 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	b, p := seedBookingWithPayment(t, m, "ride-1", now)

	if err := m.CancelBooking(ctx, b.ID, b.PassengerID, "no longer needed", now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	r, _ := m.GetRide(ctx, "ride-1")
	if r.SeatsAvailable != 3 {
		t.Fatalf("seats not restored: %d", r.SeatsAvailable)
	}
	got, _ := m.GetBooking(ctx, b.ID)
	if got.Status != models.BookingCancelled || got.Escrow != models.EscrowRefunded {
		t.Fatalf("booking after cancel: status=%s escrow=%s", got.Status, got.Escrow)
	}
	pay, _ := m.GetPayment(ctx, p.ID)
	if pay.Status != models.PaymentRefunded || pay.Escrow != models.EscrowRefunded {
		t.Fatalf("payment after cancel: status=%s escrow=%s", pay.Status, pay.Escrow)
	}

	// cancelling twice is a state error
	if err := m.CancelBooking(ctx, b.ID, b.PassengerID, "again", now); !domain.IsInvalidState(err) {
		t.Fatalf("double cancel: want invalid state, got %v", err)
	}
}

func TestReleasePayment_GuardedByBookingState(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	seedRide(t, m, 2)
	b, p := seedBookingWithPayment(t, m, "ride-1", now)
	if err := m.CreateUser(ctx, &models.User{ID: "driver-1", Name: "D"}); err != nil {
		t.Fatalf("user: %v", err)
	}

	// not captured yet: release must refuse
	ok, err := m.ReleasePayment(ctx, p.ID, now)
	if err != nil || ok {
		t.Fatalf("release before capture: ok=%v err=%v", ok, err)
	}

	if _, err := m.ApplyCapture(ctx, p.OrderID, "rzp_1", "sig", now); err != nil {
		t.Fatalf("capture: %v", err)
	}
	ok, err = m.ReleasePayment(ctx, p.ID, now.Add(48*time.Hour))
	if err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
	pay, _ := m.GetPayment(ctx, p.ID)
	if pay.Escrow != models.EscrowReleased || pay.ReleasedAt == nil {
		t.Fatalf("payment not released: %+v", pay)
	}
	u, _ := m.GetUser(ctx, "driver-1")
	if u.WalletBalance != p.Amount {
		t.Fatalf("wallet = %d, want %d", u.WalletBalance, p.Amount)
	}
	got, _ := m.GetBooking(ctx, b.ID)
	if got.Escrow != models.EscrowReleased {
		t.Fatalf("booking escrow = %s, want released", got.Escrow)
	}

	// second run must not double credit
	ok, err = m.ReleasePayment(ctx, p.ID, now.Add(49*time.Hour))
	if err != nil || ok {
		t.Fatalf("double release: ok=%v err=%v", ok, err)
	}
	u, _ = m.GetUser(ctx, "driver-1")
	if u.WalletBalance != p.Amount {
		t.Fatalf("wallet double credited: %d", u.WalletBalance)
	}
}

func TestExpireOrder_FreesSeats(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	seedRide(t, m, 2)
	if err := m.ReserveSeats(ctx, "ride-1", 1); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	b, p := seedBookingWithPayment(t, m, "ride-1", now)

	stale, err := m.StaleOrders(ctx, now.Add(time.Minute), 10)
	if err != nil || len(stale) != 1 {
		t.Fatalf("stale orders: %d err=%v", len(stale), err)
	}
	ok, err := m.ExpireOrder(ctx, p.ID, now.Add(31*time.Minute))
	if err != nil || !ok {
		t.Fatalf("expire: ok=%v err=%v", ok, err)
	}
	r, _ := m.GetRide(ctx, "ride-1")
	if r.SeatsAvailable != 2 {
		t.Fatalf("seats not freed: %d", r.SeatsAvailable)
	}
	got, _ := m.GetBooking(ctx, b.ID)
	if got.Status != models.BookingCancelled {
		t.Fatalf("booking = %s, want cancelled", got.Status)
	}
	pay, _ := m.GetPayment(ctx, p.ID)
	if pay.Status != models.PaymentFailed {
		t.Fatalf("payment = %s, want failed", pay.Status)
	}
}

func TestCompleteRide_BatchesConfirmedOnly(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	seedRide(t, m, 4)
	if err := m.CreateUser(ctx, &models.User{ID: "driver-1", Name: "D"}); err != nil {
		t.Fatalf("user: %v", err)
	}

	mk := func(n, order string, confirm bool) {
		b := &models.Booking{
			ID: "b-" + n, RideID: "ride-1", PassengerID: "pax-" + n, DriverID: "driver-1",
			Seats: 1, TotalAmount: 50000, PaymentID: "p-" + n,
			Status: models.BookingPending, Escrow: models.EscrowHeld, CreatedAt: now, UpdatedAt: now,
		}
		p := &models.Payment{
			ID: "p-" + n, BookingID: b.ID, RideID: "ride-1", PassengerID: b.PassengerID, DriverID: "driver-1",
			Amount: 50000, Currency: "INR", OrderID: order,
			Status: models.PaymentCreated, Escrow: models.EscrowHeld,
			EscrowReleaseAt: now.Add(48 * time.Hour), CreatedAt: now, UpdatedAt: now,
		}
		if err := m.CreateBookingWithPayment(ctx, b, p); err != nil {
			t.Fatalf("booking %s: %v", n, err)
		}
		if confirm {
			if _, err := m.ApplyCapture(ctx, order, "rzp_"+n, "sig", now); err != nil {
				t.Fatalf("capture %s: %v", n, err)
			}
		}
	}
	mk("1", "order_1", true)
	mk("2", "order_2", false) // still pending; must stay behind

	done, err := m.CompleteRide(ctx, "ride-1", now)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(done) != 1 || done[0] != "b-1" {
		t.Fatalf("completed = %v, want [b-1]", done)
	}
	r, _ := m.GetRide(ctx, "ride-1")
	if r.Status != models.RideCompleted {
		t.Fatalf("ride = %s", r.Status)
	}
	b2, _ := m.GetBooking(ctx, "b-2")
	if b2.Status != models.BookingPending {
		t.Fatalf("pending booking moved to %s", b2.Status)
	}
	u, _ := m.GetUser(ctx, "driver-1")
	if u.RidesCompleted != 1 {
		t.Fatalf("rides_completed = %d", u.RidesCompleted)
	}
}

func TestCreateRating_DuplicateKey(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	rt := &models.Rating{
		ID: "rt-1", RideID: "ride-1", BookingID: "b-1",
		RaterID: "pax-1", RatedID: "driver-1",
		Direction: models.RateDriver, Score: 5, CreatedAt: time.Now(),
	}
	if err := m.CreateRating(ctx, rt); err != nil {
		t.Fatalf("first rating: %v", err)
	}
	dup := *rt
	dup.ID = "rt-2"
	if err := m.CreateRating(ctx, &dup); !domain.IsDuplicate(err) {
		t.Fatalf("duplicate rating: want duplicate error, got %v", err)
	}
}

func TestRecomputeUserRating(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if err := m.CreateUser(ctx, &models.User{ID: "driver-1", Name: "D"}); err != nil {
		t.Fatalf("user: %v", err)
	}
	scores := []int{5, 3}
	for i, sc := range scores {
		rt := &models.Rating{
			ID: "rt-" + string(rune('a'+i)), BookingID: "b-" + string(rune('a'+i)),
			RaterID: "pax", RatedID: "driver-1", Direction: models.RateDriver,
			Score: sc, CreatedAt: time.Now(),
		}
		if err := m.CreateRating(ctx, rt); err != nil {
			t.Fatalf("rating %d: %v", i, err)
		}
	}
	avg, total, err := m.RecomputeUserRating(ctx, "driver-1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if avg != 4.0 || total != 2 {
		t.Fatalf("avg=%v total=%d, want 4.0/2", avg, total)
	}
	u, _ := m.GetUser(ctx, "driver-1")
	if u.Rating != 4.0 || u.TotalRatings != 2 {
		t.Fatalf("user not updated: %+v", u)
	}
}
