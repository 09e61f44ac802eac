package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/example/ridepool/internal/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreFromDB(db), mock
}

func rideRows(seatsAvailable int, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "driver_id", "origin", "destination", "from_lat", "from_lon", "to_lat", "to_lon",
		"date", "time", "price_per_seat", "seats_total", "seats_available", "status", "vehicle",
		"rating", "total_ratings", "created_at", "updated_at",
	}).AddRow("ride-1", "driver-1", "pune", "mumbai", 18.5, 73.8, 19.0, 72.8,
		"2026-09-05", "08:30", int64(50000), 3, seatsAvailable, status, "",
		0.0, 0, now, now)
}

func paymentRows(status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "booking_id", "ride_id", "passenger_id", "driver_id", "amount", "currency",
		"order_id", "gateway_payment_id", "signature", "status", "escrow_status",
		"escrow_release_at", "released_at", "created_at", "updated_at",
	}).AddRow("pay-1", "booking-1", "ride-1", "pax-1", "driver-1", int64(50000), "INR",
		"order_abc", "", "", status, "held", now.Add(48*time.Hour), nil, now, now)
}

func TestPostgresReserveSeats_GuardedUpdate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE rides SET seats_available = seats_available - $2`)).
		WithArgs("ride-1", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.ReserveSeats(context.Background(), "ride-1", 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresReserveSeats_LostRace(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE rides SET seats_available = seats_available - $2`)).
		WithArgs("ride-1", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// losing side re-reads to classify the refusal
	mock.ExpectQuery(regexp.QuoteMeta(`FROM rides WHERE id=$1`)).
		WithArgs("ride-1").
		WillReturnRows(rideRows(1, "active"))

	err := store.ReserveSeats(context.Background(), "ride-1", 2)
	if !domain.IsInsufficientSeats(err) {
		t.Fatalf("want insufficient seats, got %v", err)
	}
	var ise domain.InsufficientSeatsError
	if !errors.As(err, &ise) || ise.Available != 1 {
		t.Fatalf("wrong detail: %v", err)
	}
}

func TestPostgresReserveSeats_InactiveRide(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE rides SET seats_available = seats_available - $2`)).
		WithArgs("ride-1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM rides WHERE id=$1`)).
		WithArgs("ride-1").
		WillReturnRows(rideRows(3, "cancelled"))

	if err := store.ReserveSeats(context.Background(), "ride-1", 1); !domain.IsInvalidState(err) {
		t.Fatalf("want invalid state, got %v", err)
	}
}

func TestPostgresApplyCapture_Applies(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE payments SET status='captured'`)).
		WithArgs("order_abc", "rzp_1", "sig", at).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id"}).AddRow("booking-1"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings SET status='confirmed'`)).
		WithArgs("booking-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := store.ApplyCapture(context.Background(), "order_abc", "rzp_1", "sig", at)
	if err != nil || !applied {
		t.Fatalf("capture: applied=%v err=%v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresApplyCapture_ReplayReturnsFalse(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE payments SET status='captured'`)).
		WithArgs("order_abc", "rzp_1", "sig", at).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id"})) // guard missed
	mock.ExpectQuery(regexp.QuoteMeta(`FROM payments WHERE order_id=$1`)).
		WithArgs("order_abc").
		WillReturnRows(paymentRows("captured"))
	mock.ExpectRollback()

	applied, err := store.ApplyCapture(context.Background(), "order_abc", "rzp_1", "sig", at)
	if err != nil {
		t.Fatalf("replay err: %v", err)
	}
	if applied {
		t.Fatalf("replay must not apply")
	}
}

func TestPostgresApplyCapture_RefundedIsStateError(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE payments SET status='captured'`)).
		WithArgs("order_abc", "rzp_1", "sig", at).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id"}))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM payments WHERE order_id=$1`)).
		WithArgs("order_abc").
		WillReturnRows(paymentRows("refunded"))
	mock.ExpectRollback()

	_, err := store.ApplyCapture(context.Background(), "order_abc", "rzp_1", "sig", at)
	if !domain.IsInvalidState(err) {
		t.Fatalf("want invalid state, got %v", err)
	}
}

func TestPostgresReleasePayment_GuardMiss(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE payments pay SET escrow_status='released'`)).
		WithArgs("pay-1", at).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "driver_id", "amount"}))
	mock.ExpectRollback()

	ok, err := store.ReleasePayment(context.Background(), "pay-1", at)
	if err != nil || ok {
		t.Fatalf("guard miss: ok=%v err=%v", ok, err)
	}
}

func TestPostgresReleasePayment_CreditsDriver(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE payments pay SET escrow_status='released'`)).
		WithArgs("pay-1", at).
		WillReturnRows(sqlmock.NewRows([]string{"booking_id", "driver_id", "amount"}).
			AddRow("booking-1", "driver-1", int64(50000)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings SET escrow_status='released'`)).
		WithArgs("booking-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET wallet_balance = wallet_balance + $2`)).
		WithArgs("driver-1", int64(50000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := store.ReleasePayment(context.Background(), "pay-1", at)
	if err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresCancelBooking_Transaction(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE bookings`)).
		WithArgs("booking-1", "plans changed", "pax-1", at).
		WillReturnRows(sqlmock.NewRows([]string{"ride_id", "payment_id", "seats"}).
			AddRow("ride-1", "pay-1", 2))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE payments SET status='refunded'`)).
		WithArgs("pay-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE rides SET seats_available = LEAST(seats_available + $2, seats_total)`)).
		WithArgs("ride-1", 2, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.CancelBooking(context.Background(), "booking-1", "pax-1", "plans changed", at); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
