package storage

import (
	"context"
	"time"

	"github.com/example/ridepool/internal/models"
)

// RideFilter narrows ListRides. Zero values mean "no constraint".
type RideFilter struct {
	Origin      string
	Destination string
	Date        string
	MinSeats    int
	MaxPrice    int64
	SortBy      string // created_at, price_per_seat, date
	SortOrder   string // asc / desc
	Limit       int
}

// Store is the persistence boundary of the booking engine. Every mutable
// shared field (seats_available, payment status/escrow, booking status) is
// changed only through the guarded operations below; there is no generic
// update method on purpose.
//
// Guarded operations return (false, nil) when the precondition no longer
// holds, so concurrent attempts degrade to no-ops instead of double writes.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)

	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, error)
	ListRidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error)

	// ReserveSeats atomically decrements seats_available when the ride is
	// active and has at least seats free. The losing side of a race gets
	// domain.InsufficientSeatsError and no partial mutation.
	ReserveSeats(ctx context.Context, rideID string, seats int) error
	// ReleaseSeats restores seats, capped at seats_total.
	ReleaseSeats(ctx context.Context, rideID string, seats int) error

	// CompleteRide transitions an active ride to completed, batch-moves its
	// confirmed bookings to completed and bumps the driver's counter, all in
	// one transaction. It returns the ids of the bookings it completed.
	CompleteRide(ctx context.Context, rideID string, at time.Time) ([]string, error)
	// CancelRide cancels an active ride that has no pending or confirmed
	// bookings.
	CancelRide(ctx context.Context, rideID string, at time.Time) error

	// CreateBookingWithPayment persists a new pending booking and its created
	// payment together.
	CreateBookingWithPayment(ctx context.Context, b *models.Booking, p *models.Payment) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ListBookingsByPassenger(ctx context.Context, passengerID string) ([]*models.Booking, error)
	ListBookingsByRide(ctx context.Context, rideID string) ([]*models.Booking, error)

	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)

	// ApplyCapture is the single capture transition used by both the
	// synchronous verify call and the webhook: payment created -> captured,
	// booking pending -> confirmed. Returns false when the payment is already
	// captured (idempotent replay).
	ApplyCapture(ctx context.Context, orderID, gatewayPaymentID, signature string, at time.Time) (bool, error)

	// CancelBooking moves a pending or confirmed booking to cancelled,
	// refunds its payment and restores the ride's seats in one transaction.
	CancelBooking(ctx context.Context, bookingID, actorID, reason string, at time.Time) error

	// DuePayments lists captured, still-held payments whose release date has
	// passed, oldest first, bounded by limit.
	DuePayments(ctx context.Context, now time.Time, limit int) ([]*models.Payment, error)
	// ReleasePayment releases one held payment: sets released/released_at,
	// mirrors escrow onto the booking and credits the driver's wallet. The
	// write is conditional on the payment still being held and captured and
	// the booking still confirmed or completed; returns false otherwise.
	ReleasePayment(ctx context.Context, paymentID string, at time.Time) (bool, error)

	// StaleOrders lists payments still in created state whose order was
	// opened before cutoff.
	StaleOrders(ctx context.Context, cutoff time.Time, limit int) ([]*models.Payment, error)
	// ExpireOrder fails an unverified payment, cancels its pending booking
	// and restores seats; false when the payment is no longer in created
	// state.
	ExpireOrder(ctx context.Context, paymentID string, at time.Time) (bool, error)

	// CreateRating inserts a rating; a second rating for the same
	// (booking, rater, rated) key returns domain.DuplicateOperationError.
	CreateRating(ctx context.Context, rt *models.Rating) error
	ListRatingsForUser(ctx context.Context, userID string, limit int) ([]*models.Rating, error)
	// RecomputeUserRating recalculates and stores the running average for a
	// user, returning the new average and count.
	RecomputeUserRating(ctx context.Context, userID string) (float64, int, error)
	// RecomputeRideRating does the same for a ride from its driver-direction
	// ratings.
	RecomputeRideRating(ctx context.Context, rideID string) (float64, int, error)
	// MarkBookingRated sets the per-direction rated flag exactly once.
	MarkBookingRated(ctx context.Context, bookingID string, dir models.RatingDirection) error
}
