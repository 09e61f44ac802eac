// Package booking is the use-case layer of the marketplace: it drives seat
// inventory, the booking and payment state machines and the external gateway
// together so each operation either fully happens or leaves nothing behind.
package booking

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridepool/internal/cache"
	"github.com/example/ridepool/internal/domain"
	"github.com/example/ridepool/internal/models"
	"github.com/example/ridepool/internal/notify"
	"github.com/example/ridepool/internal/observability"
	"github.com/example/ridepool/internal/payments"
	"github.com/example/ridepool/internal/storage"
)

type Service struct {
	Store    storage.Store
	Gateway  payments.Gateway
	Verifier *payments.Verifier
	Events   notify.Publisher
	Cache    *cache.RideCache
	Logger   *slog.Logger

	HoldDuration time.Duration
	Currency     string

	// Now is swappable for tests; nil means time.Now.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) publish(ev notify.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ev); err != nil && s.Logger != nil {
		s.Logger.Warn("event publish failed", "type", ev.Type, "booking_id", ev.BookingID, "error", err)
	}
}

type PostRideInput struct {
	Origin       string       `json:"origin"`
	Destination  string       `json:"destination"`
	FromCoord    models.Coord `json:"from_coord"`
	ToCoord      models.Coord `json:"to_coord"`
	Date         string       `json:"date"`
	Time         string       `json:"time"`
	PricePerSeat int64        `json:"price_per_seat"`
	Seats        int          `json:"seats"`
	Vehicle      string       `json:"vehicle"`
}

// normalizePlace lower-cases and trims so searches are exact-match stable.
func normalizePlace(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func (s *Service) PostRide(ctx context.Context, driverID string, in PostRideInput) (*models.Ride, error) {
	in.Origin = normalizePlace(in.Origin)
	in.Destination = normalizePlace(in.Destination)
	switch {
	case in.Origin == "":
		return nil, domain.ValidationError{Field: "origin", Msg: "required"}
	case in.Destination == "":
		return nil, domain.ValidationError{Field: "destination", Msg: "required"}
	case in.Seats < 1:
		return nil, domain.ValidationError{Field: "seats", Msg: "must be at least 1"}
	case in.PricePerSeat <= 0:
		return nil, domain.ValidationError{Field: "price_per_seat", Msg: "must be positive"}
	case in.FromCoord == models.Coord{} || in.ToCoord == models.Coord{}:
		return nil, domain.ValidationError{Field: "coords", Msg: "origin and destination coordinates required"}
	}
	if _, err := time.Parse("2006-01-02", in.Date); err != nil {
		return nil, domain.ValidationError{Field: "date", Msg: "want YYYY-MM-DD"}
	}
	if _, err := time.Parse("15:04", in.Time); err != nil {
		return nil, domain.ValidationError{Field: "time", Msg: "want HH:MM"}
	}

	now := s.now()
	ride := &models.Ride{
		ID:             uuid.NewString(),
		DriverID:       driverID,
		Origin:         in.Origin,
		Destination:    in.Destination,
		FromCoord:      in.FromCoord,
		ToCoord:        in.ToCoord,
		Date:           in.Date,
		Time:           in.Time,
		PricePerSeat:   in.PricePerSeat,
		SeatsTotal:     in.Seats,
		SeatsAvailable: in.Seats,
		Status:         models.RideActive,
		Vehicle:        in.Vehicle,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Store.CreateRide(ctx, ride); err != nil {
		return nil, err
	}
	s.Cache.Invalidate(ctx)
	return ride, nil
}

func (s *Service) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	return s.Store.GetRide(ctx, id)
}

func (s *Service) ListRides(ctx context.Context, f storage.RideFilter) ([]*models.Ride, error) {
	f.Origin = normalizePlace(f.Origin)
	f.Destination = normalizePlace(f.Destination)
	if rides, ok := s.Cache.Get(ctx, f); ok {
		return rides, nil
	}
	rides, err := s.Store.ListRides(ctx, f)
	if err != nil {
		return nil, err
	}
	s.Cache.Set(ctx, f, rides)
	return rides, nil
}

// DriverRideView is a driver's ride with its bookings and the amount the
// driver stands to earn from them.
type DriverRideView struct {
	Ride          *models.Ride      `json:"ride"`
	Bookings      []*models.Booking `json:"bookings"`
	TotalEarnings int64             `json:"total_earnings"`
}

func (s *Service) DriverRides(ctx context.Context, driverID string) ([]DriverRideView, error) {
	rides, err := s.Store.ListRidesByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	out := make([]DriverRideView, 0, len(rides))
	for _, r := range rides {
		bookings, err := s.Store.ListBookingsByRide(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		var earnings int64
		kept := bookings[:0]
		for _, b := range bookings {
			if b.Status == models.BookingCancelled && b.CancelledBy == "system" {
				// expired checkouts are noise for the driver view
				continue
			}
			if b.Status == models.BookingConfirmed || b.Status == models.BookingCompleted {
				earnings += b.TotalAmount
			}
			kept = append(kept, b)
		}
		out = append(out, DriverRideView{Ride: r, Bookings: kept, TotalEarnings: earnings})
	}
	return out, nil
}

// CancelRide is the driver withdrawing an offer; refused while any booking
// still holds seats.
func (s *Service) CancelRide(ctx context.Context, driverID, rideID string) error {
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.DriverID != driverID {
		return domain.ForbiddenError{Action: "cancel ride"}
	}
	if err := s.Store.CancelRide(ctx, rideID, s.now()); err != nil {
		return err
	}
	s.Cache.Invalidate(ctx)
	return nil
}

type CreateOrderInput struct {
	RideID         string `json:"ride_id"`
	Seats          int    `json:"seats"`
	PassengerName  string `json:"passenger_name"`
	PassengerPhone string `json:"passenger_phone"`
	PassengerEmail string `json:"passenger_email"`
}

// OrderConfirmation is what the client needs to open the gateway's checkout.
type OrderConfirmation struct {
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
	KeyID     string `json:"key_id"`
}

// CreateOrder reserves seats, opens a gateway order and records the pending
// booking with its created payment. Seats are reserved first so two
// concurrent checkouts cannot both believe they are free; the reservation is
// compensated if any later step fails.
func (s *Service) CreateOrder(ctx context.Context, passengerID string, in CreateOrderInput) (*OrderConfirmation, error) {
	if in.Seats < 1 {
		return nil, domain.ValidationError{Field: "seats", Msg: "must be at least 1"}
	}
	ride, err := s.Store.GetRide(ctx, in.RideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID == passengerID {
		return nil, domain.ValidationError{Field: "ride_id", Msg: "cannot book your own ride"}
	}
	if ride.Status != models.RideActive {
		return nil, domain.InvalidStateError{Entity: "ride", Current: string(ride.Status), Attempted: "book"}
	}

	if err := s.Store.ReserveSeats(ctx, in.RideID, in.Seats); err != nil {
		return nil, err
	}
	s.Cache.Invalidate(ctx)

	amount := ride.PricePerSeat * int64(in.Seats)
	now := s.now()
	bookingID := uuid.NewString()
	paymentID := uuid.NewString()

	orderID, err := s.Gateway.CreateOrder(ctx, amount, s.Currency, "rcpt_"+paymentID, map[string]string{
		"ride_id":      ride.ID,
		"booking_id":   bookingID,
		"passenger_id": passengerID,
		"seats":        strconv.Itoa(in.Seats),
	})
	if err != nil {
		s.compensateReservation(ctx, in.RideID, in.Seats)
		observability.OrdersFailed.Inc()
		return nil, domain.UpstreamError{Op: "create order", Err: err}
	}

	b := &models.Booking{
		ID:             bookingID,
		RideID:         ride.ID,
		PassengerID:    passengerID,
		DriverID:       ride.DriverID,
		PassengerName:  in.PassengerName,
		PassengerPhone: in.PassengerPhone,
		PassengerEmail: in.PassengerEmail,
		Seats:          in.Seats,
		TotalAmount:    amount,
		PaymentID:      paymentID,
		Status:         models.BookingPending,
		Escrow:         models.EscrowHeld,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	p := &models.Payment{
		ID:              paymentID,
		BookingID:       bookingID,
		RideID:          ride.ID,
		PassengerID:     passengerID,
		DriverID:        ride.DriverID,
		Amount:          amount,
		Currency:        s.Currency,
		OrderID:         orderID,
		Status:          models.PaymentCreated,
		Escrow:          models.EscrowHeld,
		EscrowReleaseAt: now.Add(s.HoldDuration),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Store.CreateBookingWithPayment(ctx, b, p); err != nil {
		s.compensateReservation(ctx, in.RideID, in.Seats)
		observability.OrdersFailed.Inc()
		return nil, err
	}

	observability.OrdersCreated.Inc()
	s.publish(notify.Event{
		Type:       notify.EventBookingCreated,
		RideID:     ride.ID,
		BookingID:  bookingID,
		ActorID:    passengerID,
		Status:     string(models.BookingPending),
		Recipients: []string{ride.DriverID},
		At:         now,
	})
	return &OrderConfirmation{
		OrderID:   orderID,
		Amount:    amount,
		Currency:  s.Currency,
		BookingID: bookingID,
		PaymentID: paymentID,
		KeyID:     s.Gateway.KeyID(),
	}, nil
}

func (s *Service) compensateReservation(ctx context.Context, rideID string, seats int) {
	if err := s.Store.ReleaseSeats(ctx, rideID, seats); err != nil && s.Logger != nil {
		s.Logger.Error("seat reservation compensation failed", "ride_id", rideID, "seats", seats, "error", err)
	}
	s.Cache.Invalidate(ctx)
}

type VerifyInput struct {
	OrderID          string `json:"order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
	BookingID        string `json:"booking_id"`
}

type VerifyResult struct {
	BookingID string `json:"booking_id"`
	PaymentID string `json:"payment_id"`
	Replayed  bool   `json:"replayed"`
}

// VerifyPayment applies the client-relayed capture confirmation. Replays of
// an already-captured (orderID, paymentID) pair echo the prior result
// without side effects.
func (s *Service) VerifyPayment(ctx context.Context, passengerID string, in VerifyInput) (*VerifyResult, error) {
	payment, err := s.Store.GetPaymentByOrderID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if payment.PassengerID != passengerID {
		return nil, domain.ForbiddenError{Action: "verify payment"}
	}
	if in.BookingID != "" && in.BookingID != payment.BookingID {
		return nil, domain.ValidationError{Field: "booking_id", Msg: "does not match order"}
	}

	// Signature check precedes every mutation.
	if !s.Verifier.VerifyCheckout(in.OrderID, in.GatewayPaymentID, in.Signature) {
		observability.SignatureRejects.Inc()
		return nil, domain.SignatureMismatchError{Channel: "checkout"}
	}

	applied, err := s.Store.ApplyCapture(ctx, in.OrderID, in.GatewayPaymentID, in.Signature, s.now())
	if err != nil {
		return nil, err
	}
	if !applied {
		observability.PaymentReplays.Inc()
		return &VerifyResult{BookingID: payment.BookingID, PaymentID: payment.ID, Replayed: true}, nil
	}

	observability.PaymentsCaptured.Inc()
	s.publish(notify.Event{
		Type:       notify.EventBookingStatusChanged,
		RideID:     payment.RideID,
		BookingID:  payment.BookingID,
		ActorID:    passengerID,
		Status:     string(models.BookingConfirmed),
		Recipients: []string{payment.DriverID, payment.PassengerID},
		At:         s.now(),
	})
	return &VerifyResult{BookingID: payment.BookingID, PaymentID: payment.ID}, nil
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// HandleWebhook applies the gateway's server-to-server confirmation. It goes
// through the same guarded capture as VerifyPayment, so the two channels can
// arrive in any order, or twice, and converge on one captured state.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.Verifier.VerifyWebhook(body, signature) {
		observability.SignatureRejects.Inc()
		return domain.SignatureMismatchError{Channel: "webhook"}
	}
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.ValidationError{Field: "body", Msg: "malformed webhook payload"}
	}
	if env.Event != "payment.captured" {
		return nil
	}
	orderID := env.Payload.Payment.Entity.OrderID
	payment, err := s.Store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		if domain.IsNotFound(err) {
			// Webhooks can outlive their order (stale retries); acknowledge.
			if s.Logger != nil {
				s.Logger.Warn("webhook for unknown order", "order_id", orderID)
			}
			return nil
		}
		return err
	}

	applied, err := s.Store.ApplyCapture(ctx, orderID, env.Payload.Payment.Entity.ID, "", s.now())
	if err != nil {
		if domain.IsInvalidState(err) {
			// Payment already failed or refunded; capture never regresses it.
			if s.Logger != nil {
				s.Logger.Warn("webhook capture skipped", "order_id", orderID, "error", err)
			}
			return nil
		}
		return err
	}
	if !applied {
		observability.PaymentReplays.Inc()
		return nil
	}
	observability.PaymentsCaptured.Inc()
	s.publish(notify.Event{
		Type:       notify.EventBookingStatusChanged,
		RideID:     payment.RideID,
		BookingID:  payment.BookingID,
		ActorID:    "gateway",
		Status:     string(models.BookingConfirmed),
		Recipients: []string{payment.DriverID, payment.PassengerID},
		At:         s.now(),
	})
	return nil
}

// CancelBooking is the passenger withdrawing. The store reverses seats and
// refunds the payment in the same transaction as the status change.
func (s *Service) CancelBooking(ctx context.Context, actorID, bookingID, reason string) error {
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.PassengerID != actorID {
		return domain.ForbiddenError{Action: "cancel booking"}
	}
	now := s.now()
	if err := s.Store.CancelBooking(ctx, bookingID, actorID, reason, now); err != nil {
		return err
	}
	s.Cache.Invalidate(ctx)
	observability.BookingsCancelled.Inc()
	s.publish(notify.Event{
		Type:       notify.EventBookingStatusChanged,
		RideID:     b.RideID,
		BookingID:  bookingID,
		ActorID:    actorID,
		Status:     string(models.BookingCancelled),
		Recipients: []string{b.DriverID, b.PassengerID},
		At:         now,
	})
	return nil
}

// CompleteRide is driver-only and batch-moves every confirmed booking on the
// ride to completed. It is the sole gate that later makes rating and escrow
// release possible for those bookings.
func (s *Service) CompleteRide(ctx context.Context, driverID, rideID string) ([]string, error) {
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != driverID {
		return nil, domain.ForbiddenError{Action: "complete ride"}
	}
	now := s.now()
	bookingIDs, err := s.Store.CompleteRide(ctx, rideID, now)
	if err != nil {
		return nil, err
	}
	s.Cache.Invalidate(ctx)
	observability.RidesCompleted.Inc()
	for _, id := range bookingIDs {
		b, err := s.Store.GetBooking(ctx, id)
		if err != nil {
			continue
		}
		s.publish(notify.Event{
			Type:       notify.EventBookingStatusChanged,
			RideID:     rideID,
			BookingID:  id,
			ActorID:    driverID,
			Status:     string(models.BookingCompleted),
			Recipients: []string{b.PassengerID},
			At:         now,
		})
	}
	return bookingIDs, nil
}

// BookingDetail returns a booking to one of its two participants.
func (s *Service) BookingDetail(ctx context.Context, actorID, bookingID string) (*models.Booking, error) {
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.PassengerID != actorID && b.DriverID != actorID {
		return nil, domain.ForbiddenError{Action: "view booking"}
	}
	return b, nil
}

func (s *Service) PassengerBookings(ctx context.Context, passengerID string) ([]*models.Booking, error) {
	return s.Store.ListBookingsByPassenger(ctx, passengerID)
}

// PaymentDetail returns a payment to one of its participants.
func (s *Service) PaymentDetail(ctx context.Context, actorID, paymentID string) (*models.Payment, error) {
	p, err := s.Store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.PassengerID != actorID && p.DriverID != actorID {
		return nil, domain.ForbiddenError{Action: "view payment"}
	}
	return p, nil
}
