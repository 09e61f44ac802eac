package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/ridepool/internal/domain"
	"github.com/example/ridepool/internal/models"
)

// MemoryStore implements Store with a single mutex. It mirrors the guarded
// semantics of PostgresStore exactly, which is what makes it usable for the
// concurrency tests: reserve/capture/release all check-and-write under the
// same lock.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	rides    map[string]*models.Ride
	bookings map[string]*models.Booking
	payments map[string]*models.Payment
	byOrder  map[string]string            // order id -> payment id
	ratings  map[string]*models.Rating
	rateKeys map[string]bool              // bookingID|raterID|ratedID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*models.User),
		rides:    make(map[string]*models.Ride),
		bookings: make(map[string]*models.Booking),
		payments: make(map[string]*models.Payment),
		byOrder:  make(map[string]string),
		ratings:  make(map[string]*models.Rating),
		rateKeys: make(map[string]bool),
	}
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.NotFoundError{Resource: "user", ID: id}
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rideLocked(id)
}

func (m *MemoryStore) rideLocked(id string) (*models.Ride, error) {
	r, ok := m.rides[id]
	if !ok {
		return nil, domain.NotFoundError{Resource: "ride", ID: id}
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status != models.RideActive || r.SeatsAvailable <= 0 {
			continue
		}
		if f.Origin != "" && r.Origin != f.Origin {
			continue
		}
		if f.Destination != "" && r.Destination != f.Destination {
			continue
		}
		if f.Date != "" && r.Date != f.Date {
			continue
		}
		if f.MinSeats > 0 && r.SeatsAvailable < f.MinSeats {
			continue
		}
		if f.MaxPrice > 0 && r.PricePerSeat > f.MaxPrice {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	asc := f.SortOrder == "asc"
	sort.Slice(out, func(i, j int) bool {
		var less bool
		switch f.SortBy {
		case "price_per_seat":
			less = out[i].PricePerSeat < out[j].PricePerSeat
		case "date":
			less = out[i].Date < out[j].Date
		default:
			less = out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if asc {
			return less
		}
		return !less
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListRidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.DriverID == driverID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ReserveSeats(ctx context.Context, rideID string, seats int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return domain.NotFoundError{Resource: "ride", ID: rideID}
	}
	if r.Status != models.RideActive {
		return domain.InvalidStateError{Entity: "ride", Current: string(r.Status), Attempted: "reserve seats"}
	}
	if r.SeatsAvailable < seats {
		return domain.InsufficientSeatsError{RideID: rideID, Requested: seats, Available: r.SeatsAvailable}
	}
	r.SeatsAvailable -= seats
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ReleaseSeats(ctx context.Context, rideID string, seats int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseSeatsLocked(rideID, seats)
}

func (m *MemoryStore) releaseSeatsLocked(rideID string, seats int) error {
	r, ok := m.rides[rideID]
	if !ok {
		return domain.NotFoundError{Resource: "ride", ID: rideID}
	}
	r.SeatsAvailable += seats
	if r.SeatsAvailable > r.SeatsTotal {
		r.SeatsAvailable = r.SeatsTotal
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CompleteRide(ctx context.Context, rideID string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, domain.NotFoundError{Resource: "ride", ID: rideID}
	}
	if r.Status != models.RideActive {
		return nil, domain.InvalidStateError{Entity: "ride", Current: string(r.Status), Attempted: "complete"}
	}
	r.Status = models.RideCompleted
	r.UpdatedAt = at
	var ids []string
	for _, b := range m.bookings {
		if b.RideID == rideID && b.Status == models.BookingConfirmed {
			b.Status = models.BookingCompleted
			b.UpdatedAt = at
			ids = append(ids, b.ID)
		}
	}
	if u, ok := m.users[r.DriverID]; ok {
		u.RidesCompleted++
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) CancelRide(ctx context.Context, rideID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return domain.NotFoundError{Resource: "ride", ID: rideID}
	}
	for _, b := range m.bookings {
		if b.RideID == rideID && (b.Status == models.BookingPending || b.Status == models.BookingConfirmed) {
			return domain.InvalidStateError{Entity: "ride", Current: "booked", Attempted: "cancel"}
		}
	}
	if r.Status != models.RideActive {
		return domain.InvalidStateError{Entity: "ride", Current: string(r.Status), Attempted: "cancel"}
	}
	r.Status = models.RideCancelled
	r.UpdatedAt = at
	return nil
}

func (m *MemoryStore) CreateBookingWithPayment(ctx context.Context, b *models.Booking, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bc := *b
	pc := *p
	m.bookings[b.ID] = &bc
	m.payments[p.ID] = &pc
	m.byOrder[p.OrderID] = p.ID
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, domain.NotFoundError{Resource: "booking", ID: id}
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListBookingsByPassenger(ctx context.Context, passengerID string) ([]*models.Booking, error) {
	return m.filterBookings(func(b *models.Booking) bool { return b.PassengerID == passengerID })
}

func (m *MemoryStore) ListBookingsByRide(ctx context.Context, rideID string) ([]*models.Booking, error) {
	return m.filterBookings(func(b *models.Booking) bool { return b.RideID == rideID })
}

func (m *MemoryStore) filterBookings(keep func(*models.Booking) bool) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Booking
	for _, b := range m.bookings {
		if keep(b) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.NotFoundError{Resource: "payment", ID: id}
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, domain.NotFoundError{Resource: "payment", ID: orderID}
	}
	cp := *m.payments[id]
	return &cp, nil
}

func (m *MemoryStore) ApplyCapture(ctx context.Context, orderID, gatewayPaymentID, signature string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byOrder[orderID]
	if !ok {
		return false, domain.NotFoundError{Resource: "payment", ID: orderID}
	}
	p := m.payments[id]
	if p.Status == models.PaymentCaptured {
		return false, nil
	}
	if p.Status != models.PaymentCreated {
		return false, domain.InvalidStateError{Entity: "payment", Current: string(p.Status), Attempted: "capture"}
	}
	p.Status = models.PaymentCaptured
	p.GatewayPaymentID = gatewayPaymentID
	p.Signature = signature
	p.UpdatedAt = at
	if b, ok := m.bookings[p.BookingID]; ok && b.Status == models.BookingPending {
		b.Status = models.BookingConfirmed
		b.UpdatedAt = at
	}
	return true, nil
}

func (m *MemoryStore) CancelBooking(ctx context.Context, bookingID, actorID, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return domain.NotFoundError{Resource: "booking", ID: bookingID}
	}
	if b.Status != models.BookingPending && b.Status != models.BookingConfirmed {
		return domain.InvalidStateError{Entity: "booking", Current: string(b.Status), Attempted: "cancel"}
	}
	b.Status = models.BookingCancelled
	b.Escrow = models.EscrowRefunded
	b.CancelReason = reason
	b.CancelledBy = actorID
	t := at
	b.CancelledAt = &t
	b.UpdatedAt = at
	if p, ok := m.payments[b.PaymentID]; ok {
		if p.Status == models.PaymentCreated || p.Status == models.PaymentCaptured {
			p.Status = models.PaymentRefunded
			p.Escrow = models.EscrowRefunded
			p.UpdatedAt = at
		}
	}
	return m.releaseSeatsLocked(b.RideID, b.Seats)
}

func (m *MemoryStore) DuePayments(ctx context.Context, now time.Time, limit int) ([]*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Payment
	for _, p := range m.payments {
		if p.Escrow == models.EscrowHeld && p.Status == models.PaymentCaptured && !p.EscrowReleaseAt.After(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EscrowReleaseAt.Before(out[j].EscrowReleaseAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ReleasePayment(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return false, domain.NotFoundError{Resource: "payment", ID: paymentID}
	}
	if p.Escrow != models.EscrowHeld || p.Status != models.PaymentCaptured {
		return false, nil
	}
	b, ok := m.bookings[p.BookingID]
	if !ok || (b.Status != models.BookingConfirmed && b.Status != models.BookingCompleted) {
		return false, nil
	}
	p.Escrow = models.EscrowReleased
	t := at
	p.ReleasedAt = &t
	p.UpdatedAt = at
	b.Escrow = models.EscrowReleased
	b.UpdatedAt = at
	if u, ok := m.users[p.DriverID]; ok {
		u.WalletBalance += p.Amount
	}
	return true, nil
}

func (m *MemoryStore) StaleOrders(ctx context.Context, cutoff time.Time, limit int) ([]*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Payment
	for _, p := range m.payments {
		if p.Status == models.PaymentCreated && !p.CreatedAt.After(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ExpireOrder(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return false, domain.NotFoundError{Resource: "payment", ID: paymentID}
	}
	if p.Status != models.PaymentCreated {
		return false, nil
	}
	p.Status = models.PaymentFailed
	p.Escrow = models.EscrowRefunded
	p.UpdatedAt = at
	b, ok := m.bookings[p.BookingID]
	if !ok || b.Status != models.BookingPending {
		return true, nil
	}
	b.Status = models.BookingCancelled
	b.Escrow = models.EscrowRefunded
	b.CancelReason = "payment not completed in time"
	b.CancelledBy = "system"
	t := at
	b.CancelledAt = &t
	b.UpdatedAt = at
	return true, m.releaseSeatsLocked(b.RideID, b.Seats)
}

func (m *MemoryStore) CreateRating(ctx context.Context, rt *models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.Join([]string{rt.BookingID, rt.RaterID, rt.RatedID}, "|")
	if m.rateKeys[key] {
		return domain.DuplicateOperationError{Op: "rating for booking " + rt.BookingID}
	}
	m.rateKeys[key] = true
	cp := *rt
	m.ratings[rt.ID] = &cp
	return nil
}

func (m *MemoryStore) ListRatingsForUser(ctx context.Context, userID string, limit int) ([]*models.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Rating
	for _, rt := range m.ratings {
		if rt.RatedID == userID {
			cp := *rt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) RecomputeUserRating(ctx context.Context, userID string) (float64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, 0, domain.NotFoundError{Resource: "user", ID: userID}
	}
	var sum, count int
	for _, rt := range m.ratings {
		if rt.RatedID == userID {
			sum += rt.Score
			count++
		}
	}
	avg := 0.0
	if count > 0 {
		avg = float64(sum) / float64(count)
	}
	u.Rating = avg
	u.TotalRatings = count
	return avg, count, nil
}

func (m *MemoryStore) RecomputeRideRating(ctx context.Context, rideID string) (float64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return 0, 0, domain.NotFoundError{Resource: "ride", ID: rideID}
	}
	var sum, count int
	for _, rt := range m.ratings {
		if rt.RideID == rideID && rt.Direction == models.RateDriver {
			sum += rt.Score
			count++
		}
	}
	avg := 0.0
	if count > 0 {
		avg = float64(sum) / float64(count)
	}
	r.Rating = avg
	r.TotalRatings = count
	return avg, count, nil
}

func (m *MemoryStore) MarkBookingRated(ctx context.Context, bookingID string, dir models.RatingDirection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return domain.NotFoundError{Resource: "booking", ID: bookingID}
	}
	if dir == models.RateDriver {
		if b.RatedByPassenger {
			return domain.DuplicateOperationError{Op: "rating flag for booking " + bookingID}
		}
		b.RatedByPassenger = true
	} else {
		if b.RatedByDriver {
			return domain.DuplicateOperationError{Op: "rating flag for booking " + bookingID}
		}
		b.RatedByDriver = true
	}
	b.UpdatedAt = time.Now().UTC()
	return nil
}
