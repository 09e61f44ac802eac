package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/ridepool/internal/domain"
	"github.com/example/ridepool/internal/models"
)

// PostgresStore implements Store on database/sql with lib/pq. All guarded
// transitions are single conditional UPDATEs (or short row-locked
// transactions) so concurrent callers serialize at the database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle; used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users(id, name, email, phone, rating, total_ratings, wallet_balance, rides_completed, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.Name, u.Email, u.Phone, u.Rating, u.TotalRatings, u.WalletBalance, u.RidesCompleted, u.CreatedAt)
	return err
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, email, phone, rating, total_ratings, wallet_balance, rides_completed, created_at
		 FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Rating, &u.TotalRatings, &u.WalletBalance, &u.RidesCompleted, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "user", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const rideColumns = `id, driver_id, origin, destination, from_lat, from_lon, to_lat, to_lon,
	date, time, price_per_seat, seats_total, seats_available, status, vehicle,
	rating, total_ratings, created_at, updated_at`

func scanRide(row interface{ Scan(...any) error }) (*models.Ride, error) {
	var r models.Ride
	err := row.Scan(&r.ID, &r.DriverID, &r.Origin, &r.Destination,
		&r.FromCoord.Lat, &r.FromCoord.Lon, &r.ToCoord.Lat, &r.ToCoord.Lon,
		&r.Date, &r.Time, &r.PricePerSeat, &r.SeatsTotal, &r.SeatsAvailable,
		&r.Status, &r.Vehicle, &r.Rating, &r.TotalRatings, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rides(`+rideColumns+`)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		r.ID, r.DriverID, r.Origin, r.Destination,
		r.FromCoord.Lat, r.FromCoord.Lon, r.ToCoord.Lat, r.ToCoord.Lon,
		r.Date, r.Time, r.PricePerSeat, r.SeatsTotal, r.SeatsAvailable,
		r.Status, r.Vehicle, r.Rating, r.TotalRatings, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "ride", ID: id}
	}
	return r, err
}

var sortColumns = map[string]string{
	"created_at":     "created_at",
	"price_per_seat": "price_per_seat",
	"date":           "date",
}

func (p *PostgresStore) ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE status='active' AND seats_available > 0`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Origin != "" {
		query += ` AND origin = ` + arg(f.Origin)
	}
	if f.Destination != "" {
		query += ` AND destination = ` + arg(f.Destination)
	}
	if f.Date != "" {
		query += ` AND date = ` + arg(f.Date)
	}
	if f.MinSeats > 0 {
		query += ` AND seats_available >= ` + arg(f.MinSeats)
	}
	if f.MaxPrice > 0 {
		query += ` AND price_per_seat <= ` + arg(f.MaxPrice)
	}
	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if f.SortOrder == "asc" {
		dir = "ASC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY %s %s LIMIT %d`, col, dir, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListRidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE driver_id=$1 ORDER BY created_at DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ReserveSeats(ctx context.Context, rideID string, seats int) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET seats_available = seats_available - $2, updated_at = $3
		 WHERE id = $1 AND status = 'active' AND seats_available >= $2`,
		rideID, seats, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	// Lost the conditional write. Distinguish a missing ride from a full one.
	ride, err := p.GetRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.Status != models.RideActive {
		return domain.InvalidStateError{Entity: "ride", Current: string(ride.Status), Attempted: "reserve seats"}
	}
	return domain.InsufficientSeatsError{RideID: rideID, Requested: seats, Available: ride.SeatsAvailable}
}

func (p *PostgresStore) ReleaseSeats(ctx context.Context, rideID string, seats int) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET seats_available = LEAST(seats_available + $2, seats_total), updated_at = $3
		 WHERE id = $1`,
		rideID, seats, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundError{Resource: "ride", ID: rideID}
	}
	return nil
}

func (p *PostgresStore) CompleteRide(ctx context.Context, rideID string, at time.Time) ([]string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var driverID string
	err = tx.QueryRowContext(ctx,
		`UPDATE rides SET status='completed', updated_at=$2
		 WHERE id=$1 AND status='active' RETURNING driver_id`,
		rideID, at).Scan(&driverID)
	if errors.Is(err, sql.ErrNoRows) {
		ride, gerr := p.GetRide(ctx, rideID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, domain.InvalidStateError{Entity: "ride", Current: string(ride.Status), Attempted: "complete"}
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`UPDATE bookings SET status='completed', updated_at=$2
		 WHERE ride_id=$1 AND status='confirmed' RETURNING id`,
		rideID, at)
	if err != nil {
		return nil, err
	}
	var bookingIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		bookingIDs = append(bookingIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET rides_completed = rides_completed + 1 WHERE id=$1`, driverID); err != nil {
		return nil, err
	}
	return bookingIDs, tx.Commit()
}

func (p *PostgresStore) CancelRide(ctx context.Context, rideID string, at time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE ride_id=$1 AND status IN ('pending','confirmed')`,
		rideID).Scan(&active); err != nil {
		return err
	}
	if active > 0 {
		return domain.InvalidStateError{Entity: "ride", Current: "booked", Attempted: "cancel"}
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE rides SET status='cancelled', updated_at=$2 WHERE id=$1 AND status='active'`,
		rideID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ride, gerr := p.GetRide(ctx, rideID)
		if gerr != nil {
			return gerr
		}
		return domain.InvalidStateError{Entity: "ride", Current: string(ride.Status), Attempted: "cancel"}
	}
	return tx.Commit()
}

const bookingColumns = `id, ride_id, passenger_id, driver_id, passenger_name, passenger_phone,
	passenger_email, seats, total_amount, payment_id, status, escrow_status,
	rated_by_passenger, rated_by_driver, cancel_reason, cancelled_by, cancelled_at,
	created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*models.Booking, error) {
	var b models.Booking
	var cancelledAt sql.NullTime
	err := row.Scan(&b.ID, &b.RideID, &b.PassengerID, &b.DriverID, &b.PassengerName,
		&b.PassengerPhone, &b.PassengerEmail, &b.Seats, &b.TotalAmount, &b.PaymentID,
		&b.Status, &b.Escrow, &b.RatedByPassenger, &b.RatedByDriver,
		&b.CancelReason, &b.CancelledBy, &cancelledAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	return &b, nil
}

func (p *PostgresStore) CreateBookingWithPayment(ctx context.Context, b *models.Booking, pay *models.Payment) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bookings(`+bookingColumns+`)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		b.ID, b.RideID, b.PassengerID, b.DriverID, b.PassengerName, b.PassengerPhone,
		b.PassengerEmail, b.Seats, b.TotalAmount, b.PaymentID, b.Status, b.Escrow,
		b.RatedByPassenger, b.RatedByDriver, b.CancelReason, b.CancelledBy, b.CancelledAt,
		b.CreatedAt, b.UpdatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO payments(`+paymentColumns+`)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		pay.ID, pay.BookingID, pay.RideID, pay.PassengerID, pay.DriverID,
		pay.Amount, pay.Currency, pay.OrderID, pay.GatewayPaymentID, pay.Signature,
		pay.Status, pay.Escrow, pay.EscrowReleaseAt, pay.ReleasedAt,
		pay.CreatedAt, pay.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "booking", ID: id}
	}
	return b, err
}

func (p *PostgresStore) ListBookingsByPassenger(ctx context.Context, passengerID string) ([]*models.Booking, error) {
	return p.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE passenger_id=$1 ORDER BY created_at DESC`, passengerID)
}

func (p *PostgresStore) ListBookingsByRide(ctx context.Context, rideID string) ([]*models.Booking, error) {
	return p.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE ride_id=$1 ORDER BY created_at DESC`, rideID)
}

func (p *PostgresStore) listBookings(ctx context.Context, query string, args ...any) ([]*models.Booking, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const paymentColumns = `id, booking_id, ride_id, passenger_id, driver_id, amount, currency,
	order_id, gateway_payment_id, signature, status, escrow_status,
	escrow_release_at, released_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*models.Payment, error) {
	var pay models.Payment
	var releasedAt sql.NullTime
	err := row.Scan(&pay.ID, &pay.BookingID, &pay.RideID, &pay.PassengerID, &pay.DriverID,
		&pay.Amount, &pay.Currency, &pay.OrderID, &pay.GatewayPaymentID, &pay.Signature,
		&pay.Status, &pay.Escrow, &pay.EscrowReleaseAt, &releasedAt,
		&pay.CreatedAt, &pay.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		pay.ReleasedAt = &t
	}
	return &pay, nil
}

func (p *PostgresStore) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	pay, err := scanPayment(p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "payment", ID: id}
	}
	return pay, err
}

func (p *PostgresStore) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	pay, err := scanPayment(p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{Resource: "payment", ID: orderID}
	}
	return pay, err
}

func (p *PostgresStore) ApplyCapture(ctx context.Context, orderID, gatewayPaymentID, signature string, at time.Time) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var bookingID string
	err = tx.QueryRowContext(ctx,
		`UPDATE payments SET status='captured', gateway_payment_id=$2, signature=$3, updated_at=$4
		 WHERE order_id=$1 AND status='created' RETURNING booking_id`,
		orderID, gatewayPaymentID, signature, at).Scan(&bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		// Guard missed: already captured (replay) or no longer capturable.
		pay, gerr := p.GetPaymentByOrderID(ctx, orderID)
		if gerr != nil {
			return false, gerr
		}
		if pay.Status == models.PaymentCaptured {
			return false, nil
		}
		return false, domain.InvalidStateError{Entity: "payment", Current: string(pay.Status), Attempted: "capture"}
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status='confirmed', updated_at=$2
		 WHERE id=$1 AND status='pending'`, bookingID, at); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (p *PostgresStore) CancelBooking(ctx context.Context, bookingID, actorID, reason string, at time.Time) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var rideID, paymentID string
	var seats int
	err = tx.QueryRowContext(ctx,
		`UPDATE bookings
		 SET status='cancelled', escrow_status='refunded', cancel_reason=$2,
		     cancelled_by=$3, cancelled_at=$4, updated_at=$4
		 WHERE id=$1 AND status IN ('pending','confirmed')
		 RETURNING ride_id, payment_id, seats`,
		bookingID, reason, actorID, at).Scan(&rideID, &paymentID, &seats)
	if errors.Is(err, sql.ErrNoRows) {
		b, gerr := p.GetBooking(ctx, bookingID)
		if gerr != nil {
			return gerr
		}
		return domain.InvalidStateError{Entity: "booking", Current: string(b.Status), Attempted: "cancel"}
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE payments SET status='refunded', escrow_status='refunded', updated_at=$2
		 WHERE id=$1 AND status IN ('created','captured')`, paymentID, at); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE rides SET seats_available = LEAST(seats_available + $2, seats_total), updated_at=$3
		 WHERE id=$1`, rideID, seats, at); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) DuePayments(ctx context.Context, now time.Time, limit int) ([]*models.Payment, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE escrow_status='held' AND status='captured' AND escrow_release_at <= $1
		 ORDER BY escrow_release_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (p *PostgresStore) ReleasePayment(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// The booking re-check is part of the same conditional write: a booking
	// cancelled after capture must never be paid out.
	var bookingID, driverID string
	var amount int64
	err = tx.QueryRowContext(ctx,
		`UPDATE payments pay SET escrow_status='released', released_at=$2, updated_at=$2
		 WHERE pay.id=$1 AND pay.escrow_status='held' AND pay.status='captured'
		   AND EXISTS (
		     SELECT 1 FROM bookings b
		     WHERE b.id = pay.booking_id AND b.status IN ('confirmed','completed')
		   )
		 RETURNING pay.booking_id, pay.driver_id, pay.amount`,
		paymentID, at).Scan(&bookingID, &driverID, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET escrow_status='released', updated_at=$2 WHERE id=$1`, bookingID, at); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET wallet_balance = wallet_balance + $2 WHERE id=$1`, driverID, amount); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (p *PostgresStore) StaleOrders(ctx context.Context, cutoff time.Time, limit int) ([]*models.Payment, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status='created' AND created_at <= $1
		 ORDER BY created_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (p *PostgresStore) ExpireOrder(ctx context.Context, paymentID string, at time.Time) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var bookingID string
	err = tx.QueryRowContext(ctx,
		`UPDATE payments SET status='failed', escrow_status='refunded', updated_at=$2
		 WHERE id=$1 AND status='created' RETURNING booking_id`,
		paymentID, at).Scan(&bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var rideID string
	var seats int
	err = tx.QueryRowContext(ctx,
		`UPDATE bookings
		 SET status='cancelled', escrow_status='refunded', cancel_reason='payment not completed in time',
		     cancelled_by='system', cancelled_at=$2, updated_at=$2
		 WHERE id=$1 AND status='pending' RETURNING ride_id, seats`,
		bookingID, at).Scan(&rideID, &seats)
	if errors.Is(err, sql.ErrNoRows) {
		// Booking advanced or was cancelled concurrently; the payment is
		// already failed, nothing further to unwind.
		return true, tx.Commit()
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE rides SET seats_available = LEAST(seats_available + $2, seats_total), updated_at=$3
		 WHERE id=$1`, rideID, seats, at); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func collectPayments(rows *sql.Rows) ([]*models.Payment, error) {
	var out []*models.Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pay)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateRating(ctx context.Context, rt *models.Rating) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ratings(id, ride_id, booking_id, rater_id, rated_id, direction, score, review, tags, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rt.ID, rt.RideID, rt.BookingID, rt.RaterID, rt.RatedID, rt.Direction,
		rt.Score, rt.Review, pq.Array(rt.Tags), rt.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return domain.DuplicateOperationError{Op: "rating for booking " + rt.BookingID}
	}
	return err
}

func (p *PostgresStore) ListRatingsForUser(ctx context.Context, userID string, limit int) ([]*models.Rating, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, ride_id, booking_id, rater_id, rated_id, direction, score, review, tags, created_at
		 FROM ratings WHERE rated_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Rating
	for rows.Next() {
		var rt models.Rating
		if err := rows.Scan(&rt.ID, &rt.RideID, &rt.BookingID, &rt.RaterID, &rt.RatedID,
			&rt.Direction, &rt.Score, &rt.Review, pq.Array(&rt.Tags), &rt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rt)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RecomputeUserRating(ctx context.Context, userID string) (float64, int, error) {
	var avg float64
	var count int
	err := p.db.QueryRowContext(ctx,
		`UPDATE users u SET rating = s.avg, total_ratings = s.cnt
		 FROM (SELECT COALESCE(AVG(score),0) AS avg, COUNT(*) AS cnt FROM ratings WHERE rated_id=$1) s
		 WHERE u.id=$1 RETURNING s.avg, s.cnt`, userID).Scan(&avg, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, domain.NotFoundError{Resource: "user", ID: userID}
	}
	return avg, count, err
}

func (p *PostgresStore) RecomputeRideRating(ctx context.Context, rideID string) (float64, int, error) {
	var avg float64
	var count int
	err := p.db.QueryRowContext(ctx,
		`UPDATE rides r SET rating = s.avg, total_ratings = s.cnt
		 FROM (SELECT COALESCE(AVG(score),0) AS avg, COUNT(*) AS cnt
		       FROM ratings WHERE ride_id=$1 AND direction='driver') s
		 WHERE r.id=$1 RETURNING s.avg, s.cnt`, rideID).Scan(&avg, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, domain.NotFoundError{Resource: "ride", ID: rideID}
	}
	return avg, count, err
}

func (p *PostgresStore) MarkBookingRated(ctx context.Context, bookingID string, dir models.RatingDirection) error {
	column := "rated_by_driver"
	if dir == models.RateDriver {
		// passenger rated the driver
		column = "rated_by_passenger"
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET `+column+`=TRUE, updated_at=$2 WHERE id=$1 AND `+column+`=FALSE`,
		bookingID, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.DuplicateOperationError{Op: "rating flag for booking " + bookingID}
	}
	return nil
}
