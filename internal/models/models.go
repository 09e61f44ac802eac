package models

import "time"

type RideStatus string

const (
	RideActive    RideStatus = "active"
	RideCompleted RideStatus = "completed"
	RideCancelled RideStatus = "cancelled"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentCreated  PaymentStatus = "created"
	PaymentCaptured PaymentStatus = "captured"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// RatingDirection identifies who is being rated for a booking.
type RatingDirection string

const (
	RateDriver    RatingDirection = "driver"
	RatePassenger RatingDirection = "passenger"
)

type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	Rating         float64   `json:"rating"`
	TotalRatings   int       `json:"total_ratings"`
	WalletBalance  int64     `json:"wallet_balance"` // minor units
	RidesCompleted int       `json:"rides_completed"`
	CreatedAt      time.Time `json:"created_at"`
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Ride is a driver's offered trip. SeatsAvailable only ever changes through
// the store's ReserveSeats/ReleaseSeats conditional updates.
type Ride struct {
	ID             string     `json:"id"`
	DriverID       string     `json:"driver_id"`
	Origin         string     `json:"origin"`         // normalized lower case
	Destination    string     `json:"destination"`    // normalized lower case
	FromCoord      Coord      `json:"from_coord"`
	ToCoord        Coord      `json:"to_coord"`
	Date           string     `json:"date"`           // YYYY-MM-DD
	Time           string     `json:"time"`           // HH:MM
	PricePerSeat   int64      `json:"price_per_seat"` // minor units
	SeatsTotal     int        `json:"seats_total"`
	SeatsAvailable int        `json:"seats_available"`
	Status         RideStatus `json:"status"`
	Vehicle        string     `json:"vehicle,omitempty"`
	Rating         float64    `json:"rating"`
	TotalRatings   int        `json:"total_ratings"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Booking is one passenger's claim on seats of one ride. Bookings are never
// deleted; cancelled ones stay behind as audit records.
type Booking struct {
	ID               string        `json:"id"`
	RideID           string        `json:"ride_id"`
	PassengerID      string        `json:"passenger_id"`
	DriverID         string        `json:"driver_id"`
	PassengerName    string        `json:"passenger_name,omitempty"`
	PassengerPhone   string        `json:"passenger_phone,omitempty"`
	PassengerEmail   string        `json:"passenger_email,omitempty"`
	Seats            int           `json:"seats"`
	TotalAmount      int64         `json:"total_amount"` // price * seats, set once
	PaymentID        string        `json:"payment_id"`
	Status           BookingStatus `json:"status"`
	Escrow           EscrowStatus  `json:"escrow_status"`
	RatedByPassenger bool          `json:"rated_by_passenger"`
	RatedByDriver    bool          `json:"rated_by_driver"`
	CancelReason     string        `json:"cancel_reason,omitempty"`
	CancelledBy      string        `json:"cancelled_by,omitempty"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Payment is one escrowed money movement, 1:1 with a booking.
// Invariant: Escrow == released implies Status == captured and ReleasedAt set.
type Payment struct {
	ID               string        `json:"id"`
	BookingID        string        `json:"booking_id"`
	RideID           string        `json:"ride_id"`
	PassengerID      string        `json:"passenger_id"`
	DriverID         string        `json:"driver_id"`
	Amount           int64         `json:"amount"` // minor units
	Currency         string        `json:"currency"`
	OrderID          string        `json:"order_id"`
	GatewayPaymentID string        `json:"gateway_payment_id,omitempty"`
	Signature        string        `json:"-"`
	Status           PaymentStatus `json:"status"`
	Escrow           EscrowStatus  `json:"escrow_status"`
	EscrowReleaseAt  time.Time     `json:"escrow_release_at"`
	ReleasedAt       *time.Time    `json:"released_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Rating is feedback tied to a completed booking, unique per
// (booking, rater, rated) pairing.
type Rating struct {
	ID        string          `json:"id"`
	RideID    string          `json:"ride_id"`
	BookingID string          `json:"booking_id"`
	RaterID   string          `json:"rater_id"`
	RatedID   string          `json:"rated_id"`
	Direction RatingDirection `json:"direction"`
	Score     int             `json:"score"` // 1..5
	Review    string          `json:"review,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
