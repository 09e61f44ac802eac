package booking

import (
	"context"

	"github.com/google/uuid"

	"github.com/example/ridepool/internal/domain"
	"github.com/example/ridepool/internal/models"
)

// Eligibility is the answer to "may this user rate this booking right now".
// Ineligibility is a normal answer, not an error.
type Eligibility struct {
	Eligible     bool                   `json:"eligible"`
	Reason       string                 `json:"reason,omitempty"`
	Direction    models.RatingDirection `json:"direction,omitempty"`
	RatedPartyID string                 `json:"rated_party_id,omitempty"`
}

// rateContext resolves who the actor is on the booking and whether the gate
// is open. The typed error doubles as the SubmitRating failure.
func (s *Service) rateContext(ctx context.Context, actorID, bookingID string) (*models.Booking, models.RatingDirection, string, error) {
	b, err := s.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, "", "", err
	}

	var dir models.RatingDirection
	var ratedID string
	var alreadyRated bool
	switch actorID {
	case b.PassengerID:
		dir, ratedID, alreadyRated = models.RateDriver, b.DriverID, b.RatedByPassenger
	case b.DriverID:
		dir, ratedID, alreadyRated = models.RatePassenger, b.PassengerID, b.RatedByDriver
	default:
		return nil, "", "", domain.ForbiddenError{Action: "rate booking"}
	}

	if b.Status != models.BookingCompleted {
		return nil, "", "", domain.InvalidStateError{Entity: "booking", Current: string(b.Status), Attempted: "rate"}
	}
	if alreadyRated {
		return nil, "", "", domain.DuplicateOperationError{Op: "rate booking"}
	}
	return b, dir, ratedID, nil
}

// CanRate reports rating eligibility without side effects.
func (s *Service) CanRate(ctx context.Context, actorID, bookingID string) (*Eligibility, error) {
	_, dir, ratedID, err := s.rateContext(ctx, actorID, bookingID)
	switch {
	case err == nil:
		return &Eligibility{Eligible: true, Direction: dir, RatedPartyID: ratedID}, nil
	case domain.IsForbidden(err):
		return &Eligibility{Reason: "not a participant of this booking"}, nil
	case domain.IsInvalidState(err):
		return &Eligibility{Reason: "ride not completed yet"}, nil
	case domain.IsDuplicate(err):
		return &Eligibility{Reason: "already rated"}, nil
	default:
		return nil, err
	}
}

type SubmitRatingInput struct {
	BookingID   string   `json:"booking_id"`
	RatedUserID string   `json:"rated_user_id"`
	Score       int      `json:"score"`
	Review      string   `json:"review"`
	Tags        []string `json:"tags"`
}

type RatingResult struct {
	RatingID     string  `json:"rating_id"`
	NewAverage   float64 `json:"new_average"`
	TotalRatings int     `json:"total_ratings"`
}

// SubmitRating records one rating through the eligibility gate and refreshes
// the rated party's running average. When the passenger rates the driver the
// ride's own average is refreshed too.
func (s *Service) SubmitRating(ctx context.Context, actorID string, in SubmitRatingInput) (*RatingResult, error) {
	if in.Score < 1 || in.Score > 5 {
		return nil, domain.ValidationError{Field: "score", Msg: "must be between 1 and 5"}
	}
	b, dir, ratedID, err := s.rateContext(ctx, actorID, in.BookingID)
	if err != nil {
		return nil, err
	}
	if in.RatedUserID != "" && in.RatedUserID != ratedID {
		return nil, domain.ValidationError{Field: "rated_user_id", Msg: "not the counterparty of this booking"}
	}

	rt := &models.Rating{
		ID:        uuid.NewString(),
		RideID:    b.RideID,
		BookingID: b.ID,
		RaterID:   actorID,
		RatedID:   ratedID,
		Direction: dir,
		Score:     in.Score,
		Review:    in.Review,
		Tags:      in.Tags,
		CreatedAt: s.now(),
	}
	if err := s.Store.CreateRating(ctx, rt); err != nil {
		return nil, err
	}
	if err := s.Store.MarkBookingRated(ctx, b.ID, dir); err != nil && !domain.IsDuplicate(err) {
		return nil, err
	}

	avg, total, err := s.Store.RecomputeUserRating(ctx, ratedID)
	if err != nil {
		return nil, err
	}
	if dir == models.RateDriver {
		if _, _, err := s.Store.RecomputeRideRating(ctx, b.RideID); err != nil && s.Logger != nil {
			s.Logger.Warn("ride rating recompute failed", "ride_id", b.RideID, "error", err)
		}
	}
	return &RatingResult{RatingID: rt.ID, NewAverage: avg, TotalRatings: total}, nil
}

// UserRatings is the public rating profile of a user.
type UserRatings struct {
	UserID       string           `json:"user_id"`
	Average      float64          `json:"average"`
	TotalRatings int              `json:"total_ratings"`
	Ratings      []*models.Rating `json:"ratings"`
}

func (s *Service) RatingsForUser(ctx context.Context, userID string, limit int) (*UserRatings, error) {
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := s.Store.ListRatingsForUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return &UserRatings{UserID: u.ID, Average: u.Rating, TotalRatings: u.TotalRatings, Ratings: list}, nil
}
