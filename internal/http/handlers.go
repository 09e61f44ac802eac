package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ridepool/internal/booking"
	"github.com/example/ridepool/internal/domain"
	"github.com/example/ridepool/internal/storage"
)

// webhook payloads are small; anything bigger is abuse
const maxWebhookBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses. The code
// field is stable for clients; the message is not.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case domain.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case domain.IsForbidden(err):
		status, code = http.StatusForbidden, "forbidden"
	case domain.IsValidation(err):
		status, code = http.StatusBadRequest, "invalid_request"
	case domain.IsSignatureMismatch(err):
		status, code = http.StatusBadRequest, "signature_mismatch"
	case domain.IsInsufficientSeats(err):
		status, code = http.StatusConflict, "insufficient_seats"
	case domain.IsInvalidState(err):
		status, code = http.StatusConflict, "invalid_state"
	case domain.IsDuplicate(err):
		status, code = http.StatusConflict, "duplicate"
	case domain.IsUpstream(err):
		status, code = http.StatusBadGateway, "upstream_unavailable"
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "error", err)
		writeJSON(w, status, map[string]string{"code": code, "error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"code": code, "error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ValidationError{Field: "body", Msg: "malformed JSON"}
	}
	return nil
}

// --- rides ---

func (s *Server) handlePostRide(w http.ResponseWriter, r *http.Request, userID string) {
	var in booking.PostRideInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.Booking.PostRide(r.Context(), userID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func rideFilterFromQuery(r *http.Request) storage.RideFilter {
	q := r.URL.Query()
	f := storage.RideFilter{
		Origin:      q.Get("origin"),
		Destination: q.Get("destination"),
		Date:        q.Get("date"),
		SortBy:      q.Get("sort_by"),
		SortOrder:   q.Get("sort_order"),
	}
	if v, err := strconv.Atoi(q.Get("min_seats")); err == nil {
		f.MinSeats = v
	}
	if v, err := strconv.ParseInt(q.Get("max_price"), 10, 64); err == nil {
		f.MaxPrice = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = v
	}
	return f
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.Booking.ListRides(r.Context(), rideFilterFromQuery(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides, "count": len(rides)})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Booking.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDriverRides(w http.ResponseWriter, r *http.Request, userID string) {
	views, err := s.Booking.DriverRides(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": views})
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.Booking.CancelRide(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request, userID string) {
	bookingIDs, err := s.Booking.CompleteRide(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "completed_bookings": bookingIDs})
}

// --- bookings ---

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request, userID string) {
	var in booking.CreateOrderInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	conf, err := s.Booking.CreateOrder(r.Context(), userID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conf)
}

func (s *Server) handleMyBookings(w http.ResponseWriter, r *http.Request, userID string) {
	bookings, err := s.Booking.PassengerBookings(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *Server) handleBookingDetail(w http.ResponseWriter, r *http.Request, userID string) {
	b, err := s.Booking.BookingDetail(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCancelBooking(w http.ResponseWriter, r *http.Request, userID string) {
	var in struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &in); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := s.Booking.CancelBooking(r.Context(), userID, mux.Vars(r)["id"], in.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// --- payments ---

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request, userID string) {
	var in booking.VerifyInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Booking.VerifyPayment(r.Context(), userID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, r, domain.ValidationError{Field: "body", Msg: "unreadable body"})
		return
	}
	sig := r.Header.Get("X-Razorpay-Signature")
	if err := s.Booking.HandleWebhook(r.Context(), body, sig); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePaymentDetail(w http.ResponseWriter, r *http.Request, userID string) {
	p, err := s.Booking.PaymentDetail(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- ratings ---

func (s *Server) handleCanRate(w http.ResponseWriter, r *http.Request, userID string) {
	el, err := s.Booking.CanRate(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, el)
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request, userID string) {
	var in booking.SubmitRatingInput
	if err := decodeBody(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Booking.SubmitRating(r.Context(), userID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleUserRatings(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ur, err := s.Booking.RatingsForUser(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ur)
}

// --- websocket ---

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
}
