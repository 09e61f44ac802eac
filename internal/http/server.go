// Package httpapi exposes the booking engine over REST plus a websocket
// channel for booking notifications. Authentication is delegated to the
// edge: callers are identified by the X-User-ID header a gateway sets.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ridepool/internal/booking"
	"github.com/example/ridepool/internal/notify"
)

type Server struct {
	Booking *booking.Service
	WSReg   *notify.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(svc *booking.Service, wsreg *notify.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{Booking: svc, WSReg: wsreg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	// rides; "/rides/mine" must register before the {id} route
	api.HandleFunc("/rides", s.handleListRides).Methods("GET")
	api.HandleFunc("/rides", s.withUser(s.handlePostRide)).Methods("POST")
	api.HandleFunc("/rides/mine", s.withUser(s.handleDriverRides)).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/cancel", s.withUser(s.handleCancelRide)).Methods("POST")
	api.HandleFunc("/rides/{id}/complete", s.withUser(s.handleCompleteRide)).Methods("POST")

	// bookings
	api.HandleFunc("/bookings/order", s.withUser(s.handleCreateOrder)).Methods("POST")
	api.HandleFunc("/bookings", s.withUser(s.handleMyBookings)).Methods("GET")
	api.HandleFunc("/bookings/{id}", s.withUser(s.handleBookingDetail)).Methods("GET")
	api.HandleFunc("/bookings/{id}/cancel", s.withUser(s.handleCancelBooking)).Methods("POST")
	api.HandleFunc("/bookings/{id}/can-rate", s.withUser(s.handleCanRate)).Methods("GET")

	// payments
	api.HandleFunc("/payments/verify", s.withUser(s.handleVerifyPayment)).Methods("POST")
	api.HandleFunc("/payments/webhook", s.handleWebhook).Methods("POST")
	api.HandleFunc("/payments/{id}", s.withUser(s.handlePaymentDetail)).Methods("GET")

	// ratings
	api.HandleFunc("/ratings", s.withUser(s.handleSubmitRating)).Methods("POST")
	api.HandleFunc("/users/{id}/ratings", s.handleUserRatings).Methods("GET")

	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
