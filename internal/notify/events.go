// Package notify carries booking lifecycle events out of the engine.
// Delivery is fire-and-forget: the engine never blocks a money-moving
// transition on a notification.
package notify

import "time"

const (
	EventBookingCreated       = "booking.created"
	EventBookingStatusChanged = "booking.status_changed"
)

// Event describes one booking lifecycle change.
type Event struct {
	Type       string    `json:"type"`
	RideID     string    `json:"ride_id"`
	BookingID  string    `json:"booking_id"`
	ActorID    string    `json:"actor_id"`
	Status     string    `json:"status"`
	Recipients []string  `json:"recipients"`
	At         time.Time `json:"at"`
}

// Publisher is implemented by the Kafka producer, the websocket registry and
// the fanout that combines them.
type Publisher interface {
	Publish(ev Event) error
}

// Fanout publishes to every sink, best effort. A nil Fanout or an empty sink
// list is a no-op publisher.
type Fanout struct {
	Sinks []Publisher
}

func (f *Fanout) Publish(ev Event) error {
	if f == nil {
		return nil
	}
	for _, s := range f.Sinks {
		if s == nil {
			continue
		}
		_ = s.Publish(ev)
	}
	return nil
}
