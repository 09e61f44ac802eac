// Package domain declares the typed errors shared by the booking engine.
// HTTP and scheduler code branch on these with the errors.As helpers rather
// than matching message strings.
package domain

import (
	"errors"
	"fmt"
)

type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// ForbiddenError means the actor lacks the required relationship to the
// resource (not the booking's passenger, not the ride's driver, ...).
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	if e.Action == "" {
		return "forbidden"
	}
	return "forbidden: " + e.Action
}

// InvalidStateError reports a transition that is illegal from the entity's
// current state, e.g. cancelling a completed booking.
type InvalidStateError struct {
	Entity    string
	Current   string
	Attempted string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s is %s, cannot %s", e.Entity, e.Current, e.Attempted)
}

type InsufficientSeatsError struct {
	RideID    string
	Requested int
	Available int
}

func (e InsufficientSeatsError) Error() string {
	return fmt.Sprintf("ride %s has %d seat(s) available, %d requested", e.RideID, e.Available, e.Requested)
}

// SignatureMismatchError is returned when a payment confirmation fails the
// HMAC check. The message never includes the signature or the secret.
type SignatureMismatchError struct {
	Channel string // "checkout" or "webhook"
}

func (e SignatureMismatchError) Error() string {
	return "invalid payment signature on " + e.Channel + " channel"
}

// DuplicateOperationError marks an idempotent replay that carries no new
// side effect, e.g. rating the same booking pairing twice.
type DuplicateOperationError struct {
	Op string
}

func (e DuplicateOperationError) Error() string {
	return "duplicate operation: " + e.Op
}

// UpstreamError wraps a failed call to the payment gateway. The caller may
// retry; the engine never retries it internally.
type UpstreamError struct {
	Op  string
	Err error
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e UpstreamError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func IsNotFound(err error) bool {
	var t NotFoundError
	return errors.As(err, &t)
}

func IsForbidden(err error) bool {
	var t ForbiddenError
	return errors.As(err, &t)
}

func IsInvalidState(err error) bool {
	var t InvalidStateError
	return errors.As(err, &t)
}

func IsInsufficientSeats(err error) bool {
	var t InsufficientSeatsError
	return errors.As(err, &t)
}

func IsSignatureMismatch(err error) bool {
	var t SignatureMismatchError
	return errors.As(err, &t)
}

func IsDuplicate(err error) bool {
	var t DuplicateOperationError
	return errors.As(err, &t)
}

func IsUpstream(err error) bool {
	var t UpstreamError
	return errors.As(err, &t)
}

func IsValidation(err error) bool {
	var t ValidationError
	return errors.As(err, &t)
}
