// Package services defines the business logic for identities, negotiations,
// orders, and their message ledgers. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
	"github.com/tbourn/dealer-negotiation-backend/internal/resilience"
)

// Thread-related errors.
var (
	// ErrNegotiationNotFound indicates that the requested negotiation does not exist.
	ErrNegotiationNotFound = errors.New("negotiation not found")

	// ErrOrderNotFound indicates that the requested order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrAccessDenied is returned when the actor's claimed name does not match
	// the thread's owner, or when a customer attempts a staff-only operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrChatLocked is returned when appending to the chat of a completed order.
	ErrChatLocked = errors.New("chat is locked")
)

// Validation errors.
var (
	// ErrEmptyContent is returned when a message is empty after trimming.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrTooLong is returned when a message exceeds the configured rune limit.
	ErrTooLong = errors.New("message content too long")

	// ErrInvalidStatus is returned for a status outside the known set.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTransition is returned when an order cannot move to the
	// requested status from its current one.
	ErrInvalidTransition = errors.New("status transition not allowed")

	// ErrInvalidIdentity is returned when an identity cannot be resolved
	// from the given contact data (e.g. empty name).
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidNegotiation is returned when create input is incomplete.
	ErrInvalidNegotiation = errors.New("invalid negotiation")

	// ErrInvalidOrder is returned when checkout input is incomplete.
	ErrInvalidOrder = errors.New("invalid order")
)

// ErrUnavailable wraps persistence failures that survived every retry.
// Writes surface it as 503; reads degrade instead.
var ErrUnavailable = errors.New("persistence temporarily unavailable")

// persistErr translates an executor error into a service error. notFound is
// returned for missing rows; transient failures are wrapped in ErrUnavailable;
// anything else is returned as is.
func persistErr(err, notFound error) error {
	switch {
	case err == nil:
		return nil
	case notFound != nil && repo.IsNotFound(err):
		return notFound
	case resilience.IsTransient(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// invalid decorates a validation sentinel with a human readable detail.
func invalid(sentinel error, detail string) error {
	return fmt.Errorf("%w: %s", sentinel, detail)
}
