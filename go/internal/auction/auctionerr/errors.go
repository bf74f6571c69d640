// Package auctionerr defines the error taxonomy shared by the auction engine.
package auctionerr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or out-of-range input, rejected before any transaction.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when an auction or room does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a role or ownership check fails.
	ErrForbidden = errors.New("forbidden")
	// ErrInsufficientBalance is a business rule failure inside the bid transaction.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidAuctionState covers bids on non-active auctions and invalid stops.
	ErrInvalidAuctionState = errors.New("invalid auction state")
	// ErrSystem wraps unexpected storage or transaction failures.
	ErrSystem = errors.New("system error")
)

// Error is a business error carrying the message shown to clients.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// New returns a business error of the given kind with a client-facing message.
func New(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// ErrCannotStopWithBids is returned when a seller tries to stop an auction that already has bids.
var ErrCannotStopWithBids error = &Error{
	Kind: ErrInvalidAuctionState,
	Msg:  "Cannot manually stop an auction with bids. It will end when the countdown expires.",
}

// ErrBidTooLow marks bids below current price plus the minimum increment.
var ErrBidTooLow = fmt.Errorf("%w: bid amount too low", ErrValidation)

// System wraps an unexpected failure so it is reported as a system error.
func System(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsBusiness(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrSystem, err)
}

// IsBusiness reports whether err belongs to one of the expected, client-visible kinds.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAuctionState)
}

// Kind returns the taxonomy name for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrInsufficientBalance):
		return "InsufficientBalance"
	case errors.Is(err, ErrCannotStopWithBids):
		return "CannotStopWithBids"
	case errors.Is(err, ErrInvalidAuctionState):
		return "InvalidAuctionState"
	default:
		return "SystemError"
	}
}

// Message returns a client-safe description of err. System errors are
// replaced by fallback so storage details never reach a client.
func Message(err error, fallback string) string {
	if err == nil || !IsBusiness(err) {
		return fallback
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Msg
	}
	return err.Error()
}
