package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInCycle is returned by a position query when the size is zero.
	// It drives the entry/flat transitions and is not a fault.
	ErrNotInCycle = errors.New("not in cycle")

	// ErrOrderFailed means the venue rejected a placement or cancellation.
	ErrOrderFailed = errors.New("order failed")

	// ErrReconcileFailed marks a reconciliation pass that did not complete.
	// The next pass re-reads exchange state before deciding anything.
	ErrReconcileFailed = errors.New("cancel/replace failed")

	// ErrDivisionByZero is returned by the risk math when margin exactly
	// balances the order value (or a price/quantity is zero).
	ErrDivisionByZero = errors.New("division by zero")

	// ErrInvalidPrice is returned when a computed order price is not usable.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrEmptyLadder is returned by HeadLongs on a book without long orders.
	ErrEmptyLadder = errors.New("empty ladder")

	// ErrUnknownExchange is returned by the exchange factory.
	ErrUnknownExchange = errors.New("exchange not implemented")
)

// OrderError carries the venue's reason for a rejected order operation.
type OrderError struct {
	Op      string // create | cancel | cancel_all
	OrderID string
	Reason  string
}

func (e *OrderError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("%s: %s: %s", ErrOrderFailed, e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s: %s", ErrOrderFailed, e.Op, e.OrderID, e.Reason)
}

// Unwrap lets errors.Is(err, ErrOrderFailed) match.
func (e *OrderError) Unwrap() error { return ErrOrderFailed }

// IsFatal reports whether err must abort the controller instead of being
// retried on the next poll: arithmetic and precondition violations.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDivisionByZero) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrEmptyLadder)
}
