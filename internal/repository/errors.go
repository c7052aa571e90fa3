package repository

import "errors"

// Sentinel errors for the lending domain. Handlers match them with
// errors.Is; deeper layers wrap them with context via fmt.Errorf("%w").
var (
	// ErrObjectNotFound is returned when a referenced book, user or
	// request does not exist.
	ErrObjectNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a request is not in the
	// status required by the attempted transition.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnavailable is returned when no copies are left to satisfy a
	// borrow or a checkout.
	ErrUnavailable = errors.New("no copies available")

	// ErrInvalidArgument is returned for malformed input such as
	// negative stock numbers.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict is returned when the operation would duplicate
	// existing state, e.g. borrowing a title the student already holds.
	ErrConflict = errors.New("conflict with existing state")
)
