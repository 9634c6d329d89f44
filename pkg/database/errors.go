// Package database provides sentinel errors for repository operations.
// F.4 remediation: Explicit errors instead of nil, nil returns

package database

import "errors"

// Sentinel errors for projection store operations.
var (
	// ErrNotFound is returned when a requested entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrOfferNotFound is returned when an offer record is not found.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrReservationNotFound is returned when a reservation record is not found.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrCursorNotFound is returned when no sync cursor row exists yet for a
	// contract. Callers treat this the same as cursor zero.
	ErrCursorNotFound = errors.New("sync cursor not found")
)
