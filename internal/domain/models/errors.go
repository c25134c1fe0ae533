package models

import "errors"

// Failure kinds surfaced to callers. Handlers map these onto HTTP statuses;
// nothing below is ever swallowed or defaulted away.
var (
	// ErrDataUnavailable means no usable input exists (no history at all, or
	// an external signal fetch failed after bounded retries).
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrStaleForecast means a lock was attempted against a bundle that is no
	// longer the latest for the product.
	ErrStaleForecast = errors.New("stale forecast")

	// ErrConflictingLock means an ACTIVE lock already exists for the
	// (user, product) pair.
	ErrConflictingLock = errors.New("conflicting lock")

	// ErrNotOwner means a lock operation was attempted by a different user.
	ErrNotOwner = errors.New("not lock owner")

	// ErrInvalidState means a lock transition was attempted from a terminal
	// state.
	ErrInvalidState = errors.New("invalid lock state")

	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("not found")
)
