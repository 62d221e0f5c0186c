package broker

import "errors"

var (
	// ErrNotFound is returned when a connection id does not name a live
	// connection. Expired connections fail with ErrNotFound exactly like
	// connections that never existed.
	ErrNotFound = errors.New("connection not found")

	// ErrTenantMissing is returned when a connection is created without a
	// tenant id. The tenant id is the isolation anchor, so it can never be
	// empty.
	ErrTenantMissing = errors.New("tenant id is required")

	// ErrCapacityExceeded is returned when creating a connection would push a
	// tenant past its configured connection cap.
	ErrCapacityExceeded = errors.New("tenant connection capacity exceeded")
)
