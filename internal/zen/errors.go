package zen

import "errors"

// Error classes for vendor API failures. Callers match with errors.Is;
// wrapped errors carry the underlying cause for diagnostics.
var (
	// ErrInvalidMode is returned when a caller supplies a mode outside the
	// writable set, before any network request is made.
	ErrInvalidMode = errors.New("invalid thermostat mode")

	// ErrAuthentication is returned when the vendor rejects credentials or a
	// refresh token, or when a request stays unauthorized after one retry.
	ErrAuthentication = errors.New("authentication failed")

	// ErrCommunication is returned for timeouts and transport-level faults.
	ErrCommunication = errors.New("communication error")

	// ErrAPI is the catch-all for unexpected vendor failures.
	ErrAPI = errors.New("api error")
)
