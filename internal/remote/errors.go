package remote

import "errors"

// Common errors returned by remote backends.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, remote.ErrNotFound) {
//	    // Record a per-item error and keep going.
//	}
var (
	// ErrNotFound is returned when a requested entity does not exist
	// on the remote server. Callers treat this as a per-item condition,
	// not a run-level failure.
	ErrNotFound = errors.New("entity not found on remote")

	// ErrUnavailable is returned when the remote server cannot be
	// reached or answers with a server-side failure. Sync runs abort
	// on this error; retrying is the caller's decision.
	ErrUnavailable = errors.New("remote server unavailable")

	// ErrUnauthorized is returned when the server rejects the
	// configured API key.
	ErrUnauthorized = errors.New("remote rejected credentials")

	// ErrUnsupportedTarget is returned when no registered backend
	// can handle the given target.
	ErrUnsupportedTarget = errors.New("no backend for target")

	// ErrVersionTooOld is returned when the server version reported by
	// Stats() is below the configured minimum.
	ErrVersionTooOld = errors.New("remote server version below minimum")
)

// IsNotFound returns true if the error marks a missing remote entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable returns true if the error indicates the server could not
// be reached or failed. These abort a sync run and are worth retrying
// later, unlike ErrUnauthorized or ErrVersionTooOld.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
