package constants

import "errors"

// Error categories. Every error the engine returns wraps exactly one of these,
// so callers can branch with errors.Is.
var (
	// ErrValidation is returned before any store mutation or network call when
	// user input is empty or too long.
	ErrValidation = errors.New("validation failed")
	// ErrConflict is returned when a mutation of the same kind is already in
	// flight against the same target.
	ErrConflict = errors.New("mutation in flight")
	// ErrRemote is returned when the backend rejected or failed a call.
	ErrRemote = errors.New("remote call failed")
	// ErrTransport covers realtime transport failures. It never reaches the UI
	// directly; the channel state reflects it instead.
	ErrTransport = errors.New("realtime transport failure")
	// ErrStaleVersion is returned by the record store when a patch was computed
	// against a version that is no longer current.
	ErrStaleVersion = errors.New("stale record version")
	// ErrUnauthorized means the credential was missing, expired or rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrClosed is returned by components used after their session ended.
	ErrClosed = errors.New("closed")
)

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNoBaseURL              = errors.New("base url not set")
	ErrNoCredential           = errors.New("no credential available")
	ErrNotFound               = errors.New("not found")
)
