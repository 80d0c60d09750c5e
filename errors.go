package authcore

import "errors"

var (
	// ErrNotReady is returned when a Manager method is called before the
	// Builder finished wiring its dependencies.
	ErrNotReady = errors.New("manager not initialized")
	// ErrUnauthorized is returned by Revoke for an unknown or expired
	// session. Every other expected failure (wrong credentials, consumed
	// refresh key, throttled or conflicting request) surfaces as a
	// notification, not an error.
	ErrUnauthorized = errors.New("unauthorized")
)
