package session

import "errors"

var (
	// ErrInvalidScope indicates a scope without a user.
	ErrInvalidScope = errors.New("invalid session scope")
)
