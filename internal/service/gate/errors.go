package gate

import "errors"

// Sentinel errors for the gate.
var (
	// ErrValidation wraps every input validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrContactNotFound is returned by contact repositories for unknown ids.
	ErrContactNotFound = errors.New("contact not found")
)
