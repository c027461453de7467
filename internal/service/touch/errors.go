package touch

import "errors"

// Sentinel errors for the touch ledger.
var (
	// ErrDuplicateTouch is returned by repositories when the idempotency key
	// already exists. The ledger reports it as success.
	ErrDuplicateTouch = errors.New("duplicate touch")

	ErrValidation = errors.New("invalid touch")
)
