package consent

import "errors"

// Sentinel errors for the consent ledger.
var (
	ErrContactRequired = errors.New("contact id is required")
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrNotFound        = errors.New("no matching record")
)
