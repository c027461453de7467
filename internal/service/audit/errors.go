package audit

import "errors"

// ErrInvalidEntry is logged when an entry lacks its action type.
var ErrInvalidEntry = errors.New("invalid audit entry")
