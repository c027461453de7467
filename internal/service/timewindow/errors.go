package timewindow

import "errors"

// ErrUnknownTimezone is returned for an IANA zone name that cannot be loaded.
var ErrUnknownTimezone = errors.New("unknown timezone")
