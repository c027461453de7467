package policy

import "errors"

// Sentinel errors for the policy layer.
var (
	ErrUnknownRuleType = errors.New("unknown rule type")
	ErrInvalidRule     = errors.New("invalid rule payload")
)
