package lockdown

import "errors"

// Sentinel errors for the lockdown monitor.
var (
	// ErrLockdownExists is returned by repositories when an active lockdown
	// already exists for the same rule and agent.
	ErrLockdownExists = errors.New("active lockdown already exists")

	ErrNotFound         = errors.New("lockdown not found")
	ErrAgentRequired    = errors.New("agent type is required")
	ErrResolverRequired = errors.New("resolved_by is required")
)
