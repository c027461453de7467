// Package lockdown activates and tracks automatic agent lockdowns.
//
// For each active lockdown rule matching an agent and action, the monitor
// counts matching audit entries inside the rule's trailing window. Reaching
// the threshold either creates a lockdown (pause_agent) or raises a warning
// (alert_only). Lockdowns stay active until explicitly resolved.
//
// Creation is not transactional with the existence check. A concurrent
// duplicate is rejected by the store with ErrLockdownExists and treated as a
// no-op.
package lockdown
