// Package audit is the append-only record of gate decisions and outcomes.
//
// Writes are best effort: Trail.Write never returns an error and never
// blocks the decision or send path on a failing store. Optional sinks
// archive each entry outside the primary database.
package audit
