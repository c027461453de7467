// Package policy loads the compliance rule catalog.
//
// Raw compliance_rules rows carry a JSON rule_value whose shape depends on
// rule_type. The store decodes every row once, at load time, into one of the
// typed rule kinds in rules.go and serves the result as an immutable Policy.
// Rows that fail to decode are skipped with a warning so one bad row cannot
// take the catalog down.
//
// The catalog is a non-safety lookup: when it cannot be read, Store.Current
// degrades to the last good catalog, or to DefaultPolicy when there is none.
package policy
