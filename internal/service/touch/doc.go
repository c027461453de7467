// Package touch records outbound attempts and counts them over trailing
// windows.
//
// Every attempt that reaches the gate is written once, keyed by an
// idempotency key derived from contact, channel, template and the
// minute bucket of the attempt. A second insert with the same key is
// reported as success so that caller retries never double count.
//
// Only touches with status sent count toward frequency caps. Count failures
// return CountSentinel so that any cap comparison denies.
//
// RedisWindowCounter optionally layers an atomic reserve-then-send slot on
// top of the database count for deployments that need strict caps under
// concurrency.
package touch
