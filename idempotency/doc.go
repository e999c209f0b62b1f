// Package idempotency provides the thin tool-facing de-duplication cache
// SPEC_FULL.md's persistence section calls for: a tool handler that runs
// twice with the same tool name and arguments (e.g. a retried
// confirmAppointment) takes effect only once. It is backed by Redis when configured
// and falls back to an in-memory store otherwise, mirroring config.
// RedisConfig's own doc comment ("the dispatcher runs without Redis when
// Addr is empty").
package idempotency
