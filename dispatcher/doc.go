// Package dispatcher implements the Worker Dispatcher (spec.md §4.1): it
// holds the long-lived connection to the room-server control plane,
// registers this worker's identity, accepts job assignments, validates
// and dials each one, and spawns an isolated Session per call under a
// child cancellation scope.
//
// Grounded on internal/server/manager.go and cmd/agentflow/server.go's
// connection-lifecycle pattern (mutex-guarded registry, structured
// zap.Logger transitions), generalized from an inbound HTTP server to an
// outbound job-consuming worker.
package dispatcher
