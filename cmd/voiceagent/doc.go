/*
Package main provides the Voice Agent Runtime worker entry point.

# Overview

cmd/voiceagent is the worker process's executable: it loads
configuration, registers with the room-server control plane as an
outbound calling worker, and runs one Session per assigned job until a
shutdown signal arrives or the control plane permanently rejects its
credentials.

# Subcommands

  - serve   — load config, wire dependencies, run the dispatcher loop
  - version — print build-injected version information
  - health  — poll a running worker's /healthz endpoint
  - help    — show usage

# Exit codes (spec.md §6)

  - 0 clean shutdown
  - 1 fatal initialization error (bad config, dependency wiring failure)
  - 2 authentication failure (control plane rejected worker credentials)

# Wiring

buildDispatcherDeps constructs every production dependency the
dispatcher needs: the controlplane.Client (control plane + room
operations), the dialer, the provider adapters, the tool registry with
its idempotency-backed executor, and the metrics collector.
newHealthServer starts a pair of internal/server.Manager instances
exposing /healthz and Prometheus's /metrics, mirroring
cmd/agentflow/server.go's dual-port pattern without its HTTP API,
middleware chain, or hot reload.
*/
package main
