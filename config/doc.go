// Package config loads and validates the voice agent worker's
// configuration: server ports, dispatcher/job-server credentials, SIP
// trunk settings, default agent behavior, and the provider/telemetry
// ambient stack. Configuration layers as defaults, then an optional
// YAML file, then environment variables (spec.md §6).
package config
