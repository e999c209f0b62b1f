// Package metrics exposes the runtime's Prometheus collector (job,
// session, and turn-latency counters/histograms, spec.md §4.8) and a
// TurnRecord aggregator that turns raw timestamps into the latency
// histogram series operators watch.
package metrics
