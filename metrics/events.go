package metrics

import "github.com/voiceagent/runtime/types"

// eventBufferSize bounds the Collector's external event channel. Once a
// consumer falls behind and the buffer is full, new events are dropped
// rather than stalling the orchestrator that's emitting it (spec.md §6: metrics
// events use a "consumer-defined transport" the runtime must never block
// on).
const eventBufferSize = 256

// Event is one metrics-worthy occurrence delivered on Collector.Events().
// Exactly one field is set.
type Event struct {
	SessionStarted *SessionStartedEvent
	SessionEnded   *types.SessionOutcome
	Turn           *types.TurnRecord
}

// SessionStartedEvent mirrors spec.md §6's sessionStarted job event.
type SessionStartedEvent struct {
	SessionID string
	JobID     string
}

// emit pushes ev onto the event channel without blocking. A full channel
// means no consumer is draining it; the event is dropped rather than
// stalling the caller, which is always on the session's hot path.
func (c *Collector) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("metrics event dropped, consumer not draining fast enough")
	}
}

// Events returns the channel external consumers can range over to receive
// TurnRecord and session-lifecycle events alongside the Prometheus series
// (spec.md §6). The runtime itself never reads from this channel.
func (c *Collector) Events() <-chan Event {
	return c.events
}
