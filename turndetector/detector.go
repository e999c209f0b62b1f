package turndetector

import (
	"sync"
	"time"

	"github.com/voiceagent/runtime/ports"
)

// Decision is what the detector concluded from the most recent event or
// Tick call.
type Decision string

const (
	DecisionNone     Decision = ""
	DecisionEndOfTurn Decision = "end_of_turn"
	DecisionBargeIn   Decision = "barge_in"
)

// debounceWindow absorbs a VAD speech-ended hangover expiry and an STT
// final arriving within a few hundred milliseconds of each other so only
// one end-of-turn decision is emitted per turn.
const debounceWindow = 300 * time.Millisecond

// Config controls the detector's timing, sourced from
// types.AgentConfig.STT.EndpointingMs and
// types.AgentConfig.InterruptionThresholdMs (spec.md §3).
type Config struct {
	// EndpointingMs is how long to wait after VAD reports speech-ended
	// before declaring the turn over, absent an STT final arriving first.
	EndpointingMs time.Duration
	// InterruptionThresholdMs is how long the user must speak over the
	// agent before a barge-in decision fires.
	InterruptionThresholdMs time.Duration
}

// Detector tracks turn-taking state for one session. Not safe for
// concurrent event submission from multiple goroutines beyond the
// internal locking already required by OnVADEvent/OnSTTEvent/Tick
// themselves; the session's single orchestration goroutine is expected to
// be the sole caller (spec.md §5).
type Detector struct {
	cfg Config
	now func() time.Time

	mu sync.Mutex

	userSpeaking    bool
	speechStartedAt time.Time
	vadEndedAt      *time.Time

	agentSpeaking bool
	bargeInFired  bool

	debounceUntil time.Time
}

// New creates a Detector using the wall clock.
func New(cfg Config) *Detector {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock creates a Detector with an injectable clock, for
// deterministic tests.
func NewWithClock(cfg Config, now func() time.Time) *Detector {
	return &Detector{cfg: cfg, now: now}
}

// SetAgentSpeaking tells the detector whether the agent is currently in
// the Speaking state. Barge-in detection only applies while true; leaving
// Speaking clears the fired flag so the next Speaking period can barge-in
// again.
func (d *Detector) SetAgentSpeaking(speaking bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agentSpeaking = speaking
	if !speaking {
		d.bargeInFired = false
	}
}

// OnVADEvent updates speech-activity state from a VAD signal. VAD alone
// never concludes an end-of-turn; it only starts the hangover countdown
// that Tick evaluates, so STT finals that arrive within the window can
// still short-circuit it.
func (d *Detector) OnVADEvent(ev ports.VADEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case ev.SpeechStarted:
		d.userSpeaking = true
		d.speechStartedAt = d.eventTime(ev.Timestamp)
		d.vadEndedAt = nil
	case ev.SpeechEnded:
		d.userSpeaking = false
		t := d.eventTime(ev.Timestamp)
		d.vadEndedAt = &t
	}
}

// OnSTTEvent processes an STT stream event. A final transcript
// short-circuits the hangover wait and declares the turn over immediately,
// subject to the debounce window.
func (d *Detector) OnSTTEvent(ev ports.STTEvent) Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ev.Kind != ports.STTEventFinal {
		return DecisionNone
	}

	now := d.eventTime(ev.Timestamp)
	if now.Before(d.debounceUntil) {
		return DecisionNone
	}
	d.debounceUntil = now.Add(debounceWindow)
	d.vadEndedAt = nil
	return DecisionEndOfTurn
}

// Tick evaluates time-based transitions: the hangover timer expiring
// without an STT final, and sustained barge-in speech while the agent is
// speaking. Callers drive this from a periodic ticker in the session's
// select loop (spec.md §4.3, §5).
func (d *Detector) Tick(now time.Time) Decision {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.userSpeaking && d.agentSpeaking && !d.bargeInFired {
		if now.Sub(d.speechStartedAt) >= d.cfg.InterruptionThresholdMs {
			d.bargeInFired = true
			return DecisionBargeIn
		}
	}

	if !d.userSpeaking && d.vadEndedAt != nil {
		if now.Sub(*d.vadEndedAt) >= d.cfg.EndpointingMs {
			d.vadEndedAt = nil
			if now.Before(d.debounceUntil) {
				return DecisionNone
			}
			d.debounceUntil = now.Add(debounceWindow)
			return DecisionEndOfTurn
		}
	}

	return DecisionNone
}

// eventTime falls back to the clock when the event carries a zero
// timestamp (fakes in tests often omit it).
func (d *Detector) eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return d.now()
	}
	return t
}
