package session

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/turndetector"
	"github.com/voiceagent/runtime/types"
)

// run is the single orchestration goroutine. Every ChatContext mutation
// and every state transition happens here, so no further locking is
// needed around them (spec.md §5: "all state transitions are serialized
// on the orchestrator task").
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.shutdown(types.OutcomeTimeout, "context cancelled")
			return
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
			if s.GetState() == types.StateTerminated {
				return
			}
		}
	}
}

// transition applies a state change if legal, syncing the turn detector's
// agent-speaking flag on entry/exit of Speaking (spec.md §4.3, §4.4).
func (s *Session) transition(to types.SessionState) bool {
	s.stateMu.Lock()
	from := s.state
	if !types.CanTransition(from, to) {
		s.stateMu.Unlock()
		s.log.Warn("rejected invalid transition",
			zap.String("from", string(from)), zap.String("to", string(to)))
		return false
	}
	s.state = to
	s.stateMu.Unlock()

	if to == types.StateSpeaking {
		s.detect.SetAgentSpeaking(true)
	} else if from == types.StateSpeaking {
		s.detect.SetAgentSpeaking(false)
	}
	s.log.Debug("state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	return true
}

func (s *Session) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case evGreeting:
		s.handleGreeting(ctx)
	case evVAD:
		s.handleVAD(ev.vad)
	case evSTT:
		s.handleSTT(ctx, ev.stt)
	case evTick:
		s.handleTick(ctx)
	case evLLMToken:
		if ev.turnSeq != s.turnSeq {
			return
		}
		s.handleLLMToken(ctx, ev.llmToken)
	case evLLMError:
		if ev.turnSeq != s.turnSeq {
			return
		}
		s.handleLLMError(ctx, ev.llmErr)
	case evToolResults:
		if ev.turnSeq != s.turnSeq {
			return
		}
		s.handleToolResults(ctx, ev.toolResults)
	case evTTSProgress:
		if ev.turnSeq != s.turnSeq {
			return
		}
		s.handleTTSProgress(ev.ttsFirstByte, ev.ttsFinal)
	case evTTSError:
		if ev.turnSeq != s.turnSeq {
			return
		}
		s.handleTTSError(ctx, ev.ttsErr)
	case evParticipantLeft:
		s.shutdown(types.OutcomeParticipantLeft, "participant left")
	case evEndImmediate:
		s.shutdown(ev.endReason, "tool requested immediate end")
	case evEndPending:
		s.endPending = ev.endReason
	}
}

// handleGreeting models the opening, agent-initiated turn as a
// zero-length user turn so the transition table's invariant (Thinking is
// only reachable via UserSpeaking) still holds (spec.md §4.4, §9 open
// question: no explicit "agent speaks first" edge exists in the state
// table, so this is expressed as an instantaneous synthetic UserSpeaking
// visit rather than adding a new edge).
func (s *Session) handleGreeting(ctx context.Context) {
	if s.GetState() != types.StateListening {
		return
	}
	if !s.transition(types.StateUserSpeaking) {
		return
	}
	if !s.transition(types.StateThinking) {
		return
	}
	s.startTurn(ctx, "")
}

// handleVAD updates the detector and, on a fresh speech-started edge
// while Listening, moves the state machine into UserSpeaking. VAD alone
// never ends a turn or fires barge-in; those are evaluated on Tick so
// they share one code path with the STT-final short-circuit.
func (s *Session) handleVAD(ev ports.VADEvent) {
	s.detect.OnVADEvent(ev)
	if ev.SpeechStarted && s.GetState() == types.StateListening {
		s.transition(types.StateUserSpeaking)
	}
}

func (s *Session) handleSTT(ctx context.Context, ev ports.STTEvent) {
	switch ev.Kind {
	case ports.STTEventPartial:
		s.userText = ev.Text
	case ports.STTEventFinal:
		if ev.Text != "" {
			s.userText = ev.Text
		}
		if s.detect.OnSTTEvent(ev) == turndetector.DecisionEndOfTurn &&
			s.GetState() == types.StateUserSpeaking {
			s.endUserTurn(ctx)
		}
	}
}

func (s *Session) handleTick(ctx context.Context) {
	switch s.detect.Tick(time.Now()) {
	case turndetector.DecisionEndOfTurn:
		if s.GetState() == types.StateUserSpeaking {
			s.endUserTurn(ctx)
		}
	case turndetector.DecisionBargeIn:
		if s.GetState() == types.StateSpeaking {
			s.handleBargeIn(ctx)
		}
	}
}

func (s *Session) endUserTurn(ctx context.Context) {
	text := strings.TrimSpace(s.userText)
	s.userText = ""
	if text == "" {
		// spec.md §8 boundary case: empty user utterance, no turn started.
		s.transition(types.StateListening)
		return
	}
	if !s.transition(types.StateThinking) {
		return
	}
	s.startTurn(ctx, text)
}
