package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/tools"
	"github.com/voiceagent/runtime/types"
)

// startTurn opens a new TurnRecord and begins the first LLM round.
// userText is empty for the synthetic opening greeting turn.
func (s *Session) startTurn(ctx context.Context, userText string) {
	s.turnSeq++
	seq := s.turnSeq
	s.turnRetried = false
	s.apologyPending = false
	s.curText.Reset()

	rec := &types.TurnRecord{SpeechID: s.nextMessageID()}
	if userText != "" {
		now := time.Now()
		rec.UserText = userText
		rec.STTFinalAt = &now
		_ = s.chat.Append(types.NewUserMessage(s.nextMessageID(), userText))
	}
	s.curTurn = rec

	s.runLLMRound(ctx, seq)
}

// runLLMRound issues one chat-completion request against the current chat
// history and streams tokens back onto the event queue tagged with seq.
// It never overlaps a previous round for the same turn: the caller only
// invokes it again (via handleToolResults) after the prior round reached
// its Done token (spec.md §5: "no two LLM calls overlap").
func (s *Session) runLLMRound(ctx context.Context, seq uint64) {
	turnCtx, cancel := context.WithTimeout(ctx, llmTimeoutDefault)
	s.turnCancel = cancel

	if dropped, err := s.chat.TrimToBudget(s.tokens, completionTokenReserve); err != nil {
		s.log.Warn("chat context token trim failed", zap.Error(err))
	} else if dropped > 0 {
		s.log.Info("trimmed chat context to fit model context window", zap.Int("dropped_messages", dropped))
	}
	messages := s.chat.MessagesForLLM()

	go func() {
		defer cancel()
		stream, err := s.deps.LLM.StreamChat(turnCtx, s.cfg.LLM, messages, s.cfg.Tools)
		if err != nil {
			s.deps.Metrics.RecordProviderError("llm", types.ErrorCodeOf(err))
			s.enqueue(event{kind: evLLMError, turnSeq: seq, llmErr: err})
			return
		}
		defer stream.Close()
		for {
			select {
			case tok, ok := <-stream.Tokens():
				if !ok {
					return
				}
				s.enqueue(event{kind: evLLMToken, turnSeq: seq, llmToken: tok})
			case <-turnCtx.Done():
				if errors.Is(turnCtx.Err(), context.DeadlineExceeded) {
					s.deps.Metrics.RecordProviderError("llm", types.ErrUpstreamTimeout)
					s.enqueue(event{kind: evLLMError, turnSeq: seq, llmErr: types.NewError(types.ErrUpstreamTimeout, "llm response timed out").WithComponent("llm").WithRetryable(true)})
				}
				return
			}
		}
	}()
}

// handleLLMToken accumulates streamed text and, on the Done token, either
// dispatches tool calls or moves to Speaking. ToolCalls is only populated
// on Done (ports.LLMToken contract), so speech is never started
// speculatively ahead of that decision — a deliberate simplification over
// a fully speculative streaming pipeline (SPEC_FULL.md §4.9 design note).
func (s *Session) handleLLMToken(ctx context.Context, tok ports.LLMToken) {
	if s.curTurn.LLMFirstTokenAt == nil {
		now := time.Now()
		s.curTurn.LLMFirstTokenAt = &now
	}
	s.curText.WriteString(tok.Text)

	if !tok.Done {
		return
	}
	now := time.Now()
	s.curTurn.LLMDoneAt = &now
	text := s.curText.String()

	if len(tok.ToolCalls) > 0 {
		msg := types.NewAssistantMessage(s.nextMessageID(), text, tok.ToolCalls)
		if err := s.chat.Append(msg); err != nil {
			s.log.Error("chat append invariant violation", zap.Error(err))
			s.shutdown(types.OutcomeFatalError, "chat context invariant violated")
			return
		}
		if !s.transition(types.StateToolRunning) {
			return
		}
		s.runTools(ctx, s.turnSeq, tok.ToolCalls)
		return
	}

	msg := types.NewAssistantMessage(s.nextMessageID(), text, nil)
	if err := s.chat.Append(msg); err != nil {
		s.log.Error("chat append invariant violation", zap.Error(err))
		s.shutdown(types.OutcomeFatalError, "chat context invariant violated")
		return
	}
	s.curTurn.AssistantText = text
	if !s.transition(types.StateSpeaking) {
		return
	}
	s.startTTS(ctx, s.turnSeq, text)
}

// handleLLMError applies spec.md §7's transient/fatal split: a fatal
// provider error aborts the call; anything else is retried once, then
// answered with a canned apology before returning to Listening.
func (s *Session) handleLLMError(ctx context.Context, err error) {
	s.deps.Metrics.RecordProviderError("llm", types.ErrorCodeOf(err))

	if types.IsFatal(err) {
		s.curTurn.ErrorKind = string(types.ErrorCodeOf(err))
		s.deps.Metrics.RecordTurn(*s.curTurn)
		s.speakGoodbyeAndEnd(ctx, types.OutcomeFatalError)
		return
	}

	if !s.turnRetried {
		s.turnRetried = true
		s.log.Warn("llm error, retrying turn once", zap.Error(err))
		s.runLLMRound(ctx, s.turnSeq)
		return
	}

	s.curTurn.ErrorKind = llmErrorKind(err)
	s.deps.Metrics.RecordTurn(*s.curTurn)
	s.speakApologyAndListen(ctx, "I'm sorry, I'm having trouble right now. Could you say that again?")
}

// llmErrorKind names the TurnRecord.ErrorKind recorded once LLM retries are
// exhausted, distinguishing a timed-out round from any other exhausted
// error (spec.md §5 end-to-end timeout scenario).
func llmErrorKind(err error) string {
	if types.ErrorCodeOf(err) == types.ErrUpstreamTimeout {
		return "llm_timeout"
	}
	return "llm_retry_exhausted"
}

// runTools executes the LLM's requested tool calls (concurrently among
// themselves via tools.Executor, per its own grounding) and feeds the
// results back as tool messages before re-entering the LLM. The context
// is tied to turnCancel so a barge-in during tool execution discards the
// call within the same cancellation path as the LLM/TTS phases.
func (s *Session) runTools(ctx context.Context, seq uint64, calls []types.ToolCall) {
	toolCtx, cancel := context.WithCancel(ctx)
	s.turnCancel = cancel
	go func() {
		defer cancel()
		results := s.deps.Executor.Execute(toolCtx, calls)
		s.enqueue(event{kind: evToolResults, turnSeq: seq, toolResults: results})
	}()
}

func (s *Session) handleToolResults(ctx context.Context, results []tools.Result) {
	for _, r := range results {
		outcome := "success"
		content := string(r.Content)
		if r.Error != "" {
			outcome = "error"
			content = r.Error
		}
		s.deps.Metrics.RecordToolExecution(r.Name, outcome, r.Duration)
		msg := types.NewToolMessage(s.nextMessageID(), r.ToolCallID, r.Name, content)
		if err := s.chat.Append(msg); err != nil {
			s.log.Error("chat append invariant violation for tool result", zap.Error(err))
			s.shutdown(types.OutcomeFatalError, "chat context invariant violated")
			return
		}
	}
	if !s.transition(types.StateThinking) {
		return
	}
	s.runLLMRound(ctx, s.turnSeq)
}

// startTTS applies the voice adaptation engine's decision, then opens a
// streaming synthesis session and forwards audio to the outbound channel
// directly from its own goroutine so a slow consumer never blocks the
// orchestrator (spec.md §4.9).
func (s *Session) startTTS(ctx context.Context, seq uint64, text string) {
	ttsCtx, cancel := context.WithTimeout(ctx, ttsTimeoutDefault)
	s.turnCancel = cancel

	decision := s.adapt.Decide(text, "response")
	spec := s.cfg.TTS
	spec.Speed = decision.Voice.Speed
	spec.Emotions = decision.Voice.Emotions

	textCh := make(chan string, 1)
	go func() {
		defer close(textCh)
		select {
		case <-time.After(decision.Timing.PreSpeechDelay):
		case <-ttsCtx.Done():
			return
		}
		select {
		case textCh <- text:
		case <-ttsCtx.Done():
		}
	}()

	stream, err := s.deps.TTS.SynthesizeStream(ttsCtx, spec, textCh)
	if err != nil {
		cancel()
		s.deps.Metrics.RecordProviderError("tts", types.ErrorCodeOf(err))
		s.enqueue(event{kind: evTTSError, turnSeq: seq, ttsErr: err})
		return
	}

	go func() {
		defer cancel()
		first := true
		audio := stream.Audio()
		for {
			select {
			case chunk, ok := <-audio:
				if !ok {
					return
				}
				select {
				case s.outAudio <- chunk:
				case <-ttsCtx.Done():
					s.reportTTSTimeout(ttsCtx, seq)
					return
				}
				s.enqueue(event{kind: evTTSProgress, turnSeq: seq, ttsFirstByte: first, ttsFinal: chunk.IsFinal})
				first = false
			case <-ttsCtx.Done():
				s.reportTTSTimeout(ttsCtx, seq)
				return
			}
		}
	}()
}

// reportTTSTimeout enqueues an evTTSError only when ttsCtx expired on its
// own deadline; a barge-in cancellation is handled by handleBargeIn and
// must not also raise a spurious TTS error.
func (s *Session) reportTTSTimeout(ttsCtx context.Context, seq uint64) {
	if !errors.Is(ttsCtx.Err(), context.DeadlineExceeded) {
		return
	}
	s.deps.Metrics.RecordProviderError("tts", types.ErrUpstreamTimeout)
	s.enqueue(event{kind: evTTSError, turnSeq: seq, ttsErr: types.NewError(types.ErrUpstreamTimeout, "tts synthesis timed out").WithComponent("tts")})
}

func (s *Session) handleTTSProgress(first, final bool) {
	if s.curTurn == nil {
		if final && s.apologyPending {
			s.apologyPending = false
			s.transition(types.StateListening)
		}
		return
	}
	if first && s.curTurn.TTSFirstByteAt == nil {
		now := time.Now()
		s.curTurn.TTSFirstByteAt = &now
	}
	if final {
		s.finishTurn()
	}
}

func (s *Session) handleTTSError(ctx context.Context, err error) {
	s.deps.Metrics.RecordProviderError("tts", types.ErrorCodeOf(err))
	s.apologyPending = false
	if s.curTurn != nil {
		s.curTurn.ErrorKind = ttsErrorKind(err)
		s.deps.Metrics.RecordTurn(*s.curTurn)
		s.curTurn = nil
	}
	if types.IsFatal(err) {
		s.shutdown(types.OutcomeFatalError, "tts provider failed fatally")
		return
	}
	s.transition(types.StateListening)
}

// ttsErrorKind mirrors llmErrorKind for the TTS side of a timed-out round.
func ttsErrorKind(err error) string {
	if types.ErrorCodeOf(err) == types.ErrUpstreamTimeout {
		return "tts_timeout"
	}
	return string(types.ErrorCodeOf(err))
}

// speakApologyAndListen speaks a canned apology with no associated
// TurnRecord (the failed turn was already recorded by the caller) and
// returns to Listening once the apology's final audio chunk is reported,
// since finishTurn is keyed off a non-nil curTurn (spec.md §7).
func (s *Session) speakApologyAndListen(ctx context.Context, text string) {
	s.curTurn = nil
	s.apologyPending = true
	if !s.transition(types.StateSpeaking) {
		return
	}
	s.startTTS(ctx, s.turnSeq, text)
}

// finishTurn closes out the current TurnRecord once TTS finishes normally.
func (s *Session) finishTurn() {
	if s.curTurn == nil {
		return
	}
	now := time.Now()
	s.curTurn.TTSDoneAt = &now
	s.curTurn.ComputeTotalLatency()
	s.deps.Metrics.RecordTurn(*s.curTurn)
	s.turnCount++
	s.curTurn = nil
	if s.endPending != "" {
		s.shutdown(s.endPending, "call ended by agent")
		return
	}
	s.transition(types.StateListening)
}

// handleBargeIn cuts the current turn short: cancels every in-flight
// provider call for it, records it as interrupted, and moves the state
// machine to UserSpeaking since barge-in only fires while the caller is
// sustaining speech over the agent (spec.md §4.3, §4.4).
func (s *Session) handleBargeIn(ctx context.Context) {
	if s.turnCancel != nil {
		s.turnCancel()
	}
	s.apologyPending = false
	if s.curTurn != nil {
		s.curTurn.Interrupted = true
		if s.curTurn.TTSDoneAt == nil {
			now := time.Now()
			s.curTurn.TTSDoneAt = &now
		}
		s.curTurn.ComputeTotalLatency()
		s.deps.Metrics.RecordTurn(*s.curTurn)
		s.turnCount++
		s.curTurn = nil
	}
	s.transition(types.StateUserSpeaking)
}

// speakGoodbyeAndEnd attempts one final apology utterance within
// goodbyeBudget before tearing the session down, per spec.md §7's
// mid-call fatal-error policy.
func (s *Session) speakGoodbyeAndEnd(ctx context.Context, reason types.JobOutcomeReason) {
	s.curTurn = nil
	goodbyeCtx, cancel := context.WithTimeout(ctx, goodbyeBudget)
	defer cancel()

	textCh := make(chan string, 1)
	textCh <- "I'm sorry, something went wrong; goodbye."
	close(textCh)

	stream, err := s.deps.TTS.SynthesizeStream(goodbyeCtx, s.cfg.TTS, textCh)
	if err == nil {
		for chunk := range stream.Audio() {
			select {
			case s.outAudio <- chunk:
			case <-goodbyeCtx.Done():
				break
			}
		}
		stream.Close()
	}
	s.shutdown(reason, "fatal provider error")
}

// shutdown transitions to Ending then Terminated, emits the session
// outcome, and closes the STT stream and outbound channels.
func (s *Session) shutdown(reason types.JobOutcomeReason, detail string) {
	if s.GetState() == types.StateTerminated {
		return
	}
	s.outcomeReason = reason
	s.transition(types.StateEnding)

	if s.sttStream != nil {
		_ = s.sttStream.Close()
	}

	duration := time.Since(s.startedAt)
	s.deps.Metrics.SessionEnded(types.SessionOutcome{
		SessionID:  s.id,
		JobID:      s.jobID,
		Reason:     reason,
		DurationMs: duration.Milliseconds(),
		TurnCount:  s.turnCount,
	})
	s.log.Info("session ending", zap.String("reason", string(reason)), zap.String("detail", detail))

	s.transition(types.StateTerminated)
	close(s.outAudio)
}
