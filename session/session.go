package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voiceagent/runtime/chatcontext"
	"github.com/voiceagent/runtime/metrics"
	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/tools"
	"github.com/voiceagent/runtime/turndetector"
	"github.com/voiceagent/runtime/types"
	"github.com/voiceagent/runtime/voiceadapt"
)

const (
	shutdownGraceDefault     = 5 * time.Second
	llmTimeoutDefault        = 30 * time.Second
	ttsTimeoutDefault        = 5 * time.Second
	toolShutdownGraceDefault = 2 * time.Second
	goodbyeBudget            = 2 * time.Second
	tickInterval             = 20 * time.Millisecond
	eventQueueSize           = ports.StreamBufferSize

	// completionTokenReserve is held back from the model's context window
	// for its own reply so a long call's chat history is trimmed before
	// a completion request would overflow the window.
	completionTokenReserve = 1024
)

// Deps bundles everything a Session needs beyond its own per-call state:
// the provider ports, the tool registry/executor, and the shared metrics
// collector. One Deps is normally constructed once and shared across
// every Session a dispatcher spawns (spec.md §4.1, §5 shared-resource
// policy).
type Deps struct {
	STT      ports.STTProvider
	LLM      ports.LLMProvider
	TTS      ports.TTSProvider
	VAD      ports.VADProvider
	Tools    tools.Registry
	Executor tools.Executor
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// Session orchestrates one call end to end. Generalized from
// agent/voice/realtime.go's VoiceAgent/VoiceSession: one orchestration
// goroutine (run) consuming a single event queue, with one goroutine per
// open producer task (spec.md §4.4, §5).
type Session struct {
	id    string
	jobID string
	cfg   types.AgentConfig
	deps  Deps
	log   *zap.Logger

	chat   *chatcontext.Context
	tokens *chatcontext.TokenCounter
	detect *turndetector.Detector
	adapt  *voiceadapt.Manager

	stateMu sync.RWMutex
	state   types.SessionState

	events   chan event
	audioIn  chan ports.AudioFrame
	vadAudio chan ports.AudioFrame
	outAudio chan ports.TTSAudioChunk

	sttStream ports.STTStream
	cancel    context.CancelFunc

	// Orchestrator-owned turn state; mutated only inside run()'s goroutine.
	turnSeq        uint64
	curTurn        *types.TurnRecord
	curText        strings.Builder
	turnCancel     context.CancelFunc
	turnRetried    bool
	apologyPending bool
	userText       string
	turnCount      int

	startedAt     time.Time
	outcomeReason types.JobOutcomeReason
	endPending    types.JobOutcomeReason
	done          chan struct{}
	closeOnce     sync.Once
}

// New constructs a Session for one job. Start must be called before any
// audio is forwarded.
func New(id, jobID string, cfg types.AgentConfig, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:    id,
		jobID: jobID,
		cfg:   cfg,
		deps:  deps,
		log:   logger.With(zap.String("session_id", id), zap.String("job_id", jobID)),

		chat:   chatcontext.New(),
		tokens: chatcontext.NewTokenCounter(cfg.LLM.Model),
		detect: turndetector.New(turndetector.Config{
			EndpointingMs:           cfg.STT.EndpointingMs,
			InterruptionThresholdMs: time.Duration(cfg.InterruptionThresholdMs) * time.Millisecond,
		}),
		adapt: voiceadapt.New(adaptConfig(cfg)),

		state: types.StateIdle,

		events:   make(chan event, eventQueueSize),
		audioIn:  make(chan ports.AudioFrame, ports.InboundAudioBufferSize),
		vadAudio: make(chan ports.AudioFrame, ports.InboundAudioBufferSize),
		outAudio: make(chan ports.TTSAudioChunk, ports.StreamBufferSize),

		done: make(chan struct{}),
	}
}

func adaptConfig(cfg types.AgentConfig) types.VoiceAdaptationSpec {
	if cfg.VoiceAdaptation != nil {
		return *cfg.VoiceAdaptation
	}
	return types.VoiceAdaptationSpec{}
}

// GetState returns the session's current state.
func (s *Session) GetState() types.SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Start opens the STT and VAD provider streams, appends the system
// message built from cfg.Instructions, and launches the orchestration
// goroutine and its producer tasks. ctx governs the whole call; cancelling
// it begins an immediate shutdown.
func (s *Session) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.startedAt = time.Now()

	if s.cfg.Instructions != "" {
		_ = s.chat.Append(types.NewSystemMessage(uuid.NewString(), s.cfg.Instructions))
	}

	sttStream, err := s.deps.STT.StartStream(runCtx, s.cfg.STT)
	if err != nil {
		cancel()
		return types.NewError(types.ErrUpstreamError, "start stt stream").
			WithCause(err).WithComponent("stt").WithFatal(true)
	}
	s.sttStream = sttStream

	vadEvents, err := s.deps.VAD.Detect(runCtx, s.cfg.VAD, s.vadAudio)
	if err != nil {
		_ = sttStream.Close()
		cancel()
		return types.NewError(types.ErrUpstreamError, "start vad stream").
			WithCause(err).WithComponent("vad").WithFatal(true)
	}

	s.deps.Metrics.SessionStarted(s.id, s.jobID)

	s.stateMu.Lock()
	s.state = types.StateListening
	s.stateMu.Unlock()
	s.log.Info("session started")

	go s.forwardAudio(runCtx)
	go s.consumeSTT(runCtx, sttStream)
	go s.consumeVAD(runCtx, vadEvents)
	go s.tickLoop(runCtx)
	go s.run(runCtx)

	if !s.cfg.WaitForGreeting {
		s.enqueue(event{kind: evGreeting})
	}

	return nil
}

// SendAudio delivers one inbound audio frame. The channel is bounded and
// drop-oldest: if the forwarding goroutine hasn't drained fast enough, the
// oldest buffered frame is discarded in favor of the new one, since a
// phone call cannot pause for a slow consumer (spec.md §4.9).
func (s *Session) SendAudio(frame ports.AudioFrame) {
	select {
	case s.audioIn <- frame:
		return
	default:
	}
	select {
	case <-s.audioIn:
	default:
	}
	select {
	case s.audioIn <- frame:
	default:
	}
}

// Audio returns the channel of synthesized TTS audio the session produces.
// The caller (the media bridge) must drain it continuously.
func (s *Session) Audio() <-chan ports.TTSAudioChunk {
	return s.outAudio
}

// ParticipantLeft signals that the remote party hung up.
func (s *Session) ParticipantLeft() {
	s.enqueue(event{kind: evParticipantLeft})
}

// EndImmediately tears the session down right away with reason, used by
// tools that must stop speaking at once, e.g. detectedAnsweringMachine
// (spec.md §4.5).
func (s *Session) EndImmediately(reason types.JobOutcomeReason) {
	s.enqueue(event{kind: evEndImmediate, endReason: reason})
}

// EndAfterCurrentUtterance defers ending the call until the turn in
// flight finishes speaking, used by the endCall tool (spec.md §4.5).
func (s *Session) EndAfterCurrentUtterance(reason types.JobOutcomeReason) {
	s.enqueue(event{kind: evEndPending, endReason: reason})
}

// Outcome returns the reason the session ended with. Meaningful once Done
// is closed.
func (s *Session) Outcome() types.JobOutcomeReason {
	return s.outcomeReason
}

// Done is closed once the orchestration goroutine has fully exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close cancels the session's context and waits up to shutdownGraceDefault
// for the orchestrator to finish tearing down.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	select {
	case <-s.done:
	case <-time.After(shutdownGraceDefault):
		s.log.Warn("session close timed out waiting for orchestrator shutdown")
	}
	return nil
}

// enqueue submits an event to the orchestrator, blocking if the queue is
// full rather than dropping state-machine-relevant events (spec.md §4.9
// block-producer policy for everything but raw inbound audio).
func (s *Session) enqueue(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// nextMessageID generates a ChatMessage/TurnRecord identifier.
func (s *Session) nextMessageID() string {
	return fmt.Sprintf("%s-%s", s.id, uuid.NewString())
}
