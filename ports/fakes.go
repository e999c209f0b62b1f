package ports

import (
	"context"
	"sync"

	"github.com/voiceagent/runtime/types"
)

// FakeSTTStream is an in-memory STTStream for tests. Push feeds events to
// the consumer; SendAudio just records what was sent.
type FakeSTTStream struct {
	mu       sync.Mutex
	sent     []AudioFrame
	events   chan STTEvent
	closed   bool
}

// NewFakeSTTStream returns a stream with a buffered event channel large
// enough for a single test scenario's worth of events.
func NewFakeSTTStream() *FakeSTTStream {
	return &FakeSTTStream{events: make(chan STTEvent, 64)}
}

func (f *FakeSTTStream) SendAudio(frame AudioFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return context.Canceled
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *FakeSTTStream) Events() <-chan STTEvent { return f.events }

// Push enqueues an event as if the provider produced it.
func (f *FakeSTTStream) Push(ev STTEvent) {
	f.events <- ev
}

func (f *FakeSTTStream) SentFrames() []AudioFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]AudioFrame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *FakeSTTStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.events)
	return nil
}

// FakeSTTProvider always returns the same stream, letting a test push
// events into it after the session starts consuming.
type FakeSTTProvider struct {
	Stream *FakeSTTStream
	Err    error
}

func (p *FakeSTTProvider) Name() string { return "fake-stt" }

func (p *FakeSTTProvider) StartStream(ctx context.Context, spec types.STTSpec) (STTStream, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Stream == nil {
		p.Stream = NewFakeSTTStream()
	}
	return p.Stream, nil
}

// FakeLLMStream replays a fixed sequence of tokens.
type FakeLLMStream struct {
	tokens chan LLMToken
	closed chan struct{}
	once   sync.Once
}

// NewFakeLLMStream builds a stream that emits toks in order then closes.
func NewFakeLLMStream(toks []LLMToken) *FakeLLMStream {
	s := &FakeLLMStream{
		tokens: make(chan LLMToken, len(toks)+1),
		closed: make(chan struct{}),
	}
	for _, t := range toks {
		s.tokens <- t
	}
	close(s.tokens)
	return s
}

func (s *FakeLLMStream) Tokens() <-chan LLMToken { return s.tokens }

func (s *FakeLLMStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// FakeLLMProvider returns a new FakeLLMStream built from Script every
// call, so a test can replay the same script across multiple turns.
type FakeLLMProvider struct {
	Script func(messages []types.ChatMessage) []LLMToken
	Err    error
}

func (p *FakeLLMProvider) Name() string { return "fake-llm" }

func (p *FakeLLMProvider) StreamChat(ctx context.Context, spec types.LLMSpec, messages []types.ChatMessage, tools []types.ToolSpec) (LLMStream, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	var toks []LLMToken
	if p.Script != nil {
		toks = p.Script(messages)
	}
	return NewFakeLLMStream(toks), nil
}

// FakeTTSStream echoes back one audio chunk per text segment received,
// marking the chunk final immediately (no real synthesis latency).
type FakeTTSStream struct {
	audio chan TTSAudioChunk
	done  chan struct{}
}

func newFakeTTSStream(text <-chan string) *FakeTTSStream {
	s := &FakeTTSStream{audio: make(chan TTSAudioChunk, StreamBufferSize), done: make(chan struct{})}
	go func() {
		defer close(s.audio)
		for segment := range text {
			select {
			case s.audio <- TTSAudioChunk{Data: []byte(segment), IsFinal: false}:
			case <-s.done:
				return
			}
		}
		select {
		case s.audio <- TTSAudioChunk{IsFinal: true}:
		case <-s.done:
		}
	}()
	return s
}

func (s *FakeTTSStream) Audio() <-chan TTSAudioChunk { return s.audio }

func (s *FakeTTSStream) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

// FakeTTSProvider synthesizes by echoing input text as audio bytes.
type FakeTTSProvider struct {
	Err error
}

func (p *FakeTTSProvider) Name() string { return "fake-tts" }

func (p *FakeTTSProvider) SynthesizeStream(ctx context.Context, spec types.TTSSpec, text <-chan string) (TTSStream, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return newFakeTTSStream(text), nil
}

// FakeVADProvider returns a channel a test can push VADEvents into
// directly; it never inspects the audio channel it's handed, since real
// speech-boundary detection isn't the concern under test in a session-level
// test (that belongs to the turndetector package's own tests).
type FakeVADProvider struct {
	Events chan VADEvent
	Err    error
}

// NewFakeVADProvider returns a provider whose Detect call always returns
// the same event channel, so a test can Push after Session.Start.
func NewFakeVADProvider() *FakeVADProvider {
	return &FakeVADProvider{Events: make(chan VADEvent, 64)}
}

func (p *FakeVADProvider) Name() string { return "fake-vad" }

func (p *FakeVADProvider) Detect(ctx context.Context, spec types.VADSpec, audio <-chan AudioFrame) (<-chan VADEvent, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Events, nil
}

// Push enqueues an event as if the provider detected it.
func (p *FakeVADProvider) Push(ev VADEvent) {
	p.Events <- ev
}

// FakeRoomClient records every call it receives and replays a scripted
// sequence of RoomParticipantEvent on CreateSIPParticipant, letting a test
// drive the dialer through answered/busy/no-answer/timeout scenarios
// without a real room server.
type FakeRoomClient struct {
	Events        []RoomParticipantEvent
	Err           error
	TransferErr   error
	DeleteErr     error
	LastRequest   CreateSIPParticipantRequest
	TransferredTo string
	DeletedRoom   string
}

func (c *FakeRoomClient) CreateSIPParticipant(ctx context.Context, req CreateSIPParticipantRequest) (<-chan RoomParticipantEvent, error) {
	c.LastRequest = req
	if c.Err != nil {
		return nil, c.Err
	}
	ch := make(chan RoomParticipantEvent, len(c.Events)+1)
	for _, ev := range c.Events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (c *FakeRoomClient) TransferSIPParticipant(ctx context.Context, roomName, identity, transferTo string) error {
	if c.TransferErr != nil {
		return c.TransferErr
	}
	c.TransferredTo = transferTo
	return nil
}

func (c *FakeRoomClient) DeleteRoom(ctx context.Context, roomName string) error {
	if c.DeleteErr != nil {
		return c.DeleteErr
	}
	c.DeletedRoom = roomName
	return nil
}

// FakeControlPlaneClient lets a test push types.Job values and inspect
// every register/status/outcome call the dispatcher makes.
type FakeControlPlaneClient struct {
	mu sync.Mutex

	RegisterErr error
	JobsErr     error

	jobs     chan types.Job
	registrations int
	statuses      []statusCall
	outcomes      []types.JobOutcome
}

type statusCall struct {
	JobID string
	State string
}

// NewFakeControlPlaneClient returns a client whose Jobs channel a test
// can push onto with PushJob.
func NewFakeControlPlaneClient() *FakeControlPlaneClient {
	return &FakeControlPlaneClient{jobs: make(chan types.Job, 16)}
}

func (c *FakeControlPlaneClient) RegisterWorker(ctx context.Context, name string, capabilities []string) error {
	c.mu.Lock()
	c.registrations++
	c.mu.Unlock()
	if c.RegisterErr != nil {
		return c.RegisterErr
	}
	return nil
}

func (c *FakeControlPlaneClient) Jobs(ctx context.Context) (<-chan types.Job, error) {
	if c.JobsErr != nil {
		return nil, c.JobsErr
	}
	return c.jobs, nil
}

func (c *FakeControlPlaneClient) ReportJobStatus(ctx context.Context, jobID, state string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, statusCall{JobID: jobID, State: state})
	return nil
}

func (c *FakeControlPlaneClient) ReportJobOutcome(ctx context.Context, outcome types.JobOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, outcome)
	return nil
}

// PushJob delivers job as if the control plane had assigned it.
func (c *FakeControlPlaneClient) PushJob(job types.Job) {
	c.jobs <- job
}

func (c *FakeControlPlaneClient) Registrations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registrations
}

func (c *FakeControlPlaneClient) Outcomes() []types.JobOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.JobOutcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}
