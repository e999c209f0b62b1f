package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voiceagent/runtime/config"
	"github.com/voiceagent/runtime/dialer"
	"github.com/voiceagent/runtime/metrics"
	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/session"
	"github.com/voiceagent/runtime/tools"
	"github.com/voiceagent/runtime/types"
)

var testNamespaceSeq int64

func namespaceForTest() string {
	testNamespaceSeq++
	return fmt.Sprintf("dispatcher_test_%d", testNamespaceSeq)
}

func testSessionDeps(t *testing.T) session.Deps {
	t.Helper()
	registry := tools.NewDefaultRegistry(zaptest.NewLogger(t))
	return session.Deps{
		STT: &ports.FakeSTTProvider{Stream: ports.NewFakeSTTStream()},
		LLM: &ports.FakeLLMProvider{Script: func(messages []types.ChatMessage) []ports.LLMToken {
			return []ports.LLMToken{{Text: "hello", Done: true}}
		}},
		TTS:      &ports.FakeTTSProvider{},
		VAD:      ports.NewFakeVADProvider(),
		Tools:    registry,
		Executor: tools.NewDefaultExecutor(registry, zaptest.NewLogger(t)),
		Metrics:  metrics.NewCollector(namespaceForTest(), zaptest.NewLogger(t)),
		Logger:   zaptest.NewLogger(t),
	}
}

func testToolsFactory(t *testing.T, room ports.RoomClient) func(tools.DialInfo, tools.SessionController, string, string) (tools.Registry, tools.Executor, error) {
	t.Helper()
	return func(dial tools.DialInfo, ctrl tools.SessionController, roomName, participantIdentity string) (tools.Registry, tools.Executor, error) {
		registry := tools.NewDefaultRegistry(zaptest.NewLogger(t))
		for _, reg := range tools.BuiltinRegistrations(dial, room, roomName, participantIdentity, ctrl, zaptest.NewLogger(t)) {
			if err := registry.Register(reg); err != nil {
				return nil, nil, err
			}
		}
		return registry, tools.NewDefaultExecutor(registry, zaptest.NewLogger(t)), nil
	}
}

func testDispatcher(t *testing.T, room ports.RoomClient, control *ports.FakeControlPlaneClient, maxJobs int) *Dispatcher {
	t.Helper()
	d := New(
		config.DispatcherConfig{MaxConcurrentJobs: maxJobs, DrainTimeout: 2 * time.Second},
		config.SIPConfig{TrunkID: "trunk-1"},
		types.AgentConfig{
			Instructions: "be helpful",
			STT:          types.STTSpec{EndpointingMs: 20 * time.Millisecond},
			InterruptionThresholdMs: 20,
			WaitForGreeting:         true,
		},
		Deps{
			Control:      control,
			Room:         room,
			Dialer:       dialer.New(room, config.SIPConfig{TrunkID: "trunk-1"}, zaptest.NewLogger(t)),
			SessionDeps:  testSessionDeps(t),
			ToolsFactory: testToolsFactory(t, room),
			Metrics:      metrics.NewCollector(namespaceForTest(), zaptest.NewLogger(t)),
			Logger:       zaptest.NewLogger(t),
		},
	)
	return d
}

func validJobMetadata(t *testing.T) string {
	t.Helper()
	raw, err := json.Marshal(types.JobMetadata{PhoneNumber: "+15551234567"})
	require.NoError(t, err)
	return string(raw)
}

func TestDispatcher_RunsJobToNormalCompletion(t *testing.T) {
	room := &ports.FakeRoomClient{Events: []ports.RoomParticipantEvent{
		{Kind: ports.RoomParticipantJoined, Participant: types.Participant{Identity: "phone_user"}},
	}}
	control := ports.NewFakeControlPlaneClient()

	d := testDispatcher(t, room, control, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return control.Registrations() == 1 }, time.Second, 5*time.Millisecond)

	control.PushJob(types.Job{ID: "job-1", RoomName: "room-1", RawMetadataJS: validJobMetadata(t)})

	// The call connects and the session runs indefinitely (nothing hangs
	// up on its own); ending the worker's ctx is what makes the call, and
	// the job, wind down.
	require.Eventually(t, func() bool { return d.ActiveSessions() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "room-1", room.LastRequest.RoomName)

	cancel()

	require.Eventually(t, func() bool {
		for _, o := range control.Outcomes() {
			if o.JobID == "job-1" {
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond)

	outcomes := control.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, types.OutcomeNormal, outcomes[0].Reason)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("dispatcher did not shut down after ctx cancellation")
	}
}

func TestDispatcher_RejectsMalformedJobWithoutDialing(t *testing.T) {
	room := &ports.FakeRoomClient{}
	control := ports.NewFakeControlPlaneClient()

	d := testDispatcher(t, room, control, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = d.Start(ctx) }()

	require.Eventually(t, func() bool { return control.Registrations() == 1 }, time.Second, 5*time.Millisecond)

	control.PushJob(types.Job{ID: "job-bad", RoomName: "room-bad", RawMetadataJS: `{"phone_number":"not-e164"}`})

	require.Eventually(t, func() bool { return len(control.Outcomes()) == 1 }, time.Second, 5*time.Millisecond)

	outcomes := control.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, "job-bad", outcomes[0].JobID)
	assert.Equal(t, types.OutcomeFatalError, outcomes[0].Reason)
	assert.Empty(t, room.LastRequest.RoomName, "dialer must never be invoked for a malformed job")
}

// blockingRoomClient never emits a terminal event, so Dialer.Dial blocks
// on it until its context is cancelled. Used to keep a job's goroutine
// occupying the dispatcher's only pool slot for the capacity test below.
type blockingRoomClient struct {
	ch chan ports.RoomParticipantEvent
}

func newBlockingRoomClient() *blockingRoomClient {
	return &blockingRoomClient{ch: make(chan ports.RoomParticipantEvent)}
}

func (b *blockingRoomClient) CreateSIPParticipant(ctx context.Context, req ports.CreateSIPParticipantRequest) (<-chan ports.RoomParticipantEvent, error) {
	return b.ch, nil
}

func (b *blockingRoomClient) TransferSIPParticipant(ctx context.Context, roomName, identity, transferTo string) error {
	return nil
}

func (b *blockingRoomClient) DeleteRoom(ctx context.Context, roomName string) error { return nil }

func TestDispatcher_RejectsJobAtCapacity(t *testing.T) {
	blocking := newBlockingRoomClient()
	control := ports.NewFakeControlPlaneClient()

	d := testDispatcher(t, blocking, control, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = d.Start(ctx) }()

	require.Eventually(t, func() bool { return control.Registrations() == 1 }, time.Second, 5*time.Millisecond)

	control.PushJob(types.Job{ID: "job-first", RoomName: "room-first", RawMetadataJS: validJobMetadata(t)})
	require.Eventually(t, func() bool { return d.pool.Stats().Active == 1 }, time.Second, 5*time.Millisecond)

	control.PushJob(types.Job{ID: "job-second", RoomName: "room-second", RawMetadataJS: validJobMetadata(t)})

	require.Eventually(t, func() bool {
		for _, o := range control.Outcomes() {
			if o.JobID == "job-second" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	var second types.JobOutcome
	for _, o := range control.Outcomes() {
		if o.JobID == "job-second" {
			second = o
		}
	}
	assert.Equal(t, types.OutcomeFatalError, second.Reason)
}

// TestDispatcher_Start_StopsOnFatalRegisterError asserts spec.md §6's exit
// code 2 is actually reachable: a fatal (non-retryable) RegisterWorker
// error must stop Start from looping forever and must come back out as
// the same error, so cmd/voiceagent/main.go's authFailure check can see
// it.
func TestDispatcher_Start_StopsOnFatalRegisterError(t *testing.T) {
	room := &ports.FakeRoomClient{}
	control := ports.NewFakeControlPlaneClient()
	control.RegisterErr = types.NewError(types.ErrAuthentication, "bad credentials").WithFatal(true)

	d := testDispatcher(t, room, control, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, types.IsFatal(err))
		assert.Equal(t, types.ErrAuthentication, types.ErrorCodeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after a fatal RegisterWorker error")
	}
}

// TestDispatcher_Start_RetriesTransientRegisterError asserts a transient
// (non-fatal) RegisterWorker error is retried rather than returned
// immediately, distinguishing it from the fatal case above.
func TestDispatcher_Start_RetriesTransientRegisterError(t *testing.T) {
	room := &ports.FakeRoomClient{Events: []ports.RoomParticipantEvent{
		{Kind: ports.RoomParticipantJoined, Participant: types.Participant{Identity: "phone_user"}},
	}}
	control := ports.NewFakeControlPlaneClient()
	control.RegisterErr = types.NewError(types.ErrUpstreamError, "connection refused").WithRetryable(true)

	d := testDispatcher(t, room, control, 1)
	d.cfg.ReconnectMinDelay = time.Millisecond
	d.cfg.ReconnectMaxDelay = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return control.Registrations() > 2 }, time.Second, 5*time.Millisecond,
		"a transient error should keep being retried, not returned immediately")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not shut down after ctx cancellation")
	}
}
