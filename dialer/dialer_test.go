package dialer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voiceagent/runtime/config"
	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/types"
)

func TestDialer_AnsweredCall(t *testing.T) {
	room := &ports.FakeRoomClient{
		Events: []ports.RoomParticipantEvent{
			{Kind: ports.RoomParticipantSIPStatus, SIPStatusCode: 180, SIPStatusReason: "ringing"},
			{Kind: ports.RoomParticipantJoined, Participant: types.Participant{Identity: "phone_user"}},
		},
	}
	d := New(room, config.SIPConfig{DialTimeout: time.Second}, zaptest.NewLogger(t))

	p, err := d.Dial(context.Background(), "trunk-1", "+15551234567", "room-1")
	require.NoError(t, err)
	assert.Equal(t, "phone_user", p.Identity)
	assert.Equal(t, "room-1", room.LastRequest.RoomName)
	assert.True(t, room.LastRequest.WaitUntilAnswered)
}

func TestDialer_BusyReturnsDialError(t *testing.T) {
	room := &ports.FakeRoomClient{
		Events: []ports.RoomParticipantEvent{
			{Kind: ports.RoomParticipantSIPStatus, SIPStatusCode: 486, SIPStatusReason: "busy here"},
		},
	}
	d := New(room, config.SIPConfig{DialTimeout: time.Second}, zaptest.NewLogger(t))

	_, err := d.Dial(context.Background(), "trunk-1", "+15551234567", "room-1")
	require.Error(t, err)

	var dialErr *DialError
	require.ErrorAs(t, err, &dialErr)
	assert.Equal(t, 486, dialErr.StatusCode)
	assert.False(t, dialErr.Retryable())
}

func TestDialer_ServerErrorIsRetryable(t *testing.T) {
	room := &ports.FakeRoomClient{
		Events: []ports.RoomParticipantEvent{
			{Kind: ports.RoomParticipantSIPStatus, SIPStatusCode: 503, SIPStatusReason: "service unavailable"},
		},
	}
	d := New(room, config.SIPConfig{}, zaptest.NewLogger(t))

	_, err := d.Dial(context.Background(), "trunk-1", "+15551234567", "room-1")
	var dialErr *DialError
	require.ErrorAs(t, err, &dialErr)
	assert.True(t, dialErr.Retryable())
}

func TestDialer_ContextCancelledWhileWaiting(t *testing.T) {
	blockForever := make(chan ports.RoomParticipantEvent)
	room := &blockingRoomClient{ch: blockForever}
	d := New(room, config.SIPConfig{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dial(ctx, "trunk-1", "+15551234567", "room-1")
	require.Error(t, err)
	var dialErr *DialError
	require.ErrorAs(t, err, &dialErr)
}

func TestDialer_DisconnectBeforeAnswerIsDialError(t *testing.T) {
	room := &ports.FakeRoomClient{
		Events: []ports.RoomParticipantEvent{
			{Kind: ports.RoomParticipantDisconnect},
		},
	}
	d := New(room, config.SIPConfig{}, zaptest.NewLogger(t))

	_, err := d.Dial(context.Background(), "trunk-1", "+15551234567", "room-1")
	require.Error(t, err)
}

// blockingRoomClient never produces an event, for exercising ctx
// cancellation while Dial is waiting.
type blockingRoomClient struct {
	ch chan ports.RoomParticipantEvent
}

func (b *blockingRoomClient) CreateSIPParticipant(ctx context.Context, req ports.CreateSIPParticipantRequest) (<-chan ports.RoomParticipantEvent, error) {
	return b.ch, nil
}

func (b *blockingRoomClient) TransferSIPParticipant(ctx context.Context, roomName, identity, transferTo string) error {
	return nil
}

func (b *blockingRoomClient) DeleteRoom(ctx context.Context, roomName string) error {
	return nil
}
