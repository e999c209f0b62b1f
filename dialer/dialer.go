package dialer

import (
	"context"

	"go.uber.org/zap"

	"github.com/voiceagent/runtime/config"
	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/types"
)

// provisionalSIPCodes are 1xx responses the dialer keeps waiting through;
// anything else reported on the status channel is terminal.
var provisionalSIPCodes = map[int]bool{100: true, 180: true, 183: true}

const defaultParticipantIdentity = "phone_user"

// Dialer issues outbound SIP calls through a room server's control plane.
type Dialer struct {
	room ports.RoomClient
	cfg  config.SIPConfig
	log  *zap.Logger
}

// New constructs a Dialer against room using cfg's trunk/timeout defaults.
func New(room ports.RoomClient, cfg config.SIPConfig, logger *zap.Logger) *Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{room: room, cfg: cfg, log: logger.With(zap.String("component", "dialer"))}
}

// Dial asks the room server to create a SIP participant for calleeE164 in
// roomName over trunkID, then blocks until the callee answers, a
// terminal SIP status is reported, or ctx is cancelled. It never retries
// internally (spec.md §4.2).
func (d *Dialer) Dial(ctx context.Context, trunkID, calleeE164, roomName string) (types.Participant, error) {
	if d.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DialTimeout)
		defer cancel()
	}

	d.log.Info("dialing",
		zap.String("trunk_id", trunkID), zap.String("callee", calleeE164), zap.String("room", roomName))

	events, err := d.room.CreateSIPParticipant(ctx, ports.CreateSIPParticipantRequest{
		RoomName:            roomName,
		TrunkID:             trunkID,
		CalleeE164:          calleeE164,
		ParticipantIdentity: defaultParticipantIdentity,
		WaitUntilAnswered:   true,
	})
	if err != nil {
		return types.Participant{}, &DialError{Reason: "create_sip_participant request failed", Cause: err}
	}

	for {
		select {
		case <-ctx.Done():
			return types.Participant{}, &DialError{Reason: "dial cancelled or timed out", Cause: ctx.Err()}

		case ev, ok := <-events:
			if !ok {
				return types.Participant{}, &DialError{Reason: "room closed the dial channel with no terminal status"}
			}
			switch ev.Kind {
			case ports.RoomParticipantJoined:
				d.log.Info("call answered", zap.String("identity", ev.Participant.Identity))
				return ev.Participant, nil

			case ports.RoomParticipantSIPStatus:
				if provisionalSIPCodes[ev.SIPStatusCode] {
					continue
				}
				d.log.Warn("dial ended with terminal sip status",
					zap.Int("status", ev.SIPStatusCode), zap.String("reason", ev.SIPStatusReason))
				return types.Participant{}, &DialError{StatusCode: ev.SIPStatusCode, Reason: ev.SIPStatusReason}

			case ports.RoomParticipantDisconnect:
				return types.Participant{}, &DialError{Reason: "participant disconnected before answering"}
			}
		}
	}
}
