package ports

import (
	"context"
	"time"

	"github.com/voiceagent/runtime/types"
)

// RoomParticipantEventKind distinguishes the events a room emits about its
// SIP participant while the dialer waits for an answer.
type RoomParticipantEventKind string

const (
	RoomParticipantJoined     RoomParticipantEventKind = "joined"
	RoomParticipantSIPStatus  RoomParticipantEventKind = "sip_status"
	RoomParticipantDisconnect RoomParticipantEventKind = "disconnected"
)

// RoomParticipantEvent is one update about an in-flight SIP dial, emitted
// on the channel returned by RoomClient.CreateSIPParticipant.
// SIPStatusCode/SIPStatusReason are populated only for
// RoomParticipantSIPStatus events (spec.md §4.2: "busy, no-answer,
// failure").
type RoomParticipantEvent struct {
	Kind            RoomParticipantEventKind
	Participant     types.Participant
	SIPStatusCode   int
	SIPStatusReason string
	Timestamp       time.Time
}

// CreateSIPParticipantRequest mirrors the abstract room-server control
// interface's CreateSIPParticipant call (spec.md §6).
type CreateSIPParticipantRequest struct {
	RoomName            string
	TrunkID             string
	CalleeE164          string
	ParticipantIdentity string
	WaitUntilAnswered   bool
}

// RoomClient is the abstract room-server control plane the worker
// dispatcher and outbound dialer speak to (spec.md §4.1, §4.2, §6). Only
// the operations this runtime actually drives are modeled; the room
// server itself is an external collaborator out of scope (spec.md §1
// Non-goals).
type RoomClient interface {
	// CreateSIPParticipant asks the room server to dial out. The returned
	// channel emits status/joined/disconnect events for that one dial
	// attempt until it's closed.
	CreateSIPParticipant(ctx context.Context, req CreateSIPParticipantRequest) (<-chan RoomParticipantEvent, error)
	// TransferSIPParticipant hands the SIP leg off to transferTo (spec.md
	// §6, used by the transferCall built-in tool).
	TransferSIPParticipant(ctx context.Context, roomName, identity, transferTo string) error
	// DeleteRoom tears the room down once a call ends (spec.md §6).
	DeleteRoom(ctx context.Context, roomName string) error
}
