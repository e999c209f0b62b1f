package types

import "time"

// ParticipantKind distinguishes the local agent participant from the
// remote SIP participant (spec.md §3).
type ParticipantKind string

const (
	ParticipantLocal     ParticipantKind = "local"
	ParticipantSIPRemote ParticipantKind = "sipRemote"
)

// Participant is a room participant handle. AudioTrack is an opaque
// provider-specific handle (the room/media server owns transcoding and
// track plumbing; spec.md §1 Non-goals).
type Participant struct {
	Identity   string
	Kind       ParticipantKind
	JoinedAt   time.Time
	AudioTrack any
}
