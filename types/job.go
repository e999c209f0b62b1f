package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// e164Pattern is a permissive E.164 validator: a leading '+' followed by
// 8-15 digits.
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// IsE164 reports whether s looks like an E.164 phone number.
func IsE164(s string) bool {
	return e164Pattern.MatchString(s)
}

// JobMetadata is the parsed form of the JSON blob bound to a Job
// (spec.md §6: phone_number, transfer_to, customer_name, agent_config_id,
// custom_fields).
type JobMetadata struct {
	PhoneNumber   string         `json:"phone_number"`
	TransferTo    string         `json:"transfer_to,omitempty"`
	CustomerName  string         `json:"customer_name,omitempty"`
	AgentConfigID string         `json:"agent_config_id,omitempty"`
	CustomFields  map[string]any `json:"custom_fields,omitempty"`

	// VoicemailDetection and friends govern detectedAnsweringMachine's
	// behavior; recovered from original_source's outbound_agent.py where
	// the distilled spec.md's JSON sample omitted them (SPEC_FULL.md §3).
	VoicemailDetection         bool    `json:"voicemail_detection,omitempty"`
	VoicemailHangupImmediately bool    `json:"voicemail_hangup_immediately,omitempty"`
	VoicemailMessage           *string `json:"voicemail_message,omitempty"`
}

// ParseJobMetadata parses the job metadata JSON blob and validates the
// required phone_number field. Invalid JSON or a missing/malformed number
// makes the job immediately rejectable with a fatalError outcome
// (spec.md §6).
func ParseJobMetadata(raw string) (JobMetadata, error) {
	var md JobMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return JobMetadata{}, NewError(ErrInvalidRequest, "malformed job metadata JSON").WithCause(err).WithFatal(true)
	}
	if md.PhoneNumber == "" {
		return JobMetadata{}, NewError(ErrInvalidRequest, "job metadata missing phone_number").WithFatal(true)
	}
	if !IsE164(md.PhoneNumber) {
		return JobMetadata{}, NewError(ErrInvalidRequest, fmt.Sprintf("phone_number %q is not E.164", md.PhoneNumber)).WithFatal(true)
	}
	if md.TransferTo != "" && !IsE164(md.TransferTo) {
		return JobMetadata{}, NewError(ErrInvalidRequest, fmt.Sprintf("transfer_to %q is not E.164", md.TransferTo)).WithFatal(true)
	}
	return md, nil
}

// Job is the immutable unit of dispatch received from the room-server
// control plane (spec.md §3). Its lifecycle is created-by-dispatcher,
// destroyed-when-session-ends.
type Job struct {
	ID            string
	RoomName      string
	Metadata      JobMetadata
	DispatchedAt  time.Time
	RawMetadataJS string
}

// JobOutcomeReason is the terminal reason reported to the control plane
// when a session (or a rejected job) exits (spec.md §4.1).
type JobOutcomeReason string

const (
	OutcomeNormal          JobOutcomeReason = "normal"
	OutcomeParticipantLeft JobOutcomeReason = "participantLeft"
	OutcomeTimeout         JobOutcomeReason = "timeout"
	OutcomeFatalError      JobOutcomeReason = "fatalError"
)

// JobOutcome is reported to the control plane when a session ends.
type JobOutcome struct {
	JobID       string
	CompletedAt time.Time
	Reason      JobOutcomeReason
	Detail      string
}
