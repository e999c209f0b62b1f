package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/types"
)

// DialInfo carries the per-call context the built-in tools need, recovered
// from original_source's OutboundCaller.dial_info (SPEC_FULL.md §4.5). It
// is rebuilt fresh for every job from that job's JobMetadata, never shared
// across calls, since transferTo/voicemail handling are per-dial.
type DialInfo struct {
	PhoneNumber                string
	TransferTo                 string
	VoicemailDetection         bool
	VoicemailHangupImmediately bool
	VoicemailMessage           string
}

// SessionController is the subset of a session's lifecycle a built-in tool
// is allowed to drive. It is declared here, not imported from package
// session, because session already imports tools for Deps.Tools/Executor;
// the concrete implementation (*session.Session, or a lazily-bound
// adapter for it) is supplied by the dispatcher when it builds a job's
// tool registry.
type SessionController interface {
	// ParticipantLeft reports that the caller is gone from this session's
	// point of view (spec.md §4.5 transferCall: the SIP leg is handed off).
	ParticipantLeft()
	// EndImmediately tears the session down right away with reason.
	EndImmediately(reason types.JobOutcomeReason)
	// EndAfterCurrentUtterance defers ending the call until the turn in
	// flight finishes speaking.
	EndAfterCurrentUtterance(reason types.JobOutcomeReason)
}

// NoopSessionController discards every lifecycle call. It exists so a
// tool registry can be probed for registration errors before any session
// exists to control (cmd/voiceagent's startup validation).
type NoopSessionController struct{}

func (NoopSessionController) ParticipantLeft() {}

func (NoopSessionController) EndImmediately(types.JobOutcomeReason) {}

func (NoopSessionController) EndAfterCurrentUtterance(types.JobOutcomeReason) {}

// textResult wraps a plain string as the JSON result content a ToolFunc
// returns, matching how the original's function tools return a sentence
// of speakable text rather than structured data.
func textResult(s string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"message": s})
	return b
}

// BuiltinRegistrations returns the always-available tools (transferCall,
// endCall, detectedAnsweringMachine), ported from OutboundCaller's
// transfer_call/end_call/detected_answering_machine (SPEC_FULL.md §4.5).
// room/roomName/participantIdentity address the specific SIP leg this job
// dialed; ctrl drives that job's session lifecycle.
func BuiltinRegistrations(dial DialInfo, room ports.RoomClient, roomName, participantIdentity string, ctrl SessionController, logger *zap.Logger) []Registration {
	return []Registration{
		transferCallTool(dial, room, roomName, participantIdentity, ctrl, logger),
		endCallTool(ctrl, logger),
		detectedAnsweringMachineTool(dial, ctrl, logger),
	}
}

// transferCallTool instructs the media server to transfer the SIP
// participant to dial.TransferTo (spec.md §4.5). On success it reports the
// participant as gone, since the session's leg of the call is over once
// the room hands it off; on failure it returns a structured error so the
// LLM apologizes on its next round instead of the call silently continuing
// as if nothing happened.
func transferCallTool(dial DialInfo, room ports.RoomClient, roomName, participantIdentity string, ctrl SessionController, logger *zap.Logger) Registration {
	spec := types.ToolSpec{
		Name:            "transferCall",
		Description:     "Transfer the call to a human operator or another configured number.",
		ParameterSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}
	return Registration{
		Spec: spec,
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			if dial.TransferTo == "" {
				logger.Warn("transfer requested but no transfer number configured")
				return textResult("I apologize, but I don't have a transfer number configured. Let me see how else I can help you."), nil
			}
			if err := room.TransferSIPParticipant(ctx, roomName, participantIdentity, dial.TransferTo); err != nil {
				logger.Error("sip transfer failed", zap.String("to", dial.TransferTo), zap.Error(err))
				return nil, types.NewError(types.ErrSIPFailure, "sip transfer failed").WithCause(err).WithComponent("room")
			}
			logger.Info("call transferred", zap.String("to", dial.TransferTo))
			ctrl.ParticipantLeft()
			return textResult(fmt.Sprintf("I'm transferring you to %s. Please hold on.", dial.TransferTo)), nil
		},
	}
}

// endCallTool lets the agent end the call gracefully: it waits for the
// current TTS utterance (the goodbye this same LLM round will speak) to
// finish before the session actually tears down (spec.md §4.5).
func endCallTool(ctrl SessionController, logger *zap.Logger) Registration {
	spec := types.ToolSpec{
		Name:            "endCall",
		Description:     "End the call gracefully.",
		ParameterSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}
	return Registration{
		Spec: spec,
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			logger.Info("call termination requested by agent")
			ctrl.EndAfterCurrentUtterance(types.OutcomeNormal)
			return textResult("Thank you for your time. Have a great day! Goodbye."), nil
		},
	}
}

// detectedAnsweringMachineTool immediately triggers Ending (spec.md §4.5):
// no further TTS plays for this session once it fires, regardless of the
// speakable text returned here, since the session tears down before the
// tool result's next LLM round could ever be spoken.
func detectedAnsweringMachineTool(dial DialInfo, ctrl SessionController, logger *zap.Logger) Registration {
	spec := types.ToolSpec{
		Name:            "detectedAnsweringMachine",
		Description:     "Handle answering machine detection for outbound calls.",
		ParameterSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}
	return Registration{
		Spec: spec,
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			logger.Info("answering machine detected")
			ctrl.EndImmediately(types.OutcomeNormal)

			if dial.VoicemailHangupImmediately {
				return textResult("Answering machine detected, hanging up as configured."), nil
			}
			if dial.VoicemailMessage != "" {
				return textResult(dial.VoicemailMessage), nil
			}
			return textResult("Hello, this is a call from the assistant. Please call us back when you get a chance. Thank you."), nil
		},
	}
}
