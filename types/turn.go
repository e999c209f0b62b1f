package types

import "time"

// TurnRecord is built incrementally during a turn and emitted once
// complete (spec.md §3, §4.8). An incomplete record is never persisted;
// "complete" means it has been emitted on the metrics channel.
type TurnRecord struct {
	SpeechID string `json:"speech_id"`

	UserText      string `json:"user_text"`
	AssistantText string `json:"assistant_text"`

	STTFinalAt      *time.Time `json:"stt_final_at,omitempty"`
	LLMFirstTokenAt *time.Time `json:"llm_first_token_at,omitempty"`
	LLMDoneAt       *time.Time `json:"llm_done_at,omitempty"`
	TTSFirstByteAt  *time.Time `json:"tts_first_byte_at,omitempty"`
	TTSDoneAt       *time.Time `json:"tts_done_at,omitempty"`

	TotalLatencyMs int64 `json:"total_latency_ms,omitempty"`

	// Interrupted and ErrorKind are emitted even when the turn did not
	// complete normally (spec.md §4.8, §8 scenario 5).
	Interrupted bool   `json:"interrupted"`
	ErrorKind   string `json:"error_kind,omitempty"`
}

// Complete reports whether every timing field that the spec requires
// ordered (sttFinalAt ≤ llmFirstTokenAt ≤ ttsFirstByteAt ≤ ttsDoneAt) is
// set (spec.md §8 invariant).
func (t *TurnRecord) Complete() bool {
	return t.STTFinalAt != nil && t.LLMFirstTokenAt != nil &&
		t.LLMDoneAt != nil && t.TTSFirstByteAt != nil && t.TTSDoneAt != nil
}

// ComputeTotalLatency sets TotalLatencyMs = ttsFirstByteAt - sttFinalAt
// (spec.md §4.8) when both fields are present.
func (t *TurnRecord) ComputeTotalLatency() {
	if t.STTFinalAt == nil || t.TTSFirstByteAt == nil {
		return
	}
	t.TotalLatencyMs = t.TTSFirstByteAt.Sub(*t.STTFinalAt).Milliseconds()
}

// SessionOutcome is a session lifecycle event emitted on the metrics
// channel (spec.md §6: sessionStarted / sessionEnded{reason,durationMs,turnCount}).
type SessionOutcome struct {
	SessionID  string           `json:"session_id"`
	JobID      string           `json:"job_id"`
	Reason     JobOutcomeReason `json:"reason"`
	DurationMs int64            `json:"duration_ms"`
	TurnCount  int              `json:"turn_count"`
}
