// Package controlplane is the concrete production adapter for
// ports.ControlPlaneClient and ports.RoomClient. spec.md §6 specifies the
// room-server control interface abstractly (RegisterWorker,
// JobAssignment, JobStatus, CreateSIPParticipant,
// TransferSIPParticipant, DeleteRoom) without naming a wire protocol, and
// no room-server SDK appears anywhere in the retrieved example pack.
// This package fills that gap with a JSON-over-WebSocket protocol for
// the worker-registration/job-assignment half and plain JSON-over-HTTPS
// for the per-room operations, reusing the exact WebSocket and HTTP
// idioms already established in providers/deepgram.go,
// providers/elevenlabs.go and providers/openai.go rather than inventing
// a third style.
package controlplane
