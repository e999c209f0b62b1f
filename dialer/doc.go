// Package dialer implements the Outbound Dialer (spec.md §4.2): it asks
// the room server's control plane to create a SIP participant for a
// callee number and blocks until the call is answered, a terminal SIP
// status arrives, or the caller's context is cancelled.
//
// Grounded on original_source/MARK_I/backend_python/agents/
// outbound_agent.py's entrypoint -> ctx.connect() ->
// ctx.wait_for_participant() -> ctx.api.sip.create_sip_participant(...)
// flow, expressed against the abstract ports.RoomClient interface
// (spec.md §6) rather than a concrete room-server SDK.
package dialer
