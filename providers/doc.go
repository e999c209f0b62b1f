// Package providers contains the concrete vendor adapters that implement
// the ports package's STT/LLM/TTS/VAD interfaces against real speech and
// language services. Each adapter is a thin translation layer: it owns the
// wire protocol and auth for one vendor and nothing else, so the session
// orchestrator never has to know which vendor it is talking to.
//
// Grounded on llm/providers/openaicompat/provider.go's SSE-streaming chat
// idiom and llm/speech/{deepgram,elevenlabs}.go's config/auth conventions,
// generalized from that package's REST-shaped llm.* type system onto this
// module's ports.LLMProvider/STTProvider/TTSProvider/VADProvider surface,
// and from agent/streaming/ws_adapter.go's WebSocket-connection idiom for
// the two providers (Deepgram, ElevenLabs) that need a persistent duplex
// stream rather than a single request/response.
package providers
