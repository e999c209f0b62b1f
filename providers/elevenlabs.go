package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/voiceagent/runtime/config"
	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/types"
)

const (
	defaultElevenLabsBaseURL = "wss://api.elevenlabs.io"
	defaultElevenLabsModel   = "eleven_multilingual_v2"
	defaultElevenLabsVoice   = "21m00Tcm4TlvDq8ikWAM" // Rachel
)

// elevenLabsInboundMessage is what this adapter sends to ElevenLabs' WS
// streaming-input endpoint. Grounded on llm/speech/elevenlabs.go's
// config/auth conventions, re-targeted at the streaming-input endpoint
// since ports.TTSProvider requires incremental synthesis, not a single
// one-shot request.
type elevenLabsInboundMessage struct {
	Text          string          `json:"text"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
	XIAPIKey      string          `json:"xi_api_key,omitempty"`
	Flush         bool            `json:"flush,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsOutboundMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error,omitempty"`
}

// ElevenLabsProvider is a ports.TTSProvider backed by ElevenLabs' WebSocket
// streaming-input text-to-speech API.
type ElevenLabsProvider struct {
	cfg    config.TTSConfig
	logger *zap.Logger
}

// NewElevenLabsProvider builds an ElevenLabsProvider from the worker's
// configured TTS settings.
func NewElevenLabsProvider(cfg config.TTSConfig, logger *zap.Logger) *ElevenLabsProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultElevenLabsBaseURL
	}
	return &ElevenLabsProvider{cfg: cfg, logger: logger.With(zap.String("component", "tts_provider"), zap.String("provider", "elevenlabs"))}
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

// SynthesizeStream dials ElevenLabs' streaming-input WebSocket, forwards
// each text segment pushed onto text as it arrives, and flushes + closes
// the send side once text is drained, per spec.md §4.9's incremental
// synthesis requirement (the Session can start speaking before the LLM
// turn is complete).
func (p *ElevenLabsProvider) SynthesizeStream(ctx context.Context, spec types.TTSSpec, text <-chan string) (ports.TTSStream, error) {
	model := spec.Model
	if model == "" {
		model = defaultElevenLabsModel
	}
	voiceID := spec.VoiceID
	if voiceID == "" {
		voiceID = defaultElevenLabsVoice
	}

	q := url.Values{}
	q.Set("model_id", model)
	dialURL := fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.cfg.BaseURL, voiceID, q.Encode())

	conn, _, err := websocket.Dial(ctx, dialURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"xi-api-key": []string{p.cfg.APIKey}},
	})
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "elevenlabs dial failed").WithCause(err).WithComponent("elevenlabs").WithRetryable(true)
	}

	settings := &elevenLabsVoiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if spec.Speed != 0 {
		settings.Stability = spec.Speed
	}

	init := elevenLabsInboundMessage{Text: " ", VoiceSettings: settings, XIAPIKey: p.cfg.APIKey}
	payload, _ := json.Marshal(init)
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "init failed")
		return nil, types.NewError(types.ErrUpstreamError, "elevenlabs init failed").WithCause(err).WithComponent("elevenlabs").WithRetryable(true)
	}

	stream := &elevenLabsStream{
		conn:   conn,
		audio:  make(chan ports.TTSAudioChunk, 16),
		logger: p.logger,
	}
	stream.readCtx, stream.cancel = context.WithCancel(ctx)
	go stream.readLoop()
	go stream.writeLoop(text)
	return stream, nil
}

// elevenLabsStream implements ports.TTSStream over one ElevenLabs
// streaming-input WebSocket connection.
type elevenLabsStream struct {
	conn   *websocket.Conn
	audio  chan ports.TTSAudioChunk
	logger *zap.Logger

	readCtx context.Context
	cancel  context.CancelFunc

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

func (s *elevenLabsStream) Audio() <-chan ports.TTSAudioChunk { return s.audio }

func (s *elevenLabsStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "closing")
}

// writeLoop forwards each text segment as it is pushed, then sends a flush
// (empty-text) message once the channel is drained so ElevenLabs emits its
// final audio chunk and closes out the utterance.
func (s *elevenLabsStream) writeLoop(text <-chan string) {
	for segment := range text {
		msg := elevenLabsInboundMessage{Text: segment + " "}
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		s.writeMu.Lock()
		err = s.conn.Write(s.readCtx, websocket.MessageText, payload)
		s.writeMu.Unlock()
		if err != nil {
			s.logger.Warn("elevenlabs write failed", zap.Error(err))
			return
		}
	}

	flush := elevenLabsInboundMessage{Text: ""}
	payload, _ := json.Marshal(flush)
	s.writeMu.Lock()
	_ = s.conn.Write(s.readCtx, websocket.MessageText, payload)
	s.writeMu.Unlock()
}

func (s *elevenLabsStream) readLoop() {
	defer close(s.audio)
	for {
		_, data, err := s.conn.Read(s.readCtx)
		if err != nil {
			if s.readCtx.Err() == nil {
				s.logger.Warn("elevenlabs read failed", zap.Error(err))
			}
			return
		}

		var msg elevenLabsOutboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("elevenlabs message decode failed", zap.Error(err))
			continue
		}
		if msg.Error != "" {
			s.logger.Warn("elevenlabs reported error", zap.String("error", msg.Error))
			continue
		}
		if msg.Audio == "" && !msg.IsFinal {
			continue
		}

		var raw []byte
		if msg.Audio != "" {
			decoded, decErr := base64.StdEncoding.DecodeString(msg.Audio)
			if decErr != nil {
				s.logger.Warn("elevenlabs audio decode failed", zap.Error(decErr))
				continue
			}
			raw = decoded
		}

		chunk := ports.TTSAudioChunk{Data: raw, IsFinal: msg.IsFinal}
		select {
		case <-s.readCtx.Done():
			return
		case s.audio <- chunk:
		}
		if msg.IsFinal {
			return
		}
	}
}

var _ ports.TTSProvider = (*ElevenLabsProvider)(nil)
var _ ports.TTSStream = (*elevenLabsStream)(nil)
