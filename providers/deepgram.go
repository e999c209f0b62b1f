package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/voiceagent/runtime/config"
	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/types"
)

const (
	defaultDeepgramBaseURL = "wss://api.deepgram.com"
	defaultDeepgramModel   = "nova-2"
	deepgramSampleRateHz   = 16000
)

// deepgramMessage is the subset of Deepgram's live-transcription response
// shape this adapter cares about. Grounded on llm/speech/deepgram.go's
// config/auth conventions, re-targeted at Deepgram's streaming (not
// pre-recorded) endpoint since ports.STTProvider requires incremental
// partial/final events rather than a single batch transcript.
type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// DeepgramProvider is a ports.STTProvider backed by Deepgram's live
// streaming-transcription WebSocket API.
type DeepgramProvider struct {
	cfg    config.STTConfig
	logger *zap.Logger
}

// NewDeepgramProvider builds a DeepgramProvider from the worker's
// configured STT settings.
func NewDeepgramProvider(cfg config.STTConfig, logger *zap.Logger) *DeepgramProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepgramBaseURL
	}
	return &DeepgramProvider{cfg: cfg, logger: logger.With(zap.String("component", "stt_provider"), zap.String("provider", "deepgram"))}
}

func (p *DeepgramProvider) Name() string { return "deepgram" }

// StartStream dials Deepgram's live-transcription WebSocket and returns an
// STTStream that forwards audio frames and surfaces partial/final
// transcripts as they arrive.
func (p *DeepgramProvider) StartStream(ctx context.Context, spec types.STTSpec) (ports.STTStream, error) {
	model := spec.Model
	if model == "" {
		model = defaultDeepgramModel
	}

	q := url.Values{}
	q.Set("model", model)
	if spec.Language != "" {
		q.Set("language", spec.Language)
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(deepgramSampleRateHz))
	q.Set("interim_results", "true")
	if spec.EndpointingMs > 0 {
		q.Set("endpointing", strconv.FormatInt(spec.EndpointingMs.Milliseconds(), 10))
	}

	dialURL := fmt.Sprintf("%s/v1/listen?%s", p.cfg.BaseURL, q.Encode())

	conn, _, err := websocket.Dial(ctx, dialURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Token " + p.cfg.APIKey}},
	})
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "deepgram dial failed").WithCause(err).WithComponent("deepgram").WithRetryable(true)
	}

	stream := &deepgramStream{
		conn:   conn,
		events: make(chan ports.STTEvent, 16),
		logger: p.logger,
	}
	stream.readCtx, stream.cancel = context.WithCancel(ctx)
	go stream.readLoop()
	return stream, nil
}

// deepgramStream implements ports.STTStream over one live Deepgram
// WebSocket connection.
type deepgramStream struct {
	conn   *websocket.Conn
	events chan ports.STTEvent
	logger *zap.Logger

	readCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// SendAudio writes one PCM frame to Deepgram as a binary WebSocket message.
// Per spec.md's non-blocking requirement, writes use the stream's own
// cancellable context so a stalled socket cannot wedge the caller forever.
func (s *deepgramStream) SendAudio(frame ports.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("deepgram stream closed")
	}
	return s.conn.Write(s.readCtx, websocket.MessageBinary, frame.Data)
}

func (s *deepgramStream) Events() <-chan ports.STTEvent { return s.events }

func (s *deepgramStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "closing")
}

func (s *deepgramStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.Read(s.readCtx)
		if err != nil {
			if s.readCtx.Err() == nil {
				s.logger.Warn("deepgram read failed", zap.Error(err))
			}
			return
		}

		var msg deepgramMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("deepgram message decode failed", zap.Error(err))
			continue
		}

		ev, ok := translateDeepgramMessage(msg)
		if !ok {
			continue
		}
		select {
		case <-s.readCtx.Done():
			return
		case s.events <- ev:
		}
	}
}

func translateDeepgramMessage(msg deepgramMessage) (ports.STTEvent, bool) {
	now := time.Now()
	switch msg.Type {
	case "SpeechStarted":
		return ports.STTEvent{Kind: ports.STTEventSpeechStarted, Timestamp: now}, true
	case "UtteranceEnd":
		return ports.STTEvent{Kind: ports.STTEventSpeechEnded, Timestamp: now}, true
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return ports.STTEvent{}, false
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return ports.STTEvent{}, false
		}
		kind := ports.STTEventPartial
		if msg.IsFinal {
			kind = ports.STTEventFinal
		}
		return ports.STTEvent{Kind: kind, Text: alt.Transcript, Confidence: alt.Confidence, Timestamp: now}, true
	default:
		return ports.STTEvent{}, false
	}
}

var _ ports.STTProvider = (*DeepgramProvider)(nil)
var _ ports.STTStream = (*deepgramStream)(nil)
