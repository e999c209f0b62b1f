package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/voiceagent/runtime/ports"
)

// forwardAudio drains audioIn and fans each frame out to the STT stream
// and the VAD input channel. Both are best-effort: a full vadAudio
// channel drops the oldest frame rather than blocking the forwarder,
// matching the inbound-audio backpressure policy end to end (spec.md
// §4.9). SendAudio errors are logged, not fatal — a transient send
// failure on one frame shouldn't tear down the call.
func (s *Session) forwardAudio(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.audioIn:
			if err := s.sttStream.SendAudio(frame); err != nil {
				s.log.Debug("stt send audio failed", zap.Error(err))
			}
			select {
			case s.vadAudio <- frame:
			default:
				select {
				case <-s.vadAudio:
				default:
				}
				select {
				case s.vadAudio <- frame:
				default:
				}
			}
		}
	}
}

func (s *Session) consumeSTT(ctx context.Context, stream ports.STTStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			s.enqueue(event{kind: evSTT, stt: ev})
		}
	}
}

func (s *Session) consumeVAD(ctx context.Context, vadEvents <-chan ports.VADEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-vadEvents:
			if !ok {
				return
			}
			s.enqueue(event{kind: evVAD, vad: ev})
		}
	}
}

// tickLoop drives turndetector.Detector.Tick on a fixed cadence so the
// hangover timer and sustained-barge-in check are evaluated even when no
// new VAD/STT event arrives to trigger them.
func (s *Session) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueue(event{kind: evTick})
		}
	}
}
