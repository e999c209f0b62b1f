package providers

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/types"
)

func pcmFrame(amplitude float64, samples int) []byte {
	buf := make([]byte, samples*2)
	sample := int16(amplitude * 32767)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(sample))
	}
	return buf
}

func TestFrameRMS_SilenceIsZero(t *testing.T) {
	assert.Equal(t, float64(0), frameRMS(pcmFrame(0, 160)))
}

func TestFrameRMS_FullScaleIsNearOne(t *testing.T) {
	rms := frameRMS(pcmFrame(1.0, 160))
	assert.InDelta(t, 1.0, rms, 0.01)
}

func TestFrameDuration_UsesSampleRateAndChannels(t *testing.T) {
	frame := ports.AudioFrame{Data: pcmFrame(0, 160), SampleRateHz: 16000, Channels: 1}
	assert.Equal(t, 10*time.Millisecond, frameDuration(frame))
}

func TestFrameDuration_FallsBackWithoutRate(t *testing.T) {
	frame := ports.AudioFrame{Data: pcmFrame(0, 160)}
	assert.Equal(t, 20*time.Millisecond, frameDuration(frame))
}

func TestEnergyVADProvider_EmitsStartAfterSustainedVoicedAudio(t *testing.T) {
	p := NewEnergyVADProvider(EnergyVADConfig{
		Threshold:  0.1,
		StartDelay: 30 * time.Millisecond,
		StopDelay:  60 * time.Millisecond,
		MinVolume:  0.01,
	}, zaptest.NewLogger(t))

	audio := make(chan ports.AudioFrame, 16)
	events, err := p.Detect(t.Context(), types.VADSpec{}, audio)
	require.NoError(t, err)

	loud := ports.AudioFrame{Data: pcmFrame(0.5, 160), SampleRateHz: 16000, Channels: 1}
	for i := 0; i < 4; i++ {
		audio <- loud
	}

	select {
	case ev := <-events:
		assert.True(t, ev.SpeechStarted)
	case <-time.After(2 * time.Second):
		t.Fatal("no SpeechStarted event received")
	}
	close(audio)
}

func TestEnergyVADProvider_EmitsEndAfterSustainedSilence(t *testing.T) {
	p := NewEnergyVADProvider(EnergyVADConfig{
		Threshold:  0.1,
		StartDelay: 20 * time.Millisecond,
		StopDelay:  20 * time.Millisecond,
		MinVolume:  0.01,
	}, zaptest.NewLogger(t))

	audio := make(chan ports.AudioFrame, 32)
	events, err := p.Detect(t.Context(), types.VADSpec{}, audio)
	require.NoError(t, err)

	loud := ports.AudioFrame{Data: pcmFrame(0.5, 160), SampleRateHz: 16000, Channels: 1}
	quiet := ports.AudioFrame{Data: pcmFrame(0, 160), SampleRateHz: 16000, Channels: 1}

	for i := 0; i < 4; i++ {
		audio <- loud
	}
	started := <-events
	require.True(t, started.SpeechStarted)

	for i := 0; i < 4; i++ {
		audio <- quiet
	}
	ended := <-events
	assert.True(t, ended.SpeechEnded)

	close(audio)
}

func TestEnergyVADProvider_Name(t *testing.T) {
	p := NewEnergyVADProvider(DefaultEnergyVADConfig(), zaptest.NewLogger(t))
	assert.Equal(t, "energy-vad", p.Name())
}
