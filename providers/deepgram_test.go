package providers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voiceagent/runtime/config"
	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/types"
)

// deepgramTestServer upgrades to a WebSocket and scripts a fixed sequence
// of raw JSON responses, independent of what the client sends, mirroring
// agent/streaming/ws_adapter_test.go's wsTestServer helper.
func deepgramTestServer(t *testing.T, responses []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for _, resp := range responses {
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(resp)); err != nil {
				return
			}
		}
		// Keep the connection open until the client goes away, so the
		// stream's readLoop exits via Close() rather than EOF racing the
		// assertions below.
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsTestURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDeepgramProvider_TranslatesResultsToEvents(t *testing.T) {
	srv := deepgramTestServer(t, []string{
		`{"type":"SpeechStarted"}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel","confidence":0.5}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello","confidence":0.9}]}}`,
	})

	p := NewDeepgramProvider(config.STTConfig{APIKey: "secret", BaseURL: wsTestURL(srv)}, zaptest.NewLogger(t))

	stream, err := p.StartStream(t.Context(), types.STTSpec{Model: "nova-2", EndpointingMs: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Close() })

	var got []ports.STTEvent
	for i := 0; i < 3; i++ {
		got = append(got, <-stream.Events())
	}

	require.Len(t, got, 3)
	assert.Equal(t, ports.STTEventSpeechStarted, got[0].Kind)
	assert.Equal(t, ports.STTEventPartial, got[1].Kind)
	assert.Equal(t, "hel", got[1].Text)
	assert.Equal(t, ports.STTEventFinal, got[2].Kind)
	assert.Equal(t, "hello", got[2].Text)
}

func TestDeepgramProvider_SendAudioWritesBinaryFrame(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		_, data, err := conn.Read(r.Context())
		if err == nil {
			received <- data
		}
	}))
	t.Cleanup(srv.Close)

	p := NewDeepgramProvider(config.STTConfig{APIKey: "secret", BaseURL: wsTestURL(srv)}, zaptest.NewLogger(t))
	stream, err := p.StartStream(t.Context(), types.STTSpec{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Close() })

	require.NoError(t, stream.SendAudio(ports.AudioFrame{Data: []byte{1, 2, 3, 4}}))

	select {
	case data := <-received:
		assert.Equal(t, []byte{1, 2, 3, 4}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received audio frame")
	}
}

func TestDeepgramProvider_Name(t *testing.T) {
	p := NewDeepgramProvider(config.STTConfig{}, zaptest.NewLogger(t))
	assert.Equal(t, "deepgram", p.Name())
}
