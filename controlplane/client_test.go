package controlplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/types"
)

func wsURLFor(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHTTPBaseFromWS(t *testing.T) {
	assert.Equal(t, "https://example.com", httpBaseFromWS("wss://example.com"))
	assert.Equal(t, "http://example.com", httpBaseFromWS("ws://example.com"))
}

func TestWSBaseFromHTTP(t *testing.T) {
	assert.Equal(t, "wss://example.com", wsBaseFromHTTP("https://example.com"))
	assert.Equal(t, "ws://example.com", wsBaseFromHTTP("http://example.com"))
}

func TestClient_RegisterWorkerAndReceiveJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key:secret", r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		_, data, err := conn.Read(r.Context())
		require.NoError(t, err)
		var reg workerMessage
		require.NoError(t, json.Unmarshal(data, &reg))
		assert.Equal(t, "register", reg.Type)
		assert.Equal(t, "worker-1", reg.Name)

		job := workerMessage{
			Type:         "job_assignment",
			JobID:        "job-1",
			RoomName:     "room-1",
			MetadataJSON: `{"phone_number":"+15551234567"}`,
		}
		payload, _ := json.Marshal(job)
		require.NoError(t, conn.Write(r.Context(), websocket.MessageText, payload))

		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	c := New(wsURLFor(srv), "key", "secret", 0, zaptest.NewLogger(t))
	require.NoError(t, c.RegisterWorker(t.Context(), "worker-1", []string{"outbound-voice"}))

	jobs, err := c.Jobs(t.Context())
	require.NoError(t, err)

	select {
	case job := <-jobs:
		assert.Equal(t, "job-1", job.ID)
		assert.Equal(t, "room-1", job.RoomName)
		assert.Equal(t, "+15551234567", job.Metadata.PhoneNumber)
	case <-time.After(2 * time.Second):
		t.Fatal("no job received")
	}
}

func TestClient_ReportJobStatusAndOutcome(t *testing.T) {
	received := make(chan workerMessage, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		// discard the register message
		_, _, _ = conn.Read(r.Context())

		for i := 0; i < 2; i++ {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var msg workerMessage
			_ = json.Unmarshal(data, &msg)
			received <- msg
		}
	}))
	t.Cleanup(srv.Close)

	c := New(wsURLFor(srv), "key", "secret", 0, zaptest.NewLogger(t))
	require.NoError(t, c.RegisterWorker(t.Context(), "worker-1", nil))

	require.NoError(t, c.ReportJobStatus(t.Context(), "job-1", "dialing"))
	require.NoError(t, c.ReportJobOutcome(t.Context(), types.JobOutcome{JobID: "job-1", Reason: types.OutcomeNormal}))

	status := <-received
	assert.Equal(t, "job_status", status.Type)
	assert.Equal(t, "dialing", status.State)

	outcome := <-received
	assert.Equal(t, "job_outcome", outcome.Type)
	assert.Equal(t, "normal", outcome.Reason)
}

func TestClient_JobsWithoutRegisterFails(t *testing.T) {
	c := New("ws://unused", "key", "secret", 0, zaptest.NewLogger(t))
	_, err := c.Jobs(t.Context())
	require.Error(t, err)
}

func TestClient_CreateSIPParticipantStreamsEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rooms/sip-participants", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key:secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(createSIPParticipantResponse{DialID: "dial-1"})
	})
	mux.HandleFunc("/rooms/sip-participants/dial-1/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		status, _ := json.Marshal(sipEventWire{Kind: "sip_status", SIPStatusCode: 180, SIPStatusReason: "Ringing"})
		_ = conn.Write(r.Context(), websocket.MessageText, status)

		joined, _ := json.Marshal(sipEventWire{Kind: "joined", Identity: "sip-callee"})
		_ = conn.Write(r.Context(), websocket.MessageText, joined)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(wsURLFor(srv), "key", "secret", 0, zaptest.NewLogger(t))

	events, err := c.CreateSIPParticipant(t.Context(), ports.CreateSIPParticipantRequest{
		RoomName: "room-1", TrunkID: "trunk-1", CalleeE164: "+15551234567",
	})
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, ports.RoomParticipantSIPStatus, first.Kind)
	assert.Equal(t, 180, first.SIPStatusCode)

	second := <-events
	assert.Equal(t, ports.RoomParticipantJoined, second.Kind)
	assert.Equal(t, "sip-callee", second.Participant.Identity)

	_, ok := <-events
	assert.False(t, ok)
}

func TestClient_DeleteRoom(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := New("ws://unused", "key", "secret", 0, zaptest.NewLogger(t))
	c.httpBase = srv.URL

	require.NoError(t, c.DeleteRoom(t.Context(), "room-1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/rooms/room-1", gotPath)
}

func TestClient_TransferSIPParticipant(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := New("ws://unused", "key", "secret", 0, zaptest.NewLogger(t))
	c.httpBase = srv.URL

	require.NoError(t, c.TransferSIPParticipant(t.Context(), "room-1", "sip-callee", "+15557654321"))
	assert.Equal(t, "+15557654321", gotBody["transfer_to"])
}

func TestClient_MapsAuthErrorAsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad credentials"))
	}))
	t.Cleanup(srv.Close)

	c := New("ws://unused", "key", "secret", 0, zaptest.NewLogger(t))
	c.httpBase = srv.URL

	err := c.DeleteRoom(t.Context(), "room-1")
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
}
