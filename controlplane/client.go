package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/voiceagent/runtime/internal/tlsutil"
	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/types"
)

// workerMessage is the envelope exchanged on the persistent worker
// WebSocket: Type selects which of the optional fields is populated.
type workerMessage struct {
	Type         string   `json:"type"`
	Name         string   `json:"name,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	JobID        string `json:"job_id,omitempty"`
	RoomName     string `json:"room_name,omitempty"`
	MetadataJSON string `json:"metadata,omitempty"`

	State string `json:"state,omitempty"`

	CompletedAt time.Time `json:"completed_at,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Client is the production ports.ControlPlaneClient and ports.RoomClient
// implementation. One Client instance is shared by the whole worker
// process; RegisterWorker/Jobs drive the persistent registration socket,
// while the RoomClient methods issue independent HTTP requests since
// they concern one call at a time rather than the worker's own lifecycle.
type Client struct {
	wsURL      string
	httpBase   string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	logger     *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New builds a Client. jobServerURL is a ws:// or wss:// endpoint; the
// HTTP base used for room operations is derived from it by swapping the
// scheme, since spec.md §6 describes one room-server control plane, not
// two separately configured endpoints.
func New(jobServerURL, apiKey, apiSecret string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		wsURL:      jobServerURL,
		httpBase:   httpBaseFromWS(jobServerURL),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: tlsutil.SecureHTTPClient(timeout),
		logger:     logger.With(zap.String("component", "controlplane_client")),
	}
}

func httpBaseFromWS(wsURL string) string {
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		return "https://" + strings.TrimPrefix(wsURL, "wss://")
	case strings.HasPrefix(wsURL, "ws://"):
		return "http://" + strings.TrimPrefix(wsURL, "ws://")
	default:
		return wsURL
	}
}

func (c *Client) authHeader() http.Header {
	return http.Header{"Authorization": []string{"Bearer " + c.apiKey + ":" + c.apiSecret}}
}

// RegisterWorker dials the worker-registration WebSocket (reconnecting
// callers call this again after Jobs' channel closes, per spec.md §4.1)
// and announces this worker's identity.
func (c *Client) RegisterWorker(ctx context.Context, name string, capabilities []string) error {
	conn, resp, err := websocket.Dial(ctx, c.wsURL, &websocket.DialOptions{HTTPHeader: c.authHeader()})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return types.NewError(types.ErrAuthentication, "control plane rejected worker credentials").WithCause(err).WithComponent("controlplane").WithFatal(true)
		}
		return types.NewError(types.ErrUpstreamError, "control plane dial failed").WithCause(err).WithComponent("controlplane").WithRetryable(true)
	}

	msg := workerMessage{Type: "register", Name: name, Capabilities: capabilities}
	payload, _ := json.Marshal(msg)
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "register failed")
		return types.NewError(types.ErrUpstreamError, "worker registration failed").WithCause(err).WithComponent("controlplane").WithRetryable(true)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Jobs reads job_assignment messages off the registration socket until
// ctx is cancelled or the connection drops, translating each into a
// types.Job. The channel closes on either condition so the dispatcher's
// reconnect loop can call RegisterWorker again.
func (c *Client) Jobs(ctx context.Context) (<-chan types.Job, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "Jobs called before RegisterWorker").WithComponent("controlplane")
	}

	jobs := make(chan types.Job)
	go func() {
		defer close(jobs)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("control plane connection dropped", zap.Error(err))
				}
				return
			}

			var msg workerMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Warn("control plane message decode failed", zap.Error(err))
				continue
			}
			if msg.Type != "job_assignment" {
				continue
			}

			job := types.Job{
				ID:            msg.JobID,
				RoomName:      msg.RoomName,
				RawMetadataJS: msg.MetadataJSON,
				DispatchedAt:  time.Now(),
			}
			if md, err := types.ParseJobMetadata(msg.MetadataJSON); err == nil {
				job.Metadata = md
			}

			select {
			case <-ctx.Done():
				return
			case jobs <- job:
			}
		}
	}()
	return jobs, nil
}

// ReportJobStatus sends an intermediate lifecycle update over the
// registration socket.
func (c *Client) ReportJobStatus(ctx context.Context, jobID, state string) error {
	return c.send(ctx, workerMessage{Type: "job_status", JobID: jobID, State: state})
}

// ReportJobOutcome sends a job's terminal outcome over the registration
// socket.
func (c *Client) ReportJobOutcome(ctx context.Context, outcome types.JobOutcome) error {
	return c.send(ctx, workerMessage{
		Type:        "job_outcome",
		JobID:       outcome.JobID,
		CompletedAt: outcome.CompletedAt,
		Reason:      string(outcome.Reason),
		Detail:      outcome.Detail,
	})
}

func (c *Client) send(ctx context.Context, msg workerMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return types.NewError(types.ErrInvalidRequest, "no active control plane connection").WithComponent("controlplane")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return types.NewError(types.ErrUpstreamError, "control plane write failed").WithCause(err).WithComponent("controlplane").WithRetryable(true)
	}
	return nil
}

// --- ports.RoomClient ---

type createSIPParticipantResponse struct {
	DialID string `json:"dial_id"`
}

type sipEventWire struct {
	Kind            string    `json:"kind"`
	Identity        string    `json:"identity"`
	SIPStatusCode   int       `json:"sip_status_code,omitempty"`
	SIPStatusReason string    `json:"sip_status_reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// CreateSIPParticipant asks the room server to dial out, then subscribes
// to that dial attempt's own event stream and translates each event into
// a ports.RoomParticipantEvent, closing the channel once the dial reaches
// a terminal state or its WebSocket drops.
func (c *Client) CreateSIPParticipant(ctx context.Context, req ports.CreateSIPParticipantRequest) (<-chan ports.RoomParticipantEvent, error) {
	body, _ := json.Marshal(map[string]any{
		"room_name":            req.RoomName,
		"trunk_id":             req.TrunkID,
		"callee_e164":          req.CalleeE164,
		"participant_identity": req.ParticipantIdentity,
		"wait_until_answered":  req.WaitUntilAnswered,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpBase+"/rooms/sip-participants", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header = c.authHeader()
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "create sip participant failed").WithCause(err).WithComponent("controlplane").WithRetryable(true)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, mapControlPlaneStatus(resp.StatusCode, readBody(resp.Body))
	}

	var out createSIPParticipantResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "malformed create sip participant response").WithCause(err).WithComponent("controlplane")
	}

	eventsURL := fmt.Sprintf("%s/rooms/sip-participants/%s/events", wsBaseFromHTTP(c.httpBase), url.PathEscape(out.DialID))
	conn, _, err := websocket.Dial(ctx, eventsURL, &websocket.DialOptions{HTTPHeader: c.authHeader()})
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "sip participant event stream dial failed").WithCause(err).WithComponent("controlplane").WithRetryable(true)
	}

	events := make(chan ports.RoomParticipantEvent, 8)
	go func() {
		defer close(events)
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var wire sipEventWire
			if err := json.Unmarshal(data, &wire); err != nil {
				c.logger.Warn("sip event decode failed", zap.Error(err))
				continue
			}
			ev, terminal := translateSIPEvent(wire)
			select {
			case <-ctx.Done():
				return
			case events <- ev:
			}
			if terminal {
				return
			}
		}
	}()
	return events, nil
}

func translateSIPEvent(wire sipEventWire) (ports.RoomParticipantEvent, bool) {
	ts := wire.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	switch wire.Kind {
	case "joined":
		return ports.RoomParticipantEvent{
			Kind:      ports.RoomParticipantJoined,
			Participant: types.Participant{Identity: wire.Identity, Kind: types.ParticipantSIPRemote, JoinedAt: ts},
			Timestamp: ts,
		}, true
	case "disconnected":
		return ports.RoomParticipantEvent{Kind: ports.RoomParticipantDisconnect, Timestamp: ts}, true
	default:
		return ports.RoomParticipantEvent{
			Kind:            ports.RoomParticipantSIPStatus,
			SIPStatusCode:   wire.SIPStatusCode,
			SIPStatusReason: wire.SIPStatusReason,
			Timestamp:       ts,
		}, false
	}
}

func wsBaseFromHTTP(httpBase string) string {
	switch {
	case strings.HasPrefix(httpBase, "https://"):
		return "wss://" + strings.TrimPrefix(httpBase, "https://")
	case strings.HasPrefix(httpBase, "http://"):
		return "ws://" + strings.TrimPrefix(httpBase, "http://")
	default:
		return httpBase
	}
}

// TransferSIPParticipant hands the SIP leg for identity in roomName off
// to transferTo.
func (c *Client) TransferSIPParticipant(ctx context.Context, roomName, identity, transferTo string) error {
	body, _ := json.Marshal(map[string]string{"transfer_to": transferTo})
	path := fmt.Sprintf("/rooms/%s/participants/%s/transfer", url.PathEscape(roomName), url.PathEscape(identity))
	return c.doVoid(ctx, http.MethodPost, path, body)
}

// DeleteRoom tears roomName down once a call ends.
func (c *Client) DeleteRoom(ctx context.Context, roomName string) error {
	return c.doVoid(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(roomName), nil)
}

func (c *Client) doVoid(ctx context.Context, method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.httpBase+path, reader)
	if err != nil {
		return err
	}
	req.Header = c.authHeader()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.NewError(types.ErrUpstreamError, "control plane request failed").WithCause(err).WithComponent("controlplane").WithRetryable(true)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return mapControlPlaneStatus(resp.StatusCode, readBody(resp.Body))
	}
	return nil
}

func readBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 8*1024))
	return string(data)
}

func mapControlPlaneStatus(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrAuthentication, msg).WithFatal(true)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithRetryable(true)
	default:
		return types.NewError(types.ErrSIPFailure, msg).WithRetryable(status >= 500)
	}
}

var _ ports.ControlPlaneClient = (*Client)(nil)
var _ ports.RoomClient = (*Client)(nil)
