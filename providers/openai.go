package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voiceagent/runtime/circuitbreaker"
	"github.com/voiceagent/runtime/config"
	"github.com/voiceagent/runtime/internal/tlsutil"
	"github.com/voiceagent/runtime/ports"
	"github.com/voiceagent/runtime/types"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// openAIMessage is the wire shape of one chat message, grounded on
// llm/providers/common.go's OpenAICompatMessage.
type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type openAIToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
	Index    int            `json:"index"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIFunctionSpec `json:"function"`
}

type openAIFunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

type openAIChoice struct {
	Index        int            `json:"index"`
	FinishReason string         `json:"finish_reason"`
	Delta        *openAIMessage `json:"delta,omitempty"`
	Message      *openAIMessage `json:"message,omitempty"`
}

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
}

type openAIErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAIProvider is an ports.LLMProvider backed by any OpenAI-compatible
// chat-completions endpoint, streaming responses over SSE. Grounded on
// llm/providers/openaicompat/provider.go's Stream/StreamSSE, re-targeted at
// this module's ports.LLMProvider/ports.LLMStream surface directly instead
// of that package's own llm.* types.
type OpenAIProvider struct {
	name    string
	cfg     config.LLMConfig
	client  *http.Client
	breaker circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewOpenAIProvider builds an OpenAIProvider from the worker's configured
// LLM settings. cfg.Provider is used only as the adapter's display Name();
// the wire protocol is always OpenAI's chat-completions shape.
func NewOpenAIProvider(cfg config.LLMConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	name := cfg.Provider
	if name == "" {
		name = "openai"
	}

	return &OpenAIProvider{
		name:   name,
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		breaker: circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
			Threshold:        5,
			Timeout:          timeout,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 2,
		}, logger.With(zap.String("component", "llm_circuit_breaker"))),
		logger: logger.With(zap.String("component", "llm_provider"), zap.String("provider", name)),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// StreamChat opens a streaming chat completion and translates the SSE
// response into a ports.LLMStream of ports.LLMToken. Tool-call argument
// fragments are accumulated across deltas by index, per OpenAI's
// incremental tool-call streaming convention, and surfaced whole on the
// final token.
func (p *OpenAIProvider) StreamChat(ctx context.Context, spec types.LLMSpec, messages []types.ChatMessage, tools []types.ToolSpec) (ports.LLMStream, error) {
	body := openAIChatRequest{
		Model:       spec.Model,
		Messages:    convertChatMessages(messages),
		Tools:       convertToolSpecs(tools),
		Temperature: spec.Temperature,
		Stream:      true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "marshal chat request").WithCause(err).WithComponent(p.name)
	}

	// callErr is captured from the closure directly rather than read off
	// the circuit breaker's own return value: the breaker (by design)
	// treats a client error such as an auth failure as a "success" so it
	// never counts against the trip threshold, which means Call can return
	// a nil error even though the request failed (see resilient_provider.go's
	// identical pattern for the rationale).
	var resp *http.Response
	var callErr error
	breakerErr := p.breaker.Call(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint("/v1/chat/completions"), bytes.NewReader(payload))
		if reqErr != nil {
			callErr = reqErr
			return reqErr
		}
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")

		httpResp, doErr := p.client.Do(req)
		if doErr != nil {
			callErr = doErr
			return doErr
		}
		if httpResp.StatusCode >= 400 {
			defer httpResp.Body.Close()
			msg := readOpenAIError(httpResp.Body)
			callErr = mapOpenAIStatus(httpResp.StatusCode, msg)
			return callErr
		}
		resp = httpResp
		return nil
	})
	if callErr != nil {
		p.logger.Warn("chat completion request failed", zap.Error(callErr))
		return nil, asLLMError(callErr, p.name)
	}
	if breakerErr != nil {
		p.logger.Warn("chat completion request rejected", zap.Error(breakerErr))
		return nil, asLLMError(breakerErr, p.name)
	}

	stream := newOpenAIStream(ctx, resp.Body, p.name, p.logger)
	return stream, nil
}

func (p *OpenAIProvider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

func readOpenAIError(body io.Reader) string {
	var errResp openAIErrorResp
	data, _ := io.ReadAll(io.LimitReader(body, 64*1024))
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(data)
}

func mapOpenAIStatus(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrAuthentication, msg).WithFatal(true)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithRetryable(true)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithRetryable(status >= 500)
	}
}

func asLLMError(err error, component string) error {
	var e *types.Error
	if errors.As(err, &e) {
		e.Component = component
		return e
	}
	return types.NewError(types.ErrUpstreamError, err.Error()).WithComponent(component).WithRetryable(true)
}

func convertChatMessages(messages []types.ChatMessage) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		wire := openAIMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.ToolName,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, openAIToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: openAIFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out = append(out, wire)
	}
	return out
}

func convertToolSpecs(tools []types.ToolSpec) []openAITool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openAITool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openAITool{
			Type: "function",
			Function: openAIFunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.ParameterSchema,
			},
		})
	}
	return out
}

// openAIStream implements ports.LLMStream over an SSE response body.
type openAIStream struct {
	tokens chan ports.LLMToken
	body   io.ReadCloser
	once   sync.Once
}

func newOpenAIStream(ctx context.Context, body io.ReadCloser, providerName string, logger *zap.Logger) *openAIStream {
	s := &openAIStream{
		tokens: make(chan ports.LLMToken),
		body:   body,
	}
	go s.pump(ctx, providerName, logger)
	return s
}

func (s *openAIStream) Tokens() <-chan ports.LLMToken { return s.tokens }

func (s *openAIStream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}

// pump reads SSE "data:" lines from the response body, accumulates
// tool-call argument fragments by index (OpenAI streams them piecemeal),
// and emits one ports.LLMToken per content delta plus a final Done token
// carrying any accumulated tool calls.
func (s *openAIStream) pump(ctx context.Context, providerName string, logger *zap.Logger) {
	defer close(s.tokens)
	defer s.body.Close()

	type pendingCall struct {
		id   string
		name string
		args strings.Builder
	}
	pending := make(map[int]*pendingCall)
	order := []int{}

	emit := func(tok ports.LLMToken) bool {
		select {
		case <-ctx.Done():
			return false
		case s.tokens <- tok:
			return true
		}
	}

	finish := func() {
		if len(order) == 0 {
			emit(ports.LLMToken{Done: true})
			return
		}
		calls := make([]types.ToolCall, 0, len(order))
		for _, idx := range order {
			pc := pending[idx]
			calls = append(calls, types.ToolCall{
				ID:        pc.id,
				Name:      pc.name,
				Arguments: json.RawMessage(pc.args.String()),
			})
		}
		emit(ports.LLMToken{Done: true, ToolCalls: calls})
	}

	reader := bufio.NewReader(s.body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				logger.Warn("sse read failed", zap.Error(err))
			}
			finish()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			finish()
			return
		}

		var chunk openAIChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Warn("sse chunk decode failed", zap.Error(err), zap.String("provider", providerName))
			continue
		}

		for _, choice := range chunk.Choices {
			if choice.Delta == nil {
				continue
			}
			if choice.Delta.Content != "" {
				if !emit(ports.LLMToken{Text: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				pc, ok := pending[tc.Index]
				if !ok {
					pc = &pendingCall{}
					pending[tc.Index] = pc
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				if len(tc.Function.Arguments) > 0 {
					pc.args.Write(tc.Function.Arguments)
				}
			}
			if choice.FinishReason != "" {
				finish()
				return
			}
		}
	}
}

var _ ports.LLMProvider = (*OpenAIProvider)(nil)
var _ ports.LLMStream = (*openAIStream)(nil)
