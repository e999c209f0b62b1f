package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voiceagent/runtime/idempotency"
	"github.com/voiceagent/runtime/types"
)

// Result is the outcome of one tool call, in the shape the session appends
// back into chatcontext as a tool-result message (spec.md §4.5, §4.7).
type Result struct {
	ToolCallID string
	Name       string
	Content    json.RawMessage
	Error      string
	Duration   time.Duration
}

// Executor resolves a model's requested tool calls against a Registry and
// runs them.
type Executor interface {
	Execute(ctx context.Context, calls []types.ToolCall) []Result
	ExecuteOne(ctx context.Context, call types.ToolCall) Result
}

// DefaultExecutor runs independent tool calls concurrently and enforces
// each tool's configured timeout (spec.md §4.5's "bounded per-call
// timeout").
type DefaultExecutor struct {
	registry Registry
	logger   *zap.Logger

	idempotency    idempotency.Manager
	idempotencyTTL time.Duration
}

// NewDefaultExecutor creates an Executor backed by registry, with no
// call de-duplication.
func NewDefaultExecutor(registry Registry, logger *zap.Logger) *DefaultExecutor {
	return &DefaultExecutor{registry: registry, logger: logger}
}

// NewDefaultExecutorWithIdempotency creates an Executor that
// de-duplicates tool calls sharing the same name and arguments within
// ttl, per SPEC_FULL.md's tool-facing idempotency cache (e.g. a
// confirmAppointment retried for the same speechId only runs once).
func NewDefaultExecutorWithIdempotency(registry Registry, store idempotency.Manager, ttl time.Duration, logger *zap.Logger) *DefaultExecutor {
	return &DefaultExecutor{registry: registry, logger: logger, idempotency: store, idempotencyTTL: ttl}
}

func (e *DefaultExecutor) Execute(ctx context.Context, calls []types.ToolCall) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c types.ToolCall) {
			defer wg.Done()
			results[idx] = e.ExecuteOne(ctx, c)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (e *DefaultExecutor) ExecuteOne(ctx context.Context, call types.ToolCall) Result {
	start := time.Now()
	result := Result{ToolCallID: call.ID, Name: call.Name}

	fn, spec, ok := e.registry.Get(call.Name)
	if !ok {
		result.Error = fmt.Sprintf("tool not found: %s", call.Name)
		result.Duration = time.Since(start)
		e.logger.Error("tool not found", zap.String("name", call.Name))
		return result
	}

	if reg, ok := e.registry.(*DefaultRegistry); ok {
		if err := reg.checkRateLimit(call.Name); err != nil {
			result.Error = fmt.Sprintf("rate limit exceeded: %s", err.Error())
			result.Duration = time.Since(start)
			e.logger.Warn("tool rate limited", zap.String("name", call.Name))
			return result
		}
	}

	if len(call.Arguments) > 0 {
		var tmp any
		if err := json.Unmarshal(call.Arguments, &tmp); err != nil {
			result.Error = fmt.Sprintf("invalid arguments: %s", err.Error())
			result.Duration = time.Since(start)
			e.logger.Error("invalid tool arguments", zap.String("name", call.Name), zap.Error(err))
			return result
		}
	}

	var idemKey string
	if e.idempotency != nil {
		var err error
		idemKey, err = e.idempotency.GenerateKey(call.Name, string(call.Arguments))
		if err != nil {
			e.logger.Warn("idempotency key generation failed", zap.String("name", call.Name), zap.Error(err))
		} else if cached, hit, err := e.idempotency.Get(ctx, idemKey); err != nil {
			e.logger.Warn("idempotency lookup failed", zap.String("name", call.Name), zap.Error(err))
		} else if hit {
			result.Content = cached
			result.Duration = time.Since(start)
			e.logger.Info("tool call served from idempotency cache", zap.String("name", call.Name))
			return result
		}
	}

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res json.RawMessage
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fn(execCtx, call.Arguments)
		select {
		case done <- outcome{res, err}:
		case <-execCtx.Done():
		}
	}()

	select {
	case out := <-done:
		result.Duration = time.Since(start)
		if out.err != nil {
			result.Error = out.err.Error()
			e.logger.Error("tool execution failed", zap.String("name", call.Name), zap.Error(out.err), zap.Duration("duration", result.Duration))
		} else {
			result.Content = out.res
			e.logger.Info("tool executed", zap.String("name", call.Name), zap.Duration("duration", result.Duration))
			if e.idempotency != nil && idemKey != "" {
				if err := e.idempotency.Set(ctx, idemKey, out.res, e.idempotencyTTL); err != nil {
					e.logger.Warn("idempotency store failed", zap.String("name", call.Name), zap.Error(err))
				}
			}
		}
	case <-execCtx.Done():
		result.Duration = time.Since(start)
		result.Error = fmt.Sprintf("execution timeout after %s", timeout)
		e.logger.Error("tool execution timeout", zap.String("name", call.Name), zap.Duration("timeout", timeout))
	}

	return result
}
