package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voiceagent/runtime/types"
)

// ToolFunc is the signature every registered tool handler implements.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// defaultTimeout applies to a tool whose ToolSpec doesn't set one.
const defaultTimeout = 30 * time.Second

// Registration pairs a tool's declared spec with its handler.
type Registration struct {
	Spec    types.ToolSpec
	Handler ToolFunc
}

// Registry holds the tools available to one session's LLM calls.
type Registry interface {
	Register(reg Registration) error
	Unregister(name string) error
	Get(name string) (ToolFunc, types.ToolSpec, bool)
	List() []types.ToolSpec
	Has(name string) bool
}

// DefaultRegistry is a mutex-guarded in-memory Registry with per-tool
// token-bucket rate limiting.
type DefaultRegistry struct {
	mu         sync.RWMutex
	handlers   map[string]ToolFunc
	specs      map[string]types.ToolSpec
	rateLimits map[string]*tokenBucketLimiter
	logger     *zap.Logger
}

// NewDefaultRegistry creates an empty registry.
func NewDefaultRegistry(logger *zap.Logger) *DefaultRegistry {
	return &DefaultRegistry{
		handlers:   make(map[string]ToolFunc),
		specs:      make(map[string]types.ToolSpec),
		rateLimits: make(map[string]*tokenBucketLimiter),
		logger:     logger,
	}
}

func (r *DefaultRegistry) Register(reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := reg.Spec.Name
	if name == "" {
		return fmt.Errorf("tool spec missing name")
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	if reg.Handler == nil {
		return fmt.Errorf("tool %s has no handler", name)
	}

	spec := reg.Spec
	if spec.Timeout == 0 {
		spec.Timeout = defaultTimeout
	}

	r.handlers[name] = reg.Handler
	r.specs[name] = spec
	if spec.RateLimitPerMin > 0 {
		r.rateLimits[name] = newTokenBucketLimiter(spec.RateLimitPerMin, time.Minute)
	}

	r.logger.Info("tool registered", zap.String("name", name), zap.Duration("timeout", spec.Timeout))
	return nil
}

func (r *DefaultRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; !exists {
		return fmt.Errorf("tool %s not registered", name)
	}
	delete(r.handlers, name)
	delete(r.specs, name)
	delete(r.rateLimits, name)
	return nil
}

func (r *DefaultRegistry) Get(name string) (ToolFunc, types.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.handlers[name]
	if !ok {
		return nil, types.ToolSpec{}, false
	}
	return fn, r.specs[name], true
}

func (r *DefaultRegistry) List() []types.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ToolSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	return out
}

func (r *DefaultRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// checkRateLimit consumes one token for name, if a limit is configured.
func (r *DefaultRegistry) checkRateLimit(name string) error {
	r.mu.RLock()
	limiter, ok := r.rateLimits[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return limiter.Allow()
}

// tokenBucketLimiter is an O(1) token-bucket rate limiter.
type tokenBucketLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucketLimiter(maxCalls int, window time.Duration) *tokenBucketLimiter {
	return &tokenBucketLimiter{
		tokens:     float64(maxCalls),
		maxTokens:  float64(maxCalls),
		refillRate: float64(maxCalls) / window.Seconds(),
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucketLimiter) Allow() error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now

	if tb.tokens < 1 {
		return fmt.Errorf("rate limit exceeded")
	}
	tb.tokens--
	return nil
}
