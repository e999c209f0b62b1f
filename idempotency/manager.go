package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voiceagent/runtime/config"
)

// Manager caches the result of a tool call keyed by an idempotency key,
// so a tool handler invoked twice for the same key (a retried
// confirmAppointment, a duplicate speechId) only takes effect once.
// Grounded on llm/idempotency/manager.go's Manager/redisManager/
// memoryManager, generalized from that package's request/response
// caching role onto tools.Executor's tool-call de-duplication role.
type Manager interface {
	// GenerateKey derives a stable key from inputs (a tool name plus its
	// arguments, typically), so identical calls hash to the same key.
	GenerateKey(inputs ...any) (string, error)
	// Get returns the cached result for key, if any.
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	// Set caches result under key for ttl.
	Set(ctx context.Context, key string, result any, ttl time.Duration) error
	// Delete removes key's cached entry.
	Delete(ctx context.Context, key string) error
	// Exists reports whether key currently has a cached entry.
	Exists(ctx context.Context, key string) (bool, error)
}

// NewFromConfig builds a Redis-backed Manager when cfg.Addr is set, and
// an in-memory Manager otherwise, matching config.RedisConfig's own doc
// comment: "the dispatcher runs without Redis when Addr is empty."
func NewFromConfig(cfg config.RedisConfig, logger *zap.Logger) Manager {
	if cfg.Addr == "" {
		return NewMemoryManager(logger)
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	return NewRedisManager(client, "voiceagent:idempotency:", logger)
}

// redisManager is a Redis-backed Manager implementation.
type redisManager struct {
	redis  *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisManager builds a Manager backed by an already-configured Redis
// client.
func NewRedisManager(client *redis.Client, prefix string, logger *zap.Logger) Manager {
	if prefix == "" {
		prefix = "idempotency:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redisManager{redis: client, prefix: prefix, logger: logger}
}

func generateKey(inputs ...any) (string, error) {
	if len(inputs) == 0 {
		return "", errors.New("idempotency key requires at least one input")
	}
	data, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("marshal idempotency inputs: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func (m *redisManager) GenerateKey(inputs ...any) (string, error) { return generateKey(inputs...) }

func (m *redisManager) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	data, err := m.redis.Get(ctx, m.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get idempotency key from redis: %w", err)
	}
	return data, true, nil
}

func (m *redisManager) Set(ctx context.Context, key string, result any, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal idempotency result: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := m.redis.Set(ctx, m.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set idempotency key in redis: %w", err)
	}
	return nil
}

func (m *redisManager) Delete(ctx context.Context, key string) error {
	if err := m.redis.Del(ctx, m.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete idempotency key from redis: %w", err)
	}
	return nil
}

func (m *redisManager) Exists(ctx context.Context, key string) (bool, error) {
	count, err := m.redis.Exists(ctx, m.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check idempotency key in redis: %w", err)
	}
	return count > 0, nil
}

// memoryManager is an in-memory Manager for deployments without Redis
// and for tests.
type memoryManager struct {
	mu              sync.RWMutex
	cache           map[string]*cacheEntry
	logger          *zap.Logger
	stopCh          chan struct{}
	cleanupInterval time.Duration
}

type cacheEntry struct {
	Data      json.RawMessage
	ExpiresAt time.Time
}

// NewMemoryManager builds an in-memory Manager with a background
// expired-entry sweep every 5 minutes.
func NewMemoryManager(logger *zap.Logger) Manager {
	return NewMemoryManagerWithCleanup(logger, 5*time.Minute)
}

// NewMemoryManagerWithCleanup builds an in-memory Manager with a custom
// sweep interval.
func NewMemoryManagerWithCleanup(logger *zap.Logger, cleanupInterval time.Duration) Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &memoryManager{
		cache:           make(map[string]*cacheEntry),
		logger:          logger,
		stopCh:          make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
	go m.cleanupLoop()
	return m
}

func (m *memoryManager) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

func (m *memoryManager) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	expired := 0
	for key, entry := range m.cache {
		if now.After(entry.ExpiresAt) {
			delete(m.cache, key)
			expired++
		}
	}
	if expired > 0 {
		m.logger.Debug("cleaned up expired idempotency entries", zap.Int("expired", expired), zap.Int("remaining", len(m.cache)))
	}
}

// Close stops the background cleanup goroutine.
func (m *memoryManager) Close() { close(m.stopCh) }

func (m *memoryManager) GenerateKey(inputs ...any) (string, error) { return generateKey(inputs...) }

func (m *memoryManager) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	entry, exists := m.cache[key]
	m.mu.RUnlock()
	if !exists {
		return nil, false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		m.mu.Lock()
		delete(m.cache, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.Data, true, nil
}

func (m *memoryManager) Set(ctx context.Context, key string, result any, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal idempotency result: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	m.mu.Lock()
	m.cache[key] = &cacheEntry{Data: data, ExpiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *memoryManager) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	return nil
}

func (m *memoryManager) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	entry, exists := m.cache[key]
	m.mu.RUnlock()
	if !exists {
		return false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		m.mu.Lock()
		delete(m.cache, key)
		m.mu.Unlock()
		return false, nil
	}
	return true, nil
}

var _ Manager = (*redisManager)(nil)
var _ Manager = (*memoryManager)(nil)
