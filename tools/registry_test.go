package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/voiceagent/runtime/types"
)

func echoHandler(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return args, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewDefaultRegistry(zaptest.NewLogger(t))
	err := r.Register(Registration{Spec: types.ToolSpec{Name: "echo"}, Handler: echoHandler})
	require.NoError(t, err)

	assert.True(t, r.Has("echo"))
	fn, spec, ok := r.Get("echo")
	require.True(t, ok)
	assert.NotNil(t, fn)
	assert.Equal(t, defaultTimeout, spec.Timeout)
}

func TestRegistry_RegisterDuplicateFails(t *testing.T) {
	r := NewDefaultRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(Registration{Spec: types.ToolSpec{Name: "echo"}, Handler: echoHandler}))
	err := r.Register(Registration{Spec: types.ToolSpec{Name: "echo"}, Handler: echoHandler})
	assert.Error(t, err)
}

func TestRegistry_RegisterRequiresNameAndHandler(t *testing.T) {
	r := NewDefaultRegistry(zaptest.NewLogger(t))
	assert.Error(t, r.Register(Registration{Spec: types.ToolSpec{}, Handler: echoHandler}))
	assert.Error(t, r.Register(Registration{Spec: types.ToolSpec{Name: "x"}}))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewDefaultRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(Registration{Spec: types.ToolSpec{Name: "echo"}, Handler: echoHandler}))
	require.NoError(t, r.Unregister("echo"))
	assert.False(t, r.Has("echo"))
	assert.Error(t, r.Unregister("echo"))
}

func TestRegistry_List(t *testing.T) {
	r := NewDefaultRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(Registration{Spec: types.ToolSpec{Name: "a"}, Handler: echoHandler}))
	require.NoError(t, r.Register(Registration{Spec: types.ToolSpec{Name: "b"}, Handler: echoHandler}))
	assert.Len(t, r.List(), 2)
}

func TestTokenBucketLimiter_AllowsUpToCapacityThenBlocks(t *testing.T) {
	tb := newTokenBucketLimiter(2, time.Minute)
	assert.NoError(t, tb.Allow())
	assert.NoError(t, tb.Allow())
	assert.Error(t, tb.Allow())
}

func TestRegistry_RateLimitEnforced(t *testing.T) {
	r := NewDefaultRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(Registration{
		Spec:    types.ToolSpec{Name: "limited", RateLimitPerMin: 1},
		Handler: echoHandler,
	}))

	assert.NoError(t, r.checkRateLimit("limited"))
	assert.Error(t, r.checkRateLimit("limited"))
}
