package chatcontext

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceagent/runtime/types"
)

func TestAppend_OrdersMessages(t *testing.T) {
	c := New()
	require.NoError(t, c.Append(types.NewSystemMessage("m1", "be helpful")))
	require.NoError(t, c.Append(types.NewUserMessage("m2", "hi")))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, types.RoleSystem, snap[0].Role)
	assert.Equal(t, types.RoleUser, snap[1].Role)
}

func TestAppend_ToolMessage_RequiresMatchingPrecedingAssistant(t *testing.T) {
	c := New()
	require.NoError(t, c.Append(types.NewUserMessage("m1", "what's the weather?")))

	toolMsg := types.NewToolMessage("m2", "call-1", "getWeather", `{"temp":72}`)
	err := c.Append(toolMsg)
	assert.Error(t, err, "tool message with no preceding assistant tool call must be rejected")
}

func TestAppend_ToolMessage_ValidPairing(t *testing.T) {
	c := New()
	require.NoError(t, c.Append(types.NewUserMessage("m1", "what's the weather?")))

	assistant := types.NewAssistantMessage("m2", "", []types.ToolCall{
		{ID: "call-1", Name: "getWeather", Arguments: json.RawMessage(`{}`)},
	})
	require.NoError(t, c.Append(assistant))

	toolMsg := types.NewToolMessage("m3", "call-1", "getWeather", `{"temp":72}`)
	require.NoError(t, c.Append(toolMsg))

	assert.Equal(t, 3, c.Len())
}

func TestAppend_ToolMessage_RejectsDuplicateAnswer(t *testing.T) {
	c := New()
	assistant := types.NewAssistantMessage("m1", "", []types.ToolCall{
		{ID: "call-1", Name: "getWeather", Arguments: json.RawMessage(`{}`)},
	})
	require.NoError(t, c.Append(assistant))
	require.NoError(t, c.Append(types.NewToolMessage("m2", "call-1", "getWeather", `{"temp":72}`)))

	dup := types.NewToolMessage("m3", "call-1", "getWeather", `{"temp":73}`)
	err := c.Append(dup)
	assert.Error(t, err, "a tool call id must not be answered twice")
}

func TestTruncate_IsIdempotent(t *testing.T) {
	c := New()
	require.NoError(t, c.Append(types.NewUserMessage("m1", "hello")))
	require.NoError(t, c.Append(types.NewAssistantMessage("m2", "hi there", nil)))

	keepUserOnly := func(m types.ChatMessage) bool { return m.Role == types.RoleUser }
	c.Truncate(keepUserOnly)
	assert.Equal(t, 1, c.Len())

	c.Truncate(keepUserOnly)
	assert.Equal(t, 1, c.Len(), "truncating again with the same predicate must be a no-op")
}

func TestReplaceLast_OnlyMatchesLastMessage(t *testing.T) {
	c := New()
	require.NoError(t, c.Append(types.NewUserMessage("m1", "hello")))
	require.NoError(t, c.Append(types.NewAssistantMessage("m2", "hi there, how can I", nil)))

	ok := c.ReplaceLast("m2", "hi there, how can I")
	assert.True(t, ok)

	ok = c.ReplaceLast("m1", "ignored")
	assert.False(t, ok, "m1 is not the last message")
}

func TestJSONRoundTrip_PreservesInvariants(t *testing.T) {
	c := New()
	require.NoError(t, c.Append(types.NewUserMessage("m1", "hi")))
	assistant := types.NewAssistantMessage("m2", "", []types.ToolCall{
		{ID: "call-1", Name: "getWeather", Arguments: json.RawMessage(`{}`)},
	})
	require.NoError(t, c.Append(assistant))
	require.NoError(t, c.Append(types.NewToolMessage("m3", "call-1", "getWeather", `{"temp":72}`)))

	data, err := json.Marshal(c)
	require.NoError(t, err)

	restored := New()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, c.Snapshot(), restored.Snapshot())
}

func TestJSONRoundTrip_RejectsBrokenInvariant(t *testing.T) {
	// A hand-crafted payload with an orphaned tool message must fail to
	// restore even though it deserializes as valid JSON.
	broken := []types.ChatMessage{
		types.NewUserMessage("m1", "hi"),
		types.NewToolMessage("m2", "call-1", "getWeather", `{}`),
	}
	data, err := json.Marshal(broken)
	require.NoError(t, err)

	restored := New()
	err = restored.UnmarshalJSON(data)
	assert.Error(t, err)
}
