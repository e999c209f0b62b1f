// Package chatcontext implements the ordered chat message log a Session
// owns for the lifetime of one call (spec.md §4.7).
package chatcontext

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/voiceagent/runtime/types"
)

// Context is an ordered sequence of types.ChatMessage with the invariant
// that every tool-result message immediately follows the assistant
// message containing the matching tool-call id, and each tool-call id
// appears at most once as a tool result (spec.md §3, §4.7).
//
// Mutated only by the Session's orchestration loop or by tool handlers
// running under the Session's cancellation scope (spec.md §3 Ownership).
type Context struct {
	mu       sync.RWMutex
	messages []types.ChatMessage
}

// New creates an empty chat context.
func New() *Context {
	return &Context{}
}

// Append adds a message to the end of the log, rejecting a tool message
// that would violate the pairing invariant.
func (c *Context) Append(msg types.ChatMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Role == types.RoleTool {
		if err := c.validateToolMessageLocked(msg); err != nil {
			return err
		}
	}
	c.messages = append(c.messages, msg)
	return nil
}

// validateToolMessageLocked enforces: the immediately preceding message is
// an assistant message carrying a tool call with this id, and no earlier
// tool message already answered that id. Caller holds c.mu.
func (c *Context) validateToolMessageLocked(msg types.ChatMessage) error {
	if msg.ToolCallID == "" {
		return fmt.Errorf("chatcontext: tool message missing tool_call_id")
	}
	if len(c.messages) == 0 {
		return fmt.Errorf("chatcontext: tool message %s has no preceding assistant message", msg.ToolCallID)
	}
	prev := c.messages[len(c.messages)-1]
	if prev.Role != types.RoleAssistant || !prev.HasToolCall(msg.ToolCallID) {
		return fmt.Errorf("chatcontext: tool message %s does not immediately follow a matching assistant tool call", msg.ToolCallID)
	}
	for _, m := range c.messages {
		if m.Role == types.RoleTool && m.ToolCallID == msg.ToolCallID {
			return fmt.Errorf("chatcontext: tool call %s already has a result", msg.ToolCallID)
		}
	}
	return nil
}

// Snapshot returns an immutable copy of the current message slice.
func (c *Context) Snapshot() []types.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Truncate removes every message for which keep(msg) returns false,
// keeping relative order. Used on barge-in to cut an assistant message
// down to the portion actually spoken (spec.md §4.4). Calling Truncate
// again with a predicate that rejects nothing already removed is a no-op
// (spec.md §8 idempotence).
func (c *Context) Truncate(keep func(types.ChatMessage) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	filtered := c.messages[:0:0]
	for _, m := range c.messages {
		if keep(m) {
			filtered = append(filtered, m)
		}
	}
	c.messages = filtered
}

// ReplaceLast replaces the content of the last message if it matches id,
// used to truncate a partially-spoken assistant message on barge-in
// without discarding it entirely.
func (c *Context) ReplaceLast(id, newContent string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return false
	}
	last := len(c.messages) - 1
	if c.messages[last].ID != id {
		return false
	}
	c.messages[last].Content = newContent
	return true
}

// MessagesForLLM returns the message slice in the order an LLM provider
// expects it (insertion order already satisfies every provider's ordering
// rules in this runtime's ports; kept as a named seam for future
// provider-specific reordering).
func (c *Context) MessagesForLLM() []types.ChatMessage {
	return c.Snapshot()
}

// Len returns the number of messages currently in the context.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// MarshalJSON serializes the context's messages for persistence/transport.
func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}

// UnmarshalJSON restores a context from a previously serialized message
// slice. The pairing invariant is re-validated message by message so that
// a round-tripped context is never less strict than a freshly built one
// (spec.md §8 round-trip property).
func (c *Context) UnmarshalJSON(data []byte) error {
	var msgs []types.ChatMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	fresh := New()
	for _, m := range msgs {
		if err := fresh.Append(m); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.messages = fresh.messages
	c.mu.Unlock()
	return nil
}
