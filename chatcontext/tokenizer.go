package chatcontext

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/voiceagent/runtime/types"
)

// modelEncodings maps an LLM model name to its tiktoken encoding and
// context window, grounded on llm/tokenizer/tiktoken.go's modelEncodings
// table.
var modelEncodings = map[string]struct {
	encoding  string
	maxTokens int
}{
	"gpt-4o":        {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4o-mini":   {encoding: "o200k_base", maxTokens: 128000},
	"gpt-4-turbo":   {encoding: "cl100k_base", maxTokens: 128000},
	"gpt-4":         {encoding: "cl100k_base", maxTokens: 8192},
	"gpt-3.5-turbo": {encoding: "cl100k_base", maxTokens: 16385},
}

const defaultEncoding = "cl100k_base"
const defaultMaxTokens = 8192

// TokenCounter estimates the token cost of a chat history against a
// model's context window, so a long-running call can be trimmed before
// it overflows the LLM provider's limit (spec.md §4.7 turn history is
// unbounded in principle; a voice call can run far longer than a typical
// chat session).
type TokenCounter struct {
	model     string
	encoding  string
	maxTokens int

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTokenCounter builds a TokenCounter for model, falling back to the
// cl100k_base encoding and an 8192-token window for an unrecognized
// model rather than failing outright.
func NewTokenCounter(model string) *TokenCounter {
	info, ok := modelEncodings[model]
	if !ok {
		info = struct {
			encoding  string
			maxTokens int
		}{encoding: defaultEncoding, maxTokens: defaultMaxTokens}
	}
	return &TokenCounter{model: model, encoding: info.encoding, maxTokens: info.maxTokens}
}

func (t *TokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// MaxTokens returns model's context window size.
func (t *TokenCounter) MaxTokens() int {
	return t.maxTokens
}

// CountMessages estimates msgs' total token cost using the same
// per-message overhead accounting as llm/tokenizer/tiktoken.go's
// CountMessages, rendering the tool-call portion of an assistant message
// through its arguments text.
func (t *TokenCounter) CountMessages(msgs []types.ChatMessage) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	total := 3 // conversation-end overhead
	for _, m := range msgs {
		total += 4 // per-message role/delimiter overhead
		total += len(t.enc.Encode(string(m.Role), nil, nil))
		total += len(t.enc.Encode(m.Content, nil, nil))
		for _, call := range m.ToolCalls {
			total += len(t.enc.Encode(call.Name, nil, nil))
			total += len(t.enc.Encode(string(call.Arguments), nil, nil))
		}
	}
	return total, nil
}

// TrimToBudget drops the oldest messages from c (after any leading
// system message, which is always kept) until c's estimated token count
// fits within counter's context window minus reserve tokens held back
// for the model's next completion. Tool results whose assistant tool call
// was dropped are dropped with it. It returns the number of messages
// dropped.
func (c *Context) TrimToBudget(counter *TokenCounter, reserve int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	budget := counter.MaxTokens() - reserve
	if budget <= 0 {
		return 0, fmt.Errorf("chatcontext: reserve %d exceeds model context window %d", reserve, counter.MaxTokens())
	}

	dropped := 0
	for {
		count, err := counter.CountMessages(c.messages)
		if err != nil {
			return dropped, err
		}
		if count <= budget || len(c.messages) == 0 {
			return dropped, nil
		}

		cut := 0
		if len(c.messages) > 0 && c.messages[0].Role == types.RoleSystem {
			cut = 1
		}
		if cut >= len(c.messages) {
			return dropped, nil
		}
		c.messages = append(c.messages[:cut], c.messages[cut+1:]...)
		dropped++
		// Tool results left at the front lost their assistant tool call.
		for cut < len(c.messages) && c.messages[cut].Role == types.RoleTool {
			c.messages = append(c.messages[:cut], c.messages[cut+1:]...)
			dropped++
		}
	}
}
