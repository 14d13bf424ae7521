package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"sheetpilot/engine/internal/llm"
)

// Turn is one atomic unit of conversation history. Immutable once
// appended; the ordering of the slice is the only index.
type Turn struct {
	ID            string         `json:"id"`
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	ToolCalls     []llm.ToolCall `json:"tool_calls,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Conversation is the append-only transcript for one session. The engine
// is the single writer; snapshot reads may happen concurrently (e.g. the
// host rendering the transcript mid-turn) and observe either the pre- or
// post-append state, never a partial turn.
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewConversation() *Conversation {
	return &Conversation{}
}

func (c *Conversation) Append(turn Turn) Turn {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	c.mu.Lock()
	c.turns = append(c.turns, turn)
	c.mu.Unlock()
	return turn
}

func (c *Conversation) Snapshot() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Messages projects the transcript into the provider wire shape, with
// the system instruction prepended. The instruction is recomputed per
// submission (it embeds the active sheet name), so it is never stored as
// a turn.
func (c *Conversation) Messages(systemInstruction string) []llm.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	messages := make([]llm.ChatMessage, 0, len(c.turns)+1)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleSystem, Content: systemInstruction})
	for _, turn := range c.turns {
		messages = append(messages, llm.ChatMessage{
			Role:       turn.Role,
			Content:    turn.Content,
			ToolCalls:  turn.ToolCalls,
			ToolCallID: turn.CorrelationID,
		})
	}
	return messages
}
