package coordinator

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the retained history of one conversation id.
type Conversation struct {
	ID         string    `json:"id"`
	Messages   []Message `json:"messages"`
	MaxHistory int       `json:"max_history"`
}

// Append adds a message and drops the oldest ones beyond 2*MaxHistory.
func (c *Conversation) Append(role, content string, at time.Time) {
	c.Messages = append(c.Messages, Message{Role: role, Content: content, Timestamp: at})
	if limit := 2 * c.MaxHistory; limit > 0 && len(c.Messages) > limit {
		c.Messages = append([]Message(nil), c.Messages[len(c.Messages)-limit:]...)
	}
}

// Recent returns up to n trailing messages.
func (c *Conversation) Recent(n int) []Message {
	if len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return []Message{}
	}
	return append([]Message(nil), msgs...)
}
