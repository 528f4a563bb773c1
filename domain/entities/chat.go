package entities

import (
	"errors"
	"time"
)

// ChatRole identifies who wrote a turn
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatTurn is a single message of a conversation
type ChatTurn struct {
	Role      ChatRole  `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an append-only sequence of turns for one account
type Conversation struct {
	AccountID     string     `json:"account_id"`
	Turns         []ChatTurn `json:"turns"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

// NewConversation creates an empty conversation
func NewConversation(accountID string) *Conversation {
	return &Conversation{
		AccountID: accountID,
		Turns:     make([]ChatTurn, 0),
		CreatedAt: time.Now(),
	}
}

// Append adds a turn to the end of the conversation
func (c *Conversation) Append(role ChatRole, text string) {
	now := time.Now()
	c.Turns = append(c.Turns, ChatTurn{
		Role:      role,
		Text:      text,
		Timestamp: now,
	})
	c.LastMessageAt = &now
}

// Window returns the most recent limit turns. A limit <= 0 returns everything.
// The window never starts on an assistant turn.
func (c *Conversation) Window(limit int) []ChatTurn {
	turns := c.Turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	for len(turns) > 0 && turns[0].Role == ChatRoleAssistant {
		turns = turns[1:]
	}
	out := make([]ChatTurn, len(turns))
	copy(out, turns)
	return out
}

// Validate checks that every turn has a known role
func (c *Conversation) Validate() error {
	if c.AccountID == "" {
		return errors.New("account_id is required")
	}
	for _, turn := range c.Turns {
		if turn.Role != ChatRoleUser && turn.Role != ChatRoleAssistant {
			return errors.New("invalid chat role")
		}
	}
	return nil
}
