package convo

import (
	"encoding/json"
	"time"
)

const (
	DefaultTitle = "New Chat"
)

// Conversation 会话
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`

	// owner account, enforced by the server only
	Owner string `json:"-"`
}

type Conversations []Conversation

// Detail is a conversation with its durable messages
type Detail struct {
	Conversation
	Messages Messages `json:"messages"`
}

type storedConversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Owner     string    `json:"owner"`
}

// MarshalBinary keeps the owner, which is hidden from the JSON API.
func (z *Conversation) MarshalBinary() (data []byte, err error) {
	data, err = json.Marshal(storedConversation(*z))
	return
}

// UnmarshalBinary unmarshal a binary representation of itself. for redis result.Scan
func (z *Conversation) UnmarshalBinary(data []byte) error {
	var t storedConversation
	err := json.Unmarshal(data, &t)
	if err == nil {
		*z = Conversation(t)
	}
	return err
}
