package convo

import (
	"encoding/json"
	"time"
)

// Role of a message author
type Role string

// roles
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message 一条对话消息
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage returns a message stamped with the current time, ID is left to the caller.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now().UTC()}
}

type Messages []Message

// Clone returns a copy that shares no backing array with z.
func (z Messages) Clone() Messages {
	if z == nil {
		return nil
	}
	out := make(Messages, len(z))
	copy(out, z)
	return out
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (z *Message) MarshalBinary() (data []byte, err error) {
	data, err = json.Marshal(z)
	return
}

// UnmarshalBinary unmarshal a binary representation of itself. for redis result.Scan
func (z *Message) UnmarshalBinary(data []byte) error {
	var t Message
	err := json.Unmarshal(data, &t)
	if err == nil {
		*z = t
	}
	return err
}
