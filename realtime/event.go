package realtime

import (
	"encoding/json"
	"time"

	"github.com/creastat/widget/chat"
)

// Frame types understood by the widget channel.
const (
	TypeMessageNew      = "chat.message.new"
	TypeMessage         = "chat.message"
	TypeSessionAssigned = "chat.session.assigned"
	TypeSessionEnded    = "chat.session.ended"
	TypeTransferred     = "chat.transferred"
	TypeTyping          = "chat.typing"
	TypePing            = "ping"
	TypePong            = "pong"
)

// Frame is the JSON envelope of every channel message.
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	TenantID  string          `json:"tenant_id,omitempty"`
}

// ChatMessage is a message pushed by the server.
type ChatMessage struct {
	SessionID  int64           `json:"session_id"`
	MessageID  int64           `json:"message_id"`
	SenderID   int64           `json:"sender_id,omitempty"`
	SenderType chat.SenderType `json:"sender_type"`
	SenderName string          `json:"sender_name"`
	Body       string          `json:"body"`
	Timestamp  string          `json:"timestamp"`
}

// Message converts the push into a transcript entry.
func (m ChatMessage) Message() chat.Message {
	msg := chat.Message{
		ID:         m.MessageID,
		Sender:     m.SenderType,
		SenderName: m.SenderName,
		Body:       m.Body,
	}
	if ts, err := time.Parse(time.RFC3339Nano, m.Timestamp); err == nil {
		msg.Timestamp = ts
	}
	return msg
}

// Assignment reports which agent owns the conversation.
type Assignment struct {
	SessionID int64       `json:"session_id"`
	AgentID   int64       `json:"agent_id,omitempty"`
	AgentName string      `json:"agent_name,omitempty"`
	Status    chat.Status `json:"status,omitempty"`
}

// SessionState is the payload of a server-side session change.
type SessionState = Assignment

// Typing is a typing indicator update.
type Typing struct {
	SessionID  int64           `json:"session_id"`
	SenderType chat.SenderType `json:"sender_type"`
	SenderName string          `json:"sender_name"`
	IsTyping   bool            `json:"is_typing"`
}

// AgentTyping reports whether an agent is typing right now.
func (t Typing) AgentTyping() bool {
	return t.SenderType == chat.SenderAgent && t.IsTyping
}

type outbound struct {
	Type string `json:"type"`
}
