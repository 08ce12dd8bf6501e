package chat

import (
	"html"
	"time"
)

// SenderType identifies who authored a transcript entry.
type SenderType string

const (
	SenderVisitor SenderType = "visitor"
	SenderBot     SenderType = "bot"
	SenderAgent   SenderType = "agent"
	SenderSystem  SenderType = "system"
)

// Status is the server-side state of a conversation.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusAbandoned Status = "abandoned"
)

// Live reports whether a conversation in this status can still be resumed.
func (s Status) Live() bool {
	return s == StatusActive || s == StatusQueued
}

// Message represents a single transcript entry.
// ID is the server-assigned identity and is zero for entries the server has not
// confirmed yet. LocalID is set on entries created on this side of the wire.
type Message struct {
	ID         int64      `json:"id,omitempty"`
	LocalID    string     `json:"local_id,omitempty"`
	Sender     SenderType `json:"type"`
	SenderName string     `json:"sender_name,omitempty"`
	Body       string     `json:"content"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Provisional reports whether the message still lacks a server identity.
func (m Message) Provisional() bool {
	return m.ID == 0
}

// EscapedBody returns the body ready to be placed into HTML markup.
func (m Message) EscapedBody() string {
	return html.EscapeString(m.Body)
}
