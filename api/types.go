package api

import (
	"encoding/json"
	"time"

	"github.com/creastat/widget/chat"
)

const (
	// ActionContinue means the bot keeps answering.
	ActionContinue = "continue"
	// ActionHandoff means the bot asked for a human agent.
	ActionHandoff = "handoff"

	// ReplyAgentAssigned marks a reply to a conversation already owned by an agent.
	ReplyAgentAssigned = "agent_assigned"

	HandoverRequested       = "handover_requested"
	HandoverAlreadyAssigned = "already_assigned"
)

// envelope is the wrapper every backend response uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *errorInfo      `json:"error,omitempty"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StartRequest opens a new conversation.
type StartRequest struct {
	TenantID      string  `json:"tenant_id"`
	Channel       string  `json:"channel"`
	CustomerName  string  `json:"customer_name"`
	CustomerEmail *string `json:"customer_email"`
}

// StartResponse identifies the conversation the backend created.
type StartResponse struct {
	SessionKey     string `json:"session_id"`
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message,omitempty"`
}

// PageMetadata describes the page the visitor is on.
type PageMetadata struct {
	PageURL   string `json:"page_url"`
	PageTitle string `json:"page_title"`
}

// SendRequest posts one visitor message.
type SendRequest struct {
	SessionKey string       `json:"session_id"`
	Message    string       `json:"message"`
	Metadata   PageMetadata `json:"metadata"`
}

// Reply is the immediate answer to a send.
// When Status is ReplyAgentAssigned, MessageID names the visitor's own message
// and Content is a delivery notice.
type Reply struct {
	MessageID     int64     `json:"message_id"`
	Content       string    `json:"content"`
	IsAgent       bool      `json:"is_agent"`
	SenderName    string    `json:"sender_name"`
	Timestamp     time.Time `json:"timestamp"`
	Status        string    `json:"status,omitempty"`
	Action        string    `json:"action,omitempty"`
	HandoffReason string    `json:"handoff_reason,omitempty"`
}

// SenderType maps the reply onto a transcript sender.
func (r Reply) SenderType() chat.SenderType {
	if r.IsAgent {
		return chat.SenderAgent
	}
	return chat.SenderBot
}

// AgentAssigned reports whether the conversation is owned by an agent.
func (r Reply) AgentAssigned() bool {
	return r.Status == ReplyAgentAssigned
}

// Handoff reports whether the bot requested a human agent.
func (r Reply) Handoff() bool {
	return r.Action == ActionHandoff
}

type endRequest struct {
	SessionID int64 `json:"session_id"`
}

// StatusResponse is the server's view of a conversation.
type StatusResponse struct {
	SessionKey     string      `json:"session_id"`
	ConversationID int64       `json:"conversation_id"`
	Status         chat.Status `json:"status"`
	AssignedToID   *int64      `json:"assigned_to_id,omitempty"`
}

// HandoverRequest asks for a human agent.
type HandoverRequest struct {
	SessionKey string `json:"session_id"`
	Reason     string `json:"reason,omitempty"`
}

// HandoverResponse acknowledges a handover request.
type HandoverResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}
