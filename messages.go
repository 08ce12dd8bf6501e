package widget

import "strings"

// Texts shown to the visitor.
const (
	ConnectApology = "Sorry, unable to connect. Please try again later."
	ErrorApology   = "Sorry, I encountered an error. Please try again."
	SendApology    = "Sorry, unable to send message. Please try again."
	EndedNotice    = "Chat ended. Thank you!"
	HandoffNotice  = "Connecting you with a human agent..."
	WaitingNotice  = "Waiting for an agent..."
)

// Appearance defaults.
const (
	DefaultPosition       = "bottom-right"
	DefaultPrimaryColor   = "#4F46E5"
	DefaultTitle          = "Chat with us"
	DefaultSubtitle       = "We typically reply instantly"
	DefaultWelcomeMessage = "Hi! How can I help you today?"
	DefaultPlaceholder    = "Type your message..."
)

func connectedTo(agent string) string {
	return "Connected to " + agentLabel(agent)
}

func transferredTo(agent string) string {
	return "Transferred to " + agentLabel(agent)
}

func agentLabel(agent string) string {
	if agent = strings.TrimSpace(agent); agent != "" {
		return agent
	}
	return "an agent"
}
