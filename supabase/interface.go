package supabase

import (
	"context"
	"errors"
	"time"
)

// ErrWidgetNotFound is returned when the tenant has no enabled widget record.
var ErrWidgetNotFound = errors.New("widget settings not found")

// Store provides the tenant-managed widget settings.
type Store interface {
	// WidgetSettings returns the enabled widget record of a tenant.
	WidgetSettings(ctx context.Context, tenantID string) (*WidgetSettings, error)

	// Close closes the Supabase client and releases resources
	Close() error
}

// WidgetSettings is one row of the chat_widgets table.
type WidgetSettings struct {
	ID              int64     `json:"id"`
	TenantID        string    `json:"tenant_id"`
	WidgetKey       string    `json:"widget_key"`
	Name            string    `json:"name"`
	IsEnabled       bool      `json:"is_enabled"`
	PrimaryColor    string    `json:"primary_color"`
	WidgetPosition  string    `json:"widget_position"`
	WelcomeMessage  string    `json:"welcome_message"`
	PlaceholderText string    `json:"placeholder_text"`
	ShowAgentTyping *bool     `json:"show_agent_typing"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AgentTypingVisible reports whether agent typing indicators should be shown.
// A missing column means yes.
func (w WidgetSettings) AgentTypingVisible() bool {
	return w.ShowAgentTyping == nil || *w.ShowAgentTyping
}
