package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/creastat/widget/chat"
	"github.com/creastat/widget/config"
	"github.com/creastat/widget/supabase"
)

// Appearance is the resolved look of a widget.
type Appearance struct {
	Position        string
	PrimaryColor    string
	Title           string
	Subtitle        string
	WelcomeMessage  string
	Placeholder     string
	ShowAgentTyping bool
}

// Widget is one embedded chat widget: the open/closed panel plus the
// conversation behind it.
type Widget struct {
	manager    *Manager
	shell      Shell
	logger     *zap.Logger
	appearance Appearance
	welcome    chat.Message
	settings   supabase.Store
	ownsSet    bool

	mu   sync.Mutex
	open bool
}

// New creates a widget for cfg. Appearance options the embedder left empty
// are taken from the tenant's widget record when a settings source is
// configured, then from built-in defaults. A settings lookup failure only
// logs a warning.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Widget, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	o := buildOptions(opts)

	w := &Widget{
		shell:    o.shell,
		logger:   o.logger.Named("widget"),
		settings: o.settings,
	}
	if w.settings == nil && cfg.Supabase.Enabled() {
		client, err := supabase.New(supabase.Config{
			URL:      cfg.Supabase.URL,
			APIKey:   cfg.Supabase.APIKey,
			CacheTTL: cfg.Supabase.CacheTTL.Duration(),
			Logger:   o.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		w.settings = client
		w.ownsSet = true
	}

	var remote *supabase.WidgetSettings
	if w.settings != nil {
		s, err := w.settings.WidgetSettings(ctx, cfg.TenantID)
		switch {
		case errors.Is(err, supabase.ErrWidgetNotFound):
			w.logger.Info("no widget record for tenant, using defaults", zap.String("tenant_id", cfg.TenantID))
		case err != nil:
			w.logger.Warn("failed to load widget settings, using defaults", zap.Error(err))
		default:
			remote = s
		}
	}
	w.appearance = resolveAppearance(cfg, remote)
	if o.agentTyping != nil {
		w.appearance.ShowAgentTyping = *o.agentTyping
	}

	w.welcome = chat.Message{
		Sender:    chat.SenderBot,
		Body:      w.appearance.WelcomeMessage,
		Timestamp: time.Now(),
	}

	show := w.appearance.ShowAgentTyping
	o.agentTyping = &show
	if o.onClose == nil {
		o.onClose = w.Close
	}
	m, err := newManager(cfg, o)
	if err != nil {
		w.closeSettings()
		return nil, err
	}
	w.manager = m
	return w, nil
}

// resolveAppearance merges embedder options over the tenant record over the
// built-in defaults.
func resolveAppearance(cfg config.Config, remote *supabase.WidgetSettings) Appearance {
	a := Appearance{
		Position:        cfg.Position,
		PrimaryColor:    cfg.PrimaryColor,
		Title:           cfg.Title,
		Subtitle:        cfg.Subtitle,
		WelcomeMessage:  cfg.WelcomeMessage,
		ShowAgentTyping: true,
	}
	if remote != nil {
		firstOf(&a.Position, remote.WidgetPosition)
		firstOf(&a.PrimaryColor, remote.PrimaryColor)
		firstOf(&a.Title, remote.Name)
		firstOf(&a.WelcomeMessage, remote.WelcomeMessage)
		firstOf(&a.Placeholder, remote.PlaceholderText)
		a.ShowAgentTyping = remote.AgentTypingVisible()
	}
	firstOf(&a.Position, DefaultPosition)
	firstOf(&a.PrimaryColor, DefaultPrimaryColor)
	firstOf(&a.Title, DefaultTitle)
	firstOf(&a.Subtitle, DefaultSubtitle)
	firstOf(&a.WelcomeMessage, DefaultWelcomeMessage)
	firstOf(&a.Placeholder, DefaultPlaceholder)
	return a
}

func firstOf(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// Appearance returns the resolved appearance.
func (w *Widget) Appearance() Appearance {
	return w.appearance
}

// Manager returns the lifecycle manager behind the widget.
func (w *Widget) Manager() *Manager {
	return w.manager
}

// IsOpen reports whether the panel is shown.
func (w *Widget) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// Open shows the panel and makes sure a conversation is live.
func (w *Widget) Open(ctx context.Context) error {
	w.setOpen(true)
	return w.manager.Open(ctx)
}

// Close hides the panel. The conversation stays live.
func (w *Widget) Close() {
	w.setOpen(false)
}

// Toggle opens a closed panel and closes an open one.
func (w *Widget) Toggle(ctx context.Context) error {
	if w.IsOpen() {
		w.Close()
		return nil
	}
	return w.Open(ctx)
}

// SendMessage shows the panel and sends text as the visitor.
func (w *Widget) SendMessage(ctx context.Context, text string) error {
	w.setOpen(true)
	return w.manager.Send(ctx, text)
}

// EndChat ends the conversation. The panel closes shortly afterwards.
func (w *Widget) EndChat(ctx context.Context) error {
	return w.manager.End(ctx)
}

// RequestAgent asks for a human agent to take over.
func (w *Widget) RequestAgent(ctx context.Context, reason string) error {
	return w.manager.RequestHandover(ctx, reason)
}

// SetPage records the page the visitor is on.
func (w *Widget) SetPage(url, title string) {
	w.manager.SetPage(url, title)
}

// Status returns the status line under the title, or "".
func (w *Widget) Status() string {
	return w.manager.Status()
}

// Messages returns what the panel shows: the welcome message followed by the
// conversation.
func (w *Widget) Messages() []chat.Message {
	msgs := w.manager.Messages()
	out := make([]chat.Message, 0, len(msgs)+1)
	out = append(out, w.welcome)
	return append(out, msgs...)
}

// Shutdown saves the conversation for a later resume and releases resources.
func (w *Widget) Shutdown(ctx context.Context) error {
	err := w.manager.Shutdown(ctx)
	w.closeSettings()
	return err
}

func (w *Widget) closeSettings() {
	if !w.ownsSet {
		return
	}
	if err := w.settings.Close(); err != nil {
		w.logger.Warn("failed to close settings client", zap.Error(err))
	}
}

func (w *Widget) setOpen(open bool) {
	w.mu.Lock()
	changed := w.open != open
	w.open = open
	w.mu.Unlock()
	if changed {
		w.shell.VisibilityChanged(open)
	}
}
