package widget

import (
	"time"

	"go.uber.org/zap"

	"github.com/creastat/widget/chat"
	"github.com/creastat/widget/session"
	"github.com/creastat/widget/supabase"
)

// Shell renders the widget. Every method is called synchronously and must
// return quickly; callbacks may arrive from background goroutines.
type Shell interface {
	chat.Observer
	TypingChanged(visible bool)
	StatusChanged(text string)
	VisibilityChanged(open bool)
}

// NopShell renders nothing. Embed it to implement part of Shell.
type NopShell struct{}

func (NopShell) MessageAppended(chat.Message)      {}
func (NopShell) TranscriptReplaced([]chat.Message) {}
func (NopShell) TypingChanged(bool)                {}
func (NopShell) StatusChanged(string)              {}
func (NopShell) VisibilityChanged(bool)            {}

// Option is a functional option for configuring a Manager or a Widget.
type Option func(*options)

type options struct {
	logger      *zap.Logger
	shell       Shell
	store       session.Store
	exchange    Exchange
	channel     Channel
	settings    supabase.Store
	now         func() time.Time
	agentTyping *bool
	onClose     func()
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithShell sets the presentation shell.
func WithShell(shell Shell) Option {
	return func(o *options) {
		o.shell = shell
	}
}

// WithStore replaces the session cache built from the config.
// The caller keeps ownership and closes it.
func WithStore(store session.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithExchange replaces the HTTP exchange client.
func WithExchange(exchange Exchange) Option {
	return func(o *options) {
		o.exchange = exchange
	}
}

// WithChannel replaces the realtime transport.
func WithChannel(channel Channel) Option {
	return func(o *options) {
		o.channel = channel
	}
}

// WithSettings sets the source of tenant-managed widget settings.
func WithSettings(settings supabase.Store) Option {
	return func(o *options) {
		o.settings = settings
	}
}

// WithClock replaces time.Now in the session cache.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithAgentTyping turns agent typing indicators from the channel on or off.
func WithAgentTyping(visible bool) Option {
	return func(o *options) {
		o.agentTyping = &visible
	}
}

// WithCloseRequest sets the function called a short while after a chat ends.
func WithCloseRequest(fn func()) Option {
	return func(o *options) {
		o.onClose = fn
	}
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.shell == nil {
		o.shell = NopShell{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}
