package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const ioTimeout = 10 * time.Second

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) {
		if d != nil {
			t.dialer = d
		}
	}
}

// WithBackoff sets the reconnect schedule.
func WithBackoff(b Backoff) Option {
	return func(t *Transport) {
		t.backoff = b
	}
}

// Transport is a reconnecting duplex channel bound to one session key.
//
// Every Open and Close starts a new generation. Dials, read loops and reconnect
// timers remember the generation they were started for and give up as soon as
// it is no longer current, so nothing scheduled before Close can reconnect.
type Transport struct {
	apiURL  string
	dialer  *websocket.Dialer
	backoff Backoff
	logger  *zap.Logger

	mu       sync.Mutex
	key      string
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	conn     *websocket.Conn
	attempt  int
	timer    *time.Timer
	handlers map[uint64]Handler
	nextID   uint64

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a transport for the API origin apiURL. No connection is made
// until Open.
func New(apiURL string, opts ...Option) *Transport {
	t := &Transport{
		apiURL:   apiURL,
		dialer:   &websocket.Dialer{HandshakeTimeout: ioTimeout},
		backoff:  Backoff{Base: DefaultReconnectDelay, Max: DefaultReconnectDelay},
		logger:   zap.NewNop(),
		handlers: make(map[uint64]Handler),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("realtime")
	return t
}

// Subscribe registers h for channel events and returns a function that
// removes it.
func (t *Transport) Subscribe(h Handler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = h
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, id)
	}
}

// Open binds the transport to sessionKey and connects in the background.
// It is a no-op when sessionKey is empty or the transport is already bound.
func (t *Transport) Open(sessionKey string) {
	sessionKey = strings.TrimSpace(sessionKey)
	if sessionKey == "" {
		return
	}

	t.mu.Lock()
	if t.key != "" {
		t.mu.Unlock()
		return
	}
	t.key = sessionKey
	t.gen++
	t.attempt = 0
	t.ctx, t.cancel = context.WithCancel(context.Background())
	gen, ctx := t.gen, t.ctx
	t.wg.Add(1)
	t.mu.Unlock()

	go t.connect(ctx, gen, sessionKey)
}

// SessionKey returns the key the transport is bound to, or "".
func (t *Transport) SessionKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key
}

// Connected reports whether a channel is currently up.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Close unbinds the transport, cancels any pending reconnect and closes the
// channel. It does not wait for background goroutines; use Wait for that.
func (t *Transport) Close() {
	t.mu.Lock()
	t.key = ""
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.timer != nil {
		if t.timer.Stop() {
			t.wg.Done()
		}
		t.timer = nil
	}
	conn := t.conn
	t.conn = nil
	handlers := t.handlersLocked()
	t.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(500*time.Millisecond))
	_ = conn.Close()
	for _, h := range handlers {
		h.OnDisconnect(nil)
	}
}

// Wait blocks until every dial, read loop and reconnect timer started before
// the last Close has finished.
func (t *Transport) Wait() {
	t.wg.Wait()
}

// Ping sends a liveness frame.
func (t *Transport) Ping(ctx context.Context) error {
	return t.writeJSON(ctx, outbound{Type: TypePing})
}

func (t *Transport) writeJSON(ctx context.Context, v any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(ioTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// connect dials and then runs the read loop for generation gen.
// The caller has already added to wg.
func (t *Transport) connect(ctx context.Context, gen uint64, key string) {
	defer t.wg.Done()

	target, err := ChannelURL(t.apiURL, key)
	if err != nil {
		t.logger.Error("cannot derive channel url", zap.Error(err))
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, ioTimeout)
	conn, _, err := t.dialer.DialContext(dialCtx, target, nil)
	cancel()
	if err != nil {
		t.logger.Debug("dial failed", zap.String("url", target), zap.Error(err))
		t.scheduleReconnect(gen)
		return
	}

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.attempt = 0
	handlers := t.handlersLocked()
	t.mu.Unlock()

	t.logger.Debug("connected", zap.String("url", target))
	for _, h := range handlers {
		h.OnConnect()
	}

	t.readLoop(gen, conn)
}

func (t *Transport) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.dropConn(gen, conn, err)
			return
		}
		t.dispatch(data)
	}
}

// dropConn handles an unexpected end of conn. Channels closed by Close are
// already detached and are ignored here.
func (t *Transport) dropConn(gen uint64, conn *websocket.Conn, cause error) {
	_ = conn.Close()

	t.mu.Lock()
	if gen != t.gen || t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	handlers := t.handlersLocked()
	t.mu.Unlock()

	t.logger.Debug("channel dropped", zap.Error(cause))
	for _, h := range handlers {
		h.OnDisconnect(cause)
	}
	t.scheduleReconnect(gen)
}

// scheduleReconnect arms a single reconnect timer if gen is still current and
// a session key is still bound.
func (t *Transport) scheduleReconnect(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || t.key == "" {
		return
	}

	delay := t.backoff.Delay(t.attempt)
	t.attempt++
	t.wg.Add(1)
	t.timer = time.AfterFunc(delay, func() { t.reconnect(gen) })
	t.logger.Debug("reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", t.attempt))
}

// reconnect re-checks the guard at fire time; Close may have run after the
// timer was armed.
func (t *Transport) reconnect(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.key == "" {
		t.mu.Unlock()
		t.wg.Done()
		return
	}
	t.timer = nil
	key, ctx := t.key, t.ctx
	t.mu.Unlock()

	t.connect(ctx, gen, key)
}

func (t *Transport) dispatch(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.logger.Debug("dropping undecodable frame", zap.Error(err))
		return
	}

	t.mu.Lock()
	handlers := t.handlersLocked()
	t.mu.Unlock()

	switch frame.Type {
	case TypeMessageNew, TypeMessage:
		var msg ChatMessage
		if !t.decode(frame, &msg) {
			return
		}
		for _, h := range handlers {
			h.OnMessage(msg)
		}
	case TypeSessionAssigned:
		var a Assignment
		if !t.decode(frame, &a) {
			return
		}
		for _, h := range handlers {
			h.OnAssigned(a)
		}
	case TypeTyping:
		var ty Typing
		if !t.decode(frame, &ty) {
			return
		}
		for _, h := range handlers {
			h.OnTyping(ty)
		}
	case TypeSessionEnded:
		var s SessionState
		if !t.decode(frame, &s) {
			return
		}
		for _, h := range handlers {
			h.OnSessionEnded(s)
		}
	case TypeTransferred:
		var a Assignment
		if !t.decode(frame, &a) {
			return
		}
		for _, h := range handlers {
			h.OnTransferred(a)
		}
	case TypePong:
	default:
		t.logger.Debug("ignoring frame", zap.String("type", frame.Type))
	}
}

func (t *Transport) decode(frame Frame, v any) bool {
	if len(frame.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(frame.Payload, v); err != nil {
		t.logger.Debug("dropping frame with bad payload", zap.String("type", frame.Type), zap.Error(err))
		return false
	}
	return true
}

func (t *Transport) handlersLocked() []Handler {
	out := make([]Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		out = append(out, h)
	}
	return out
}
